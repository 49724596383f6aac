package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version is set at build time.
var Version = "dev"

// Debug enables verbose debug output on stderr.
var Debug bool

// JSONOutput switches command output from text to JSON.
var JSONOutput bool

// NoColor disables color output regardless of terminal support.
var NoColor bool

var rootCmd = &cobra.Command{
	Use:           "bidictl",
	Short:         "WebDriver BiDi command-line client",
	Long:          "bidictl launches or attaches to a BiDi-capable browser session, issues commands, and streams subscribed events to the terminal.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "Enable verbose debug output")
	rootCmd.PersistentFlags().BoolVar(&JSONOutput, "json", false, "Output in JSON format (default is text)")
	rootCmd.PersistentFlags().BoolVar(&NoColor, "no-color", false, "Disable color output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// printedErr marks an error whose message has already been written to
// stderr, so main should not print it a second time.
type printedErr struct{ err error }

func (p printedErr) Error() string { return p.err.Error() }
func (p printedErr) Unwrap() error { return p.err }

// IsPrintedError reports whether err was already reported to the user.
func IsPrintedError(err error) bool {
	var p printedErr
	return errors.As(err, &p)
}

func debugf(format string, args ...any) {
	if Debug {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

func shouldUseColor() bool {
	if JSONOutput || NoColor {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func outputJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}

func outputResult(data any) error {
	if JSONOutput {
		return outputJSON(os.Stdout, map[string]any{"ok": true, "data": data})
	}
	if data == nil {
		if shouldUseColor() {
			color.New(color.FgGreen).Fprintln(os.Stdout, "OK")
		} else {
			fmt.Fprintln(os.Stdout, "OK")
		}
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func outputError(msg string) error {
	if JSONOutput {
		_ = outputJSON(os.Stderr, map[string]any{"ok": false, "error": msg})
	} else if shouldUseColor() {
		color.New(color.FgRed).Fprint(os.Stderr, "Error:")
		fmt.Fprintf(os.Stderr, " %s\n", msg)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	return printedErr{errors.New(msg)}
}
