package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	bidigo "github.com/webdriverbidi/bidigo"
)

var watchDuration time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <ws-url> <method...>",
	Short: "Subscribe to one or more event methods and print each delivery",
	Long:  "Streams events until --duration elapses or the process receives an interrupt.",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDuration, "duration", 0, "Stop after this long (0 means until interrupted)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	wsURL, methods := args[0], args[1:]

	startCtx, cancelStart := context.WithTimeout(context.Background(), bidigo.DefaultStartupTimeout)
	defer cancelStart()

	session := bidigo.NewSession(bidigo.DefaultConfig(), bidigo.RawCodec{})
	if err := session.Start(startCtx, wsURL); err != nil {
		return outputError("start session: " + err.Error())
	}
	defer session.Stop()

	handler := newEventPrinter()

	for _, method := range methods {
		sub, err := session.On(method, handler)
		if err != nil {
			return outputError(err.Error())
		}
		defer session.Off(sub)
	}

	fmt.Fprintf(os.Stderr, "watching %v, press ctrl-c to stop\n", methods)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	if watchDuration > 0 {
		select {
		case <-time.After(watchDuration):
		case <-sigCh:
		}
		return nil
	}

	<-sigCh
	return nil
}

// newEventPrinter picks the watch subcommand's output mode based on
// whether stdout is an interactive terminal: a colorized live feed for a
// human watching the screen, or one compact JSON object per line when
// stdout is redirected or piped, so downstream tools get line-buffered
// output they can parse without reassembling a pretty-printed struct.
func newEventPrinter() bidigo.EventHandler {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(os.Stdout)
		return func(evt bidigo.EventMessage) {
			_ = enc.Encode(map[string]any{"method": evt.Method, "params": json.RawMessage(evt.Params)})
		}
	}

	return func(evt bidigo.EventMessage) {
		color.New(color.FgCyan, color.Bold).Fprintf(os.Stdout, "<- %s\n", evt.Method)
		fmt.Fprintf(os.Stdout, "   %s\n", evt.Params)
	}
}
