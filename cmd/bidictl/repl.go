package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"

	bidigo "github.com/webdriverbidi/bidigo"
)

// repl drives an interactive session against an already-started
// bidigo.Session: a "<method> [json-params]" line issues a command, "watch"/"unwatch" manage event
// subscriptions, and delivered events print asynchronously above the
// prompt.
type repl struct {
	session *bidigo.Session
	line    *liner.State
	history []string
	subs    map[string]bidigo.Subscription
}

func runREPL(session *bidigo.Session) error {
	r := &repl{session: session, subs: make(map[string]bidigo.Subscription)}
	r.line = liner.NewLiner()
	defer r.line.Close()
	r.line.SetCtrlCAborts(true)

	for {
		input, err := r.line.Prompt("bidi> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		r.line.AppendHistory(input)
		r.history = append(r.history, input)

		if r.handleSpecial(input) {
			continue
		}
		r.dispatch(input)
	}
}

func (r *repl) handleSpecial(line string) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "exit", "quit":
		_ = r.session.Stop()
		os.Exit(0)
	case "help", "?":
		r.printHelp()
	case "history":
		for i, cmd := range r.history {
			fmt.Printf("  %d  %s\n", i+1, cmd)
		}
	default:
		return false
	}
	return true
}

// dispatch parses "<method> [json-params]", "watch <method>", or
// "unwatch <method>" and acts on the session.
func (r *repl) dispatch(line string) {
	fields := strings.SplitN(line, " ", 2)
	verb := fields[0]

	switch verb {
	case "watch":
		if len(fields) != 2 {
			printReplError("usage: watch <method>")
			return
		}
		r.watch(strings.TrimSpace(fields[1]))
	case "unwatch":
		if len(fields) != 2 {
			printReplError("usage: unwatch <method>")
			return
		}
		r.unwatch(strings.TrimSpace(fields[1]))
	default:
		r.send(verb, fieldsRest(fields))
	}
}

func fieldsRest(fields []string) string {
	if len(fields) == 2 {
		return strings.TrimSpace(fields[1])
	}
	return ""
}

func (r *repl) send(method, paramsJSON string) {
	var params any
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			printReplError(fmt.Sprintf("invalid params json: %s", err))
			return
		}
	}

	result, err := r.session.Execute(context.Background(), method, params, 0)
	if err != nil {
		printReplError(err.Error())
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
}

func (r *repl) watch(method string) {
	if _, ok := r.subs[method]; ok {
		printReplError(fmt.Sprintf("already watching %s", method))
		return
	}

	sub, err := r.session.On(method, func(evt bidigo.EventMessage) {
		if shouldUseColor() {
			color.New(color.FgCyan).Printf("<- %s ", evt.Method)
			fmt.Println(string(evt.Params))
		} else {
			fmt.Printf("<- %s %s\n", evt.Method, string(evt.Params))
		}
	})
	if err != nil {
		printReplError(err.Error())
		return
	}
	r.subs[method] = sub
}

func (r *repl) unwatch(method string) {
	sub, ok := r.subs[method]
	if !ok {
		printReplError(fmt.Sprintf("not watching %s", method))
		return
	}
	r.session.Off(sub)
	delete(r.subs, method)
}

func printReplError(msg string) {
	if shouldUseColor() {
		color.New(color.FgRed).Fprint(os.Stderr, "error:")
		fmt.Fprintf(os.Stderr, " %s\n", msg)
		return
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", msg)
}

func (r *repl) printHelp() {
	fmt.Println(`
Commands:
  <method> [json-params]   Issue a command and print its result
  watch <method>           Print events delivered for method
  unwatch <method>         Stop watching method
  history                  Show command history
  help, ?                  Show this help
  exit, quit               Close the session and exit`)
}
