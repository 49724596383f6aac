package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	bidigo "github.com/webdriverbidi/bidigo"
	"github.com/webdriverbidi/bidigo/browser"
)

var (
	launchKind     string
	launchHeadless bool
	launchPort     int
	connectTimeout time.Duration
)

var connectCmd = &cobra.Command{
	Use:   "connect [ws-url]",
	Short: "Open a BiDi session and start an interactive REPL",
	Long: "Connects to an existing BiDi WebSocket URL, or launches a browser and negotiates " +
		"one with --launch, then drops into an interactive REPL for issuing commands and " +
		"watching events.",
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().StringVar(&launchKind, "launch", "", "Launch a browser of this kind (firefox) instead of dialing an existing url")
	connectCmd.Flags().BoolVar(&launchHeadless, "headless", false, "Launch headless (used with --launch)")
	connectCmd.Flags().IntVar(&launchPort, "port", browser.DefaultPort, "Remote agent port (used with --launch)")
	connectCmd.Flags().DurationVar(&connectTimeout, "timeout", 10*time.Second, "Startup timeout")
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	wsURL := ""
	if len(args) == 1 {
		wsURL = args[0]
	}

	var instance *browser.Instance
	if launchKind != "" {
		kind, err := parseKind(launchKind)
		if err != nil {
			return outputError(err.Error())
		}

		instance, err = browser.Start(browser.LaunchOptions{Kind: kind, Headless: launchHeadless, Port: launchPort})
		if err != nil {
			return outputError("launch browser: " + err.Error())
		}
		defer instance.Close()

		debugf("launched %s on port %d, pid %d", kind, instance.Port(), instance.PID())

		sess, err := instance.NewSession(ctx, nil)
		if err != nil {
			return outputError("negotiate session: " + err.Error())
		}
		wsURL = sess.WebSocketURL
		defer instance.EndSession(context.Background(), sess)
	}

	if wsURL == "" {
		return outputError("either a websocket url or --launch is required")
	}

	cfg := bidigo.DefaultConfig()
	cfg.LogFunc = logRecordToStderr
	session := bidigo.NewSession(cfg, bidigo.RawCodec{})

	if err := session.Start(ctx, wsURL); err != nil {
		return outputError("start session: " + err.Error())
	}
	defer session.Stop()

	debugf("connected to %s", wsURL)

	return runREPL(session)
}

func parseKind(name string) (browser.BrowserKind, error) {
	switch name {
	case "firefox":
		return browser.Firefox, nil
	case "chrome":
		return browser.Chrome, nil
	default:
		return 0, browser.ErrUnsupportedKind
	}
}

func logRecordToStderr(rec bidigo.LogRecord) {
	if rec.Level == bidigo.LogDebug && !Debug {
		return
	}
	debugf("[%s] %s %v", rec.Component, rec.Message, rec.Fields)
}
