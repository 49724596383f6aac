package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	bidigo "github.com/webdriverbidi/bidigo"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <ws-url> <method> <json-params>",
	Short: "Issue a single command against a BiDi WebSocket URL and print the result",
	Args:  cobra.ExactArgs(3),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Second, "Command timeout")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	wsURL, method, paramsJSON := args[0], args[1], args[2]

	var params any
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return outputError("invalid json-params: " + err.Error())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout+bidigo.DefaultStartupTimeout)
	defer cancel()

	session := bidigo.NewSession(bidigo.DefaultConfig(), bidigo.RawCodec{})
	if err := session.Start(ctx, wsURL); err != nil {
		return outputError("start session: " + err.Error())
	}
	defer session.Stop()

	result, err := session.Execute(ctx, method, params, sendTimeout)
	if err != nil {
		return outputError(err.Error())
	}

	return outputResult(result)
}
