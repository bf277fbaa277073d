package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"callsignal-backend/pkg/constants"
	"callsignal-backend/pkg/env"
	"callsignal-backend/pkg/logger"
)

type globalOptions struct {
	server       string
	token        string
	logLevel     string
	pollInterval time.Duration
	iceServers   []string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:          "callctl",
		Short:        "Place and answer calls through the signaling service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(&logger.Config{
				Level:  opts.logLevel,
				Format: "text",
				Output: "stdout",
			})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", env.GetString("CALLCTL_SERVER", "http://localhost:8083"), "signaling service base URL")
	flags.StringVar(&opts.token, "token", env.GetString("CALLCTL_TOKEN", ""), "bearer access token")
	flags.StringVar(&opts.logLevel, "log-level", env.GetString("LOG_LEVEL", "info"), "debug, info, warn or error")
	flags.DurationVar(&opts.pollInterval, "poll-interval", constants.PollInterval, "signaling poll interval")
	flags.StringSliceVar(&opts.iceServers, "ice-server", env.GetStringSlice("CALLCTL_ICE_SERVERS", nil), "STUN/TURN server URL (repeatable)")

	root.AddCommand(
		newCallCommand(opts),
		newAnswerCommand(opts),
		newTokenCommand(),
	)
	return root
}

func (o *globalOptions) requireToken() error {
	if o.token == "" {
		return fmt.Errorf("an access token is required (--token or CALLCTL_TOKEN)")
	}
	return nil
}
