package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

type commandContext struct {
	server  string
	timeout time.Duration
	json    bool
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(c.server, c.timeout)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "recorderctl",
		Short:         "Manage the chzzk recorder",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := strings.TrimSpace(os.Getenv("RECORDER_URL"))
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&ctx.server, "server", server, "Recorder base URL (env RECORDER_URL)")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&ctx.json, "json", false, "Print raw JSON")

	rootCmd.AddCommand(newChannelsCommand(ctx))
	rootCmd.AddCommand(newStopCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newStatesCommand(ctx))
	rootCmd.AddCommand(newRecordingsCommand(ctx))
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newCredentialsCommand(ctx))

	return rootCmd
}
