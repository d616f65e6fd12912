package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"chzzk-recorder/internal/orchestrator"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newChannelsCommand(ctx *commandContext) *cobra.Command {
	channelsCmd := &cobra.Command{
		Use:   "channels",
		Short: "List and manage monitored channels",
	}
	channelsCmd.AddCommand(newChannelsListCommand(ctx))
	channelsCmd.AddCommand(newChannelsAddCommand(ctx))
	channelsCmd.AddCommand(newChannelsRemoveCommand(ctx))
	return channelsCmd
}

func newChannelsListCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if all {
				q.Set("all", "true")
			}
			var channels []orchestrator.Channel
			if err := ctx.client().get(cmd.Context(), "/channels", q, &channels); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, channels)
			}
			printChannels(cmd, channels)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include deactivated channels")
	return cmd
}

func printChannels(cmd *cobra.Command, channels []orchestrator.Channel) {
	out := cmd.OutOrStdout()
	if len(channels) == 0 {
		fmt.Fprintln(out, "No channels")
		return
	}
	rows := make([][]string, 0, len(channels))
	for _, ch := range channels {
		active := "yes"
		if !ch.Active {
			active = "no"
		}
		rows = append(rows, []string{
			strconv.FormatInt(ch.ID, 10),
			ch.DisplayName,
			ch.ChannelID,
			active,
			relTime(ch.LastChecked),
			relTime(ch.LastLive),
		})
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"ID", "Name", "Channel", "Active", "Checked", "Last live"},
		rows,
		[]columnAlignment{alignRight},
	))
}

func newChannelsAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <channel-url>",
		Short: "Start monitoring a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ch orchestrator.Channel
			body := map[string]string{"channel_url": args[0]}
			if err := ctx.client().do(cmd.Context(), http.MethodPost, "/channels", body, &ch); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, ch)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Monitoring %s (%s)\n", ch.DisplayName, ch.ChannelID)
			return nil
		},
	}
}

func newChannelsRemoveCommand(ctx *commandContext) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "remove <channel-id>",
		Short: "Stop monitoring a channel and delete its recording records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/channels/" + url.PathEscape(args[0])
			if purge {
				path += "?purge=true"
			}
			if err := ctx.client().do(cmd.Context(), http.MethodDelete, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "Delete the channel instead of deactivating it")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <channel-id>",
		Short: "Stop the channel's current recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				Result string `json:"result"`
				Reason string `json:"reason"`
			}
			path := "/channels/" + url.PathEscape(args[0]) + "/stop"
			if err := ctx.client().do(cmd.Context(), http.MethodPost, path, nil, &res); err != nil {
				return err
			}
			if res.Result == "no_action" {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing to stop: %s\n", res.Reason)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stopping; the recording will be finalized")
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <channel-id>",
		Short: "Check whether a channel is live now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st orchestrator.ChannelStatus
			path := "/channels/" + url.PathEscape(args[0]) + "/status"
			if err := ctx.client().get(cmd.Context(), path, nil, &st); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, st)
			}
			out := cmd.OutOrStdout()
			name := st.Channel.DisplayName
			if name == "" {
				name = st.Channel.ChannelID
			}
			if st.Live {
				fmt.Fprintf(out, "%s is live: %s\n", name, st.Title)
			} else {
				fmt.Fprintf(out, "%s is offline (last live %s)\n", name, relTime(st.Channel.LastLive))
			}
			fmt.Fprintf(out, "Recording: %s\n", describeState(st.Recording))
			return nil
		},
	}
}

func newStatesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "states",
		Short: "Show the recording state of every tracked channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var states []orchestrator.RecordingState
			if err := ctx.client().get(cmd.Context(), "/states", nil, &states); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, states)
			}
			out := cmd.OutOrStdout()
			if len(states) == 0 {
				fmt.Fprintln(out, "No channels are recording")
				return nil
			}
			rows := make([][]string, 0, len(states))
			for _, st := range states {
				rows = append(rows, []string{st.ChannelID, describeState(st), st.Title})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Channel", "State", "Title"}, rows, nil))
			return nil
		},
	}
}

func describeState(st orchestrator.RecordingState) string {
	switch st.State {
	case orchestrator.StateCapturing:
		return fmt.Sprintf("capturing since %s (pid %d)", humanize.Time(st.StartedAt), st.PID)
	case orchestrator.StateFinalizing:
		return "finalizing"
	default:
		return "idle"
	}
}

func newRecordingsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recordings [channel-id]",
		Short: "List recordings, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/recordings"
			if len(args) == 1 {
				path = "/channels/" + url.PathEscape(args[0]) + "/recordings"
			}
			var assets []orchestrator.RecordingAsset
			if err := ctx.client().get(cmd.Context(), path, nil, &assets); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, assets)
			}
			out := cmd.OutOrStdout()
			if len(assets) == 0 {
				fmt.Fprintln(out, "No recordings")
				return nil
			}
			rows := make([][]string, 0, len(assets))
			for _, a := range assets {
				rows = append(rows, []string{
					a.CreatedAt.Local().Format("2006-01-02 15:04"),
					string(a.Status),
					a.Title,
					a.RelativePath,
				})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Started", "Status", "Title", "Path"}, rows, nil))
			return nil
		},
	}
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <video-no>",
		Short: "List the quality variants of a VOD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoNo, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || videoNo <= 0 {
				return fmt.Errorf("invalid video number %q", args[0])
			}
			var res orchestrator.VideoVariants
			if err := ctx.client().get(cmd.Context(), fmt.Sprintf("/videos/%d/variants", videoNo), nil, &res); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, res)
			}
			out := cmd.OutOrStdout()
			if res.Title != "" {
				fmt.Fprintln(out, res.Title)
			}
			rows := make([][]string, 0, len(res.Variants))
			for _, v := range res.Variants {
				size, rate := "-", "-"
				if v.Width > 0 && v.Height > 0 {
					size = fmt.Sprintf("%dx%d", v.Width, v.Height)
				}
				if v.BandwidthBps > 0 {
					rate = humanize.SIWithDigits(float64(v.BandwidthBps), 1, "bps")
				}
				rows = append(rows, []string{v.Label, size, rate, v.SourceURL})
			}
			fmt.Fprintln(out, renderTable(out,
				[]string{"Quality", "Size", "Bandwidth", "URL"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newCredentialsCommand(ctx *commandContext) *cobra.Command {
	credsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the NID cookies used for API calls and captures",
	}

	var aut, ses string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the NID_AUT and NID_SES cookies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if aut == "" {
				aut = os.Getenv("NID_AUT")
			}
			if ses == "" {
				ses = os.Getenv("NID_SES")
			}
			if aut == "" || ses == "" {
				return fmt.Errorf("both --nid-aut and --nid-ses are required")
			}
			body := orchestrator.Credentials{NIDAut: aut, NIDSes: ses}
			if err := ctx.client().do(cmd.Context(), http.MethodPut, "/credentials", body, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Credentials updated")
			return nil
		},
	}
	setCmd.Flags().StringVar(&aut, "nid-aut", "", "NID_AUT cookie (env NID_AUT)")
	setCmd.Flags().StringVar(&ses, "nid-ses", "", "NID_SES cookie (env NID_SES)")
	credsCmd.AddCommand(setCmd)
	return credsCmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
