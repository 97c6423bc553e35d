package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"skimmer/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				if api.IsUnavailable(err) {
					fmt.Fprintln(cmd.OutOrStdout(), renderStatusLine("Daemon", statusError, "not running", shouldColorize(cmd.OutOrStdout())))
					return nil
				}
				return err
			}
			printStatus(cmd, status)
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, status api.DaemonStatus) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	lines := renderSectionHeader("Daemon", colorize)

	runningKind := statusError
	runningMsg := "stopped"
	if status.Running {
		runningKind = statusOK
		runningMsg = fmt.Sprintf("pid %d", status.PID)
	}
	lines = append(lines, renderStatusLine("Daemon", runningKind, runningMsg, colorize))

	maintKind := statusOK
	maintMsg := "off"
	if status.Maintenance {
		maintKind = statusWarn
		maintMsg = "on"
	}
	lines = append(lines, renderStatusLine("Maintenance", maintKind, maintMsg, colorize))
	lines = append(lines, renderStatusLine("Job queue", statusInfo,
		fmt.Sprintf("%d queued, paused=%s", status.QueueLength, yesNo(status.QueuePaused)), colorize))
	lines = append(lines, renderStatusLine("Stage depths", statusInfo,
		fmt.Sprintf("acquire=%d transform=%d publish=%d",
			status.AcquireDepth, status.TransformDepth, status.PublishDepth), colorize))

	if len(status.InFlight) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("In flight", colorize)...)
		for _, item := range status.InFlight {
			detail := item.Source
			if item.Retry > 0 {
				detail = fmt.Sprintf("%s (retry %d)", detail, item.Retry)
			}
			lines = append(lines, renderStatusLine(item.Stage, statusInfo, detail, colorize))
		}
	}

	if len(status.Checks) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Preflight", colorize)...)
		for _, check := range status.Checks {
			kind := statusOK
			if !check.Passed {
				kind = statusError
			}
			lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
	}

	fmt.Fprintln(out, strings.Join(lines, "\n"))
}
