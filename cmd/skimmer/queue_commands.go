package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"skimmer/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and feed the job queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueSubmitCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending and running jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			resp, err := client.Queue(cmd.Context())
			if err != nil {
				if api.IsUnavailable(err) {
					return fmt.Errorf("daemon is not reachable; start it with `skimmer daemon`")
				}
				return err
			}
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					shortID(job.ID),
					job.Type,
					job.Status,
					fmt.Sprintf("%d/%d", job.ProcessedItems, job.TotalItems),
					job.CreatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Type", "Status", "Progress", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newQueueSubmitCommand(ctx *commandContext) *cobra.Command {
	var jobType string
	var params []string
	var paramsFile string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job for asynchronous execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			parsed, err := loadParamsFile(paramsFile)
			if err != nil {
				return err
			}
			flagParams, err := parseParams(params)
			if err != nil {
				return err
			}
			// -p flags override file-provided values.
			for key, value := range flagParams {
				if parsed == nil {
					parsed = make(map[string]any)
				}
				parsed[key] = value
			}
			resp, err := client.SubmitJob(cmd.Context(), api.SubmitJobRequest{
				Type:   jobType,
				Params: parsed,
			})
			if err != nil {
				if api.IsUnavailable(err) {
					return fmt.Errorf("daemon is not reachable; start it with `skimmer daemon`")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s accepted (%s)\n", resp.ID, resp.Status)
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobType, "type", "t", "", "Job type (required)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Job parameter as key=value; repeatable")
	cmd.Flags().StringVarP(&paramsFile, "params-file", "f", "", "YAML file with job parameters")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// loadParamsFile reads job parameters from a YAML mapping file.
func loadParamsFile(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params file: %w", err)
	}
	params := make(map[string]any)
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse params file %s: %w", path, err)
	}
	return params, nil
}

func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid parameter %q; expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
