package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"retailsync/internal/scheduler"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending count, errors and the queued entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pending, err := app.store.Count(ctx)
		if err != nil {
			return err
		}
		errored, err := app.store.CountErrors(ctx)
		if err != nil {
			return err
		}

		// A running agent knows connectivity and the last pass.
		st := fetchAgentStatus(app.cfg.StatusAddr)
		fmt.Print(renderStatus(pending, errored, st))

		entries, err := app.store.ListPending(ctx, 20)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			fmt.Println(renderQueue(entries))
			if pending > int64(len(entries)) {
				fmt.Println(mutedStyle.Render(fmt.Sprintf("... and %d more (posagent queue list)", pending-int64(len(entries)))))
			}
		}
		return nil
	},
}

func fetchAgentStatus(addr string) *scheduler.Status {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get("http://" + addr + "/status")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		Data scheduler.Status `json:"data"`
	}
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&body) != nil {
		return nil
	}
	return &body.Data
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and repair the local sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued entries in sync order",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		entries, err := app.store.ListPending(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		fmt.Println(renderQueue(entries))
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <entry-id>",
	Short: "Clear an entry's error so the next pass sends it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.store.Retry(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println(okStyle.Render("✓") + " " + args[0] + " will be retried on the next sync")
		return nil
	},
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <entry-id>",
	Short: "Drop an entry without sending it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := app.store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := app.store.Discard(cmd.Context(), e.ID); err != nil {
			return err
		}
		fmt.Println(warnStyle.Render("discarded") + " " + e.ID + " (" + string(e.Operation) + " " + e.Key().String() + ")")
		return nil
	},
}

func init() {
	queueListCmd.Flags().Int("limit", 0, "Show at most this many entries")
	queueListCmd.Flags().Bool("json", false, "Print entries as JSON")

	queueCmd.AddCommand(queueListCmd, queueRetryCmd, queueDiscardCmd)
	rootCmd.AddCommand(statusCmd, queueCmd)
}
