// Command posagent is the point-of-sale sync agent. It records sales and
// catalog edits locally and drains them to the retailsync server whenever
// the register is online.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"retailsync/internal/config"
	"retailsync/internal/localstore"
	"retailsync/internal/logging"

	"github.com/spf13/cobra"
)

// agent holds what every command needs once the root pre-run has opened it.
type agent struct {
	cfg       *config.AgentConfig
	store     *localstore.Store
	clientID  string
	logCloser io.Closer
}

var app agent

var rootCmd = &cobra.Command{
	Use:           "posagent",
	Short:         "Offline-first point-of-sale sync agent",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `posagent keeps a durable local queue of every sale and catalog edit made
at this register and reconciles it with the retailsync server.

Configuration comes from AGENT_* environment variables (or a .env file).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadAgent()
		if err != nil {
			return err
		}
		if path, _ := cmd.Flags().GetString("queue"); path != "" {
			cfg.QueuePath = path
		}
		app.cfg = cfg
		app.logCloser = logging.Setup(cfg.Log)

		store, err := localstore.Open(cfg.QueuePath)
		if err != nil {
			return err
		}
		app.store = store

		app.clientID = cfg.ClientID
		if app.clientID == "" {
			if app.clientID, err = store.ClientID(cmd.Context()); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app.store != nil {
			app.store.Close()
		}
		if app.logCloser != nil {
			app.logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("queue", "", "Path to the local queue database (overrides AGENT_QUEUE_PATH)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		if app.store != nil {
			app.store.Close()
		}
		os.Exit(1)
	}
}
