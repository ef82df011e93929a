package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"retailsync/internal/logging"
	"retailsync/internal/reconciler"
	"retailsync/internal/scheduler"
	"retailsync/internal/statushub"
	"retailsync/internal/syncclient"

	"github.com/spf13/cobra"
)

func newClient() *syncclient.Client {
	return syncclient.New(syncclient.Config{
		BaseURL:        app.cfg.ServerURL,
		APIKey:         app.cfg.APIKey,
		ClientID:       app.clientID,
		Timeout:        app.cfg.RequestTimeout,
		RequestsPerSec: app.cfg.RequestsPerSec,
	})
}

func newReconciler(client *syncclient.Client) *reconciler.Reconciler {
	return reconciler.New(app.store, client, reconciler.Config{
		ClientID:  app.clientID,
		BatchSize: app.cfg.BatchSize,
		Logger:    logging.New("Reconciler"),
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent: sync on reconnect, on a jittered timer and on demand",
	Long: `Run the agent in the foreground.

The agent probes the server, drains the queue whenever connectivity comes
back, every AGENT_SYNC_INTERVAL (plus up to AGENT_SYNC_JITTER), and when
POST /sync is called on the local status server.

Local status server (AGENT_STATUS_ADDR):
  GET  /status      current sync status
  GET  /status/ws   live status over WebSocket
  GET  /queue       queued entries
  POST /sync        start a pass now`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := newClient()
		hub := statushub.NewHub(logging.New("StatusHub"))
		defer hub.Close()

		publishers := []scheduler.Publisher{hub}
		if app.cfg.RedisAddr != "" {
			rp, err := statushub.NewRedisPublisher(app.cfg.RedisAddr, app.cfg.RedisChannel, app.clientID)
			if err != nil {
				log.Printf("Warning: Redis status publisher disabled: %v", err)
			} else {
				defer rp.Close()
				publishers = append(publishers, rp)
				log.Printf("Publishing status to Redis channel %s", app.cfg.RedisChannel)
			}
		}

		sched := scheduler.New(newReconciler(client), client, app.store, scheduler.Config{
			Interval:      app.cfg.SyncInterval,
			Jitter:        app.cfg.SyncJitter,
			ProbeInterval: app.cfg.ProbeInterval,
			Logger:        logging.New("Scheduler"),
		}, publishers...)
		updates, unsubscribe := sched.Subscribe()
		sched.Start(ctx)
		defer sched.Stop()
		defer unsubscribe()
		go followStatus(updates, scheduler.Status{})

		srv := &http.Server{
			Addr:         app.cfg.StatusAddr,
			Handler:      statushub.NewRouter(sched, hub, app.store),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("Status server listening on %s", app.cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Status server error: %v", err)
			}
		}()

		fmt.Printf("%s client %s syncing to %s\n", titleStyle.Render("posagent running"), app.clientID, app.cfg.ServerURL)
		fmt.Printf("Status: http://%s/status\n", app.cfg.StatusAddr)
		fmt.Println(mutedStyle.Render("Press Ctrl+C to stop..."))

		<-ctx.Done()
		fmt.Println("\nShutting down...")

		// Connections upgraded to WebSocket are not closed by Shutdown.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Status server shutdown error: %v", err)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the queue once and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		ctx := cmd.Context()

		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("server unreachable, entries stay queued: %w", err)
		}

		start := time.Now()
		report, err := newReconciler(client).Drain(ctx)
		fmt.Print(renderReport(report, time.Since(start)))
		if err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d entries failed", len(report.Failed))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
}
