// Command notifyctl runs the notification units once from the shell.
//
// Usage:
//
//	notifyctl remind
//	notifyctl sweep
//	notifyctl metrics --date 2026-03-09
//	notifyctl retention
//	notifyctl alert --responder u123 --result missed --prompt "Take meds"
//	notifyctl test-push --token <fcm-token>
//	notifyctl clear-badge --user u456
//	notifyctl schema
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/danoggin/notify/internal/config"
	"github.com/danoggin/notify/internal/db"
	"github.com/danoggin/notify/internal/maintenance"
	"github.com/danoggin/notify/internal/notifications"
	"github.com/danoggin/notify/internal/platform"
	"github.com/danoggin/notify/internal/push"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "notifyctl",
		Short:        "Danoggin notification operations CLI",
		SilenceUsage: true,
	}

	root.AddCommand(remindCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(metricsCmd())
	root.AddCommand(retentionCmd())
	root.AddCommand(alertCmd())
	root.AddCommand(testPushCmd())
	root.AddCommand(clearBadgeCmd())
	root.AddCommand(schemaCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// Delivery commands
// --------------------------------------------------------------------------

func remindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Run one check-in reminder cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithPush(func(ctx context.Context, cfg *config.Config, svc *platform.Services) error {
				r := notifications.NewReminders(svc.Store, svc.Gateway, platform.DeliveryOptions(cfg), logger)
				start := time.Now()
				res, err := r.RunCycle(ctx)
				if err != nil {
					return err
				}
				logger.Info("Reminder cycle finished",
					"duration", time.Since(start).Round(time.Millisecond),
					"due", res.Due, "succeeded", res.Succeeded,
					"failed", res.Failed, "rescheduled", res.Rescheduled)
				return nil
			})
		},
	}
}

func alertCmd() *cobra.Command {
	var c notifications.CheckIn
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Alert a responder's observers about a check-in outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithPush(func(ctx context.Context, cfg *config.Config, svc *platform.Services) error {
				c.Timestamp = time.Now().UTC()
				a := notifications.NewAlerts(svc.Store, svc.Gateway, platform.DeliveryOptions(cfg), logger)
				res, err := a.NotifyObservers(ctx, c)
				if err != nil {
					return err
				}
				logger.Info("Alert finished",
					"observers", res.Observers, "sent", res.Sent,
					"failed", res.Failed, "skipped", res.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&c.ResponderID, "responder", "", "Responder user ID (required)")
	cmd.Flags().StringVar(&c.Result, "result", "", "Check-in result: missed, incorrect or correct (required)")
	cmd.Flags().StringVar(&c.ID, "check-in", "", "Check-in ID")
	cmd.Flags().StringVar(&c.Prompt, "prompt", "", "Check-in prompt text")
	cmd.MarkFlagRequired("responder")
	cmd.MarkFlagRequired("result")
	return cmd
}

func testPushCmd() *cobra.Command {
	var token, message string
	cmd := &cobra.Command{
		Use:   "test-push",
		Short: "Send a test notification to one device token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithPush(func(ctx context.Context, cfg *config.Config, svc *platform.Services) error {
				id, err := notifications.SendTest(ctx, svc.Gateway, token, message)
				if err != nil {
					return err
				}
				logger.Info("Test notification sent", "token_prefix", push.TokenPrefix(token), "message_id", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "FCM device token (required)")
	cmd.Flags().StringVar(&message, "message", "", "Notification body")
	cmd.MarkFlagRequired("token")
	return cmd
}

func clearBadgeCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "clear-badge",
		Short: "Reset a user's badge count on every device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithPush(func(ctx context.Context, cfg *config.Config, svc *platform.Services) error {
				return notifications.ClearBadge(ctx, svc.Store, svc.Gateway, userID, logger)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

// --------------------------------------------------------------------------
// Maintenance commands
// --------------------------------------------------------------------------

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove aged, struck and invalid device tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithPush(func(ctx context.Context, cfg *config.Config, svc *platform.Services) error {
				s := maintenance.NewSweeper(svc.Store, svc.Gateway, platform.SweepOptions(cfg), logger)
				start := time.Now()
				res, err := s.Run(ctx)
				if err != nil {
					return err
				}
				logger.Info("Sweep finished",
					"duration", time.Since(start).Round(time.Second),
					"users", res.UsersProcessed, "checked", res.TokensChecked,
					"removed", res.TokensRemoved, "removal_rate", res.RemovalRate())
				return nil
			})
		},
	}
}

func metricsCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Generate the daily token metrics report (default: yesterday)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, svc *platform.Services) error {
				r := maintenance.NewReporter(svc.Store, logger, nil)
				if date == "" {
					date = r.Yesterday()
				}
				m, err := r.GenerateDaily(ctx, date)
				if err != nil {
					return err
				}
				logger.Info("Daily metrics stored",
					"date", m.Date,
					"removals", m.TokenRemovals.TotalRemovals,
					"errors", m.TokenErrors.TotalErrors,
					"strikes", m.TokenErrors.TotalStrikes,
					"health_pct", m.SystemSummary.TokenHealthPercentage)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "UTC date YYYY-MM-DD")
	return cmd
}

func retentionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retention",
		Short: "Delete expired daily metrics and token events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config, svc *platform.Services) error {
				res, err := maintenance.NewReporter(svc.Store, logger, nil).Retention(ctx)
				if err != nil {
					return err
				}
				logger.Info("Retention finished",
					"daily_metrics_deleted", res.MetricsDeleted,
					"token_events_deleted", res.EventsDeleted)
				return nil
			})
		},
	}
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Apply the Postgres schema (tables, indexes, check-in trigger)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.StoreBackend != config.BackendPostgres {
				return fmt.Errorf("schema only applies to STORE_BACKEND=postgres")
			}
			if err := db.ApplySchema(ctx, cfg.DatabaseURL, cfg.CheckInChannel); err != nil {
				return err
			}
			logger.Info("Schema applied", "check_in_channel", cfg.CheckInChannel)
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func run(fn func(ctx context.Context, cfg *config.Config, svc *platform.Services) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svc, err := platform.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	return fn(ctx, cfg, svc)
}

func runWithPush(fn func(ctx context.Context, cfg *config.Config, svc *platform.Services) error) error {
	return run(func(ctx context.Context, cfg *config.Config, svc *platform.Services) error {
		if svc.Gateway == nil {
			return fmt.Errorf("push is not configured: set FIREBASE_CREDENTIALS_FILE or FIREBASE_PROJECT_ID")
		}
		return fn(ctx, cfg, svc)
	})
}
