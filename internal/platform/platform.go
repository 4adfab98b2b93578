// Package platform builds the process-wide clients (document store, push
// gateway, Pub/Sub) from configuration. Both cmd/api and cmd/notifyctl use it.
package platform

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/danoggin/notify/internal/config"
	"github.com/danoggin/notify/internal/db"
	"github.com/danoggin/notify/internal/maintenance"
	"github.com/danoggin/notify/internal/notifications"
	"github.com/danoggin/notify/internal/push"
	"github.com/danoggin/notify/internal/store"
)

// Services holds the clients a process needs. Gateway is nil when push is
// not configured.
type Services struct {
	Store   store.Store
	Gateway push.Gateway

	cfg     *config.Config
	app     *firebase.App
	closers []func()
}

// Open connects the configured store backend and, when Firebase settings
// are present, the FCM gateway.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	s := &Services{cfg: cfg}

	if cfg.StoreBackend == config.BackendFirestore || cfg.PushEnabled() {
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID}, s.clientOptions()...)
		if err != nil {
			return nil, fmt.Errorf("init firebase app: %w", err)
		}
		s.app = app
	}

	switch cfg.StoreBackend {
	case config.BackendFirestore:
		client, err := s.app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		s.closers = append(s.closers, func() { client.Close() })
		s.Store = store.NewFirestore(client, logger)
		logger.Info("Firestore store connected", "project", cfg.FirebaseProjectID)
	default:
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		s.Store = store.NewPostgres(pool.Pool, logger)
		logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)
	}

	if cfg.PushEnabled() {
		fcm, err := push.NewFCM(ctx, s.app, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Gateway = fcm
	} else {
		logger.Info("Push delivery disabled (no FIREBASE_CREDENTIALS_FILE or FIREBASE_PROJECT_ID)")
	}

	return s, nil
}

// PubSub opens a Pub/Sub client for the Firebase project. The caller owns
// the returned client.
func (s *Services) PubSub(ctx context.Context) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, s.cfg.FirebaseProjectID, s.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("open pubsub: %w", err)
	}
	return client, nil
}

// Close releases every client in reverse open order.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *Services) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if s.cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(s.cfg.FirebaseCredentialsFile))
	}
	return opts
}

// DeliveryOptions maps configuration onto the reminder and alert units.
func DeliveryOptions(cfg *config.Config) notifications.Options {
	return notifications.Options{
		Workers:          cfg.DeliveryWorkers,
		FlushThreshold:   cfg.TelemetryFlushThreshold,
		AlertTitleFormat: cfg.AlertTitleFormat,
	}
}

// SweepOptions maps configuration onto the token sweep.
func SweepOptions(cfg *config.Config) maintenance.SweepOptions {
	return maintenance.SweepOptions{
		BatchSize:      cfg.SweepBatchSize,
		BatchPause:     cfg.SweepBatchPause,
		Workers:        cfg.DeliveryWorkers,
		FlushThreshold: cfg.TelemetryFlushThreshold,
	}
}
