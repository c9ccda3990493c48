// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

// relayd is the realtime collaboration relay. It accepts websocket
// connections from note editors, merges their edits per document,
// broadcasts updates and presence, and persists snapshots through the
// tiered store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/notewire/relay/collabapi/access"
	"github.com/notewire/relay/collabapi/auth"
	"github.com/notewire/relay/collabapi/caching"
	"github.com/notewire/relay/collabapi/persist"
	"github.com/notewire/relay/collabapi/routing"
	"github.com/notewire/relay/collabapi/storage"
	"github.com/notewire/relay/collabapi/sync"
	"github.com/notewire/relay/internal"
	"github.com/notewire/relay/internal/sqlutil"
	"github.com/notewire/relay/setup/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			logrus.WithError(err).Fatal("Failed to start Sentry")
		}
		defer sentry.Flush(2 * time.Second)
		defer func() {
			if r := recover(); r != nil {
				sentry.CurrentHub().Recover(r)
				sentry.Flush(2 * time.Second)
				panic(r)
			}
		}()
	}

	verifier, err := auth.NewTokenVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to build token verifier")
	}

	db, err := storage.NewDatabase(sqlutil.ConnectionString(cfg.DatabaseURL))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open durable store")
	}

	cache, err := caching.NewStateCache(cfg.RedisURL)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up snapshot cache")
	}
	defer internal.CloseAndLogIfError(context.Background(), cache, "failed to close snapshot cache")

	store := persist.NewStore(db, cache)
	hub := sync.NewHub(store, sync.NewCollector())

	router := mux.NewRouter()
	routing.Setup(router, hub, verifier, access.NewResolver(db))

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sync.NewSweeper(hub, cfg.HeartbeatInterval, cfg.HeartbeatTimeout).Run(sweepCtx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logrus.WithField("addr", srv.Addr).Info("Relay listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Listener failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	logrus.WithField("signal", (<-sig).String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to drain listener")
	}
	stopSweeper()

	// Pending persists carry acknowledged edits; flush them before exit.
	hub.Shutdown(ctx)
	logrus.Info("Shutdown complete")
}
