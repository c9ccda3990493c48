// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

// Package routing wires the relay's HTTP surface: the realtime websocket
// endpoint, the JSON metrics view, the Prometheus scrape endpoint and the
// health probe.
package routing

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/notewire/relay/collabapi/access"
	"github.com/notewire/relay/collabapi/auth"
	"github.com/notewire/relay/collabapi/sync"
)

// Setup registers all routes on the given router.
func Setup(router *mux.Router, hub *sync.Hub, verifier *auth.TokenVerifier, resolver *access.Resolver) {
	router.HandleFunc("/ws", sync.Handler(hub, verifier, resolver)).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, hub.Stats())
	}).Methods(http.MethodGet)

	router.Handle("/metrics/prometheus", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, struct {
			Status string `json:"status"`
		}{Status: "ok"})
	}).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logrus.WithField("path", req.URL.Path).Debug("Unknown route")
		http.NotFound(w, req)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("Failed to write JSON response")
	}
}
