// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

// Package ip extracts the client address of requests that may have passed
// through a reverse proxy.
package ip

import (
	"net"
	"net/http"
	"strings"
)

// RemoteAddr returns the client address of a request, preferring the
// X-Forwarded-For header set by reverse proxies over the socket peer.
func RemoteAddr(req *http.Request) string {
	addr := req.Header.Get("X-Forwarded-For")
	if addr == "" {
		addr = req.RemoteAddr
	}

	// A proxy chain yields a comma-separated list; the client is first.
	first := strings.TrimSpace(strings.Split(addr, ",")[0])
	if ip := net.ParseIP(first); ip != nil {
		return first
	}
	if host, _, err := net.SplitHostPort(first); err == nil {
		return host
	}
	return first
}
