// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

// Package access resolves what role, if any, a user holds on a document.
// The resolver is read-only and idempotent; it never mutates the store.
package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/notewire/relay/collabapi/storage"
	"github.com/notewire/relay/collabapi/types"
)

var (
	// ErrInvalidID means the document id is empty or malformed.
	ErrInvalidID = errors.New("access: invalid document id")
	// ErrNotFound means the document is absent. Store failures are
	// deliberately folded into this error so internals do not leak to
	// clients.
	ErrNotFound = errors.New("access: document not found")
	// ErrNoAccess means the document exists but grants the user nothing.
	ErrNoAccess = errors.New("access: no access")
)

const maxDocumentIDLength = 128

// Resolver answers access queries against the durable store.
type Resolver struct {
	db storage.Database
}

func NewResolver(db storage.Database) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the user's permission on a document. Checks are ordered:
// owner, then explicit user share, then unexpired share link. An unknown
// share token falls through to ErrNoAccess, never ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, documentID, userID, shareToken string) (types.Permission, error) {
	if !validDocumentID(documentID) {
		return "", ErrInvalidID
	}

	log := logrus.WithFields(logrus.Fields{
		"doc_id":  documentID,
		"user_id": userID,
	})

	doc, err := r.db.FindDocumentByID(ctx, documentID)
	if err != nil {
		log.WithError(err).Error("Failed to look up document")
		return "", ErrNotFound
	}
	if doc == nil {
		return "", ErrNotFound
	}
	if doc.OwnerID == userID {
		return types.PermissionOwner, nil
	}

	share, err := r.db.FindShareByDocumentAndUser(ctx, documentID, userID)
	if err != nil {
		log.WithError(err).Error("Failed to look up document share")
		return "", ErrNotFound
	}
	if share != nil {
		return share.Permission, nil
	}

	if shareToken != "" {
		link, err := r.db.FindValidShareLink(ctx, documentID, shareToken, time.Now())
		if err != nil {
			log.WithError(err).Error("Failed to look up share link")
			return "", ErrNotFound
		}
		if link != nil {
			return link.Permission, nil
		}
	}

	return "", ErrNoAccess
}

func validDocumentID(id string) bool {
	if id == "" || len(id) > maxDocumentIDLength {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool {
		return r < 0x20 || r == 0x7f || r == ' '
	})
}
