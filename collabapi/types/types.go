// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

// Package types holds the wire protocol and shared value types of the
// collaboration relay.
package types

import "time"

// Permission is the role a user holds on a document.
type Permission string

const (
	PermissionOwner  Permission = "owner"
	PermissionEditor Permission = "editor"
	PermissionViewer Permission = "viewer"
)

// CanEdit reports whether the permission allows content writes.
func (p Permission) CanEdit() bool {
	return p == PermissionOwner || p == PermissionEditor
}

// Client → server frame types.
const (
	FrameJoinDocument  = "join_document"
	FrameYjsUpdate     = "yjs_update"
	FrameCursorUpdate  = "cursor_update"
	FrameHeartbeat     = "heartbeat"
	FrameLeaveDocument = "leave_document"
)

// Server → client frame types.
const (
	FrameDocSync        = "doc_sync"
	FramePresenceUpdate = "presence_update"
	FrameError          = "error"
	// FrameConnectionReplaced is reserved for superseding an older
	// connection of the same user; it is never emitted at present and
	// receivers must not reconnect on receipt.
	FrameConnectionReplaced = "connection_replaced"
)

// Error frame messages. The wording is part of the protocol.
const (
	ErrMsgUnauthorized = "Unauthorized"
	ErrMsgNotFound     = "Document not found"
	ErrMsgNoAccess     = "Access denied"
	ErrMsgReadOnly     = "Read-only access"
	ErrMsgNotJoined    = "Not joined"
)

// UserInfo is the client-supplied display identity.
type UserInfo struct {
	Name        string `json:"name"`
	AvatarColor string `json:"avatarColor"`
}

// SelectionRange is a half-open cursor selection with Start <= End.
type SelectionRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Valid reports whether the range is well formed.
func (s SelectionRange) Valid() bool {
	return s.Start >= 0 && s.Start <= s.End
}

// JoinFrame is the required first frame on a connection.
type JoinFrame struct {
	Type           string          `json:"type"`
	DocumentID     string          `json:"documentId"`
	Token          string          `json:"token"`
	ShareToken     string          `json:"shareToken,omitempty"`
	User           *UserInfo       `json:"user,omitempty"`
	CursorPosition *int            `json:"cursorPosition,omitempty"`
	SelectionRange *SelectionRange `json:"selectionRange,omitempty"`
}

// UpdateFrame carries base64 CRDT update bytes, in either direction.
type UpdateFrame struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId,omitempty"`
	Update     string `json:"update"`
}

// CursorFrame is a partial presence update; nil fields keep their previous
// values.
type CursorFrame struct {
	Type           string          `json:"type"`
	CursorPosition *int            `json:"cursorPosition,omitempty"`
	SelectionRange *SelectionRange `json:"selectionRange,omitempty"`
	IsTyping       *bool           `json:"isTyping,omitempty"`
	User           *UserInfo       `json:"user,omitempty"`
}

// DocSyncFrame carries the full document state to a joining connection.
type DocSyncFrame struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	Update     string `json:"update"`
}

// ErrorFrame reports a protocol or access error to one connection.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PresenceUser is one deduplicated entry in a presence broadcast.
type PresenceUser struct {
	UserID         string         `json:"userId"`
	Name           string         `json:"name"`
	AvatarColor    string         `json:"avatarColor"`
	CursorPosition int            `json:"cursorPosition"`
	SelectionRange SelectionRange `json:"selectionRange"`
	IsTyping       bool           `json:"isTyping"`
	LastHeartbeat  int64          `json:"lastHeartbeat"`
}

// PresenceUpdateFrame is broadcast to a whole room after any presence
// change.
type PresenceUpdateFrame struct {
	Type       string         `json:"type"`
	DocumentID string         `json:"documentId"`
	Users      []PresenceUser `json:"users"`
}

// PresenceEntry is the per-connection presence state within a room.
type PresenceEntry struct {
	UserID         string
	Name           string
	AvatarColor    string
	CursorPosition int
	SelectionRange SelectionRange
	IsTyping       bool
	LastHeartbeat  time.Time
}

// Document is the durable document row as seen by the relay. The relay
// never mutates it.
type Document struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Share is an explicit (document, user) grant.
type Share struct {
	DocumentID string
	UserID     string
	Permission Permission
}

// ShareLink grants a role to anyone presenting its token, until it expires.
type ShareLink struct {
	DocumentID string
	Token      string
	Permission Permission
	ExpiresAt  *time.Time
}

// Version is one immutable snapshot row.
type Version struct {
	ID         string
	DocumentID string
	AuthorID   string
	Summary    string
	Snapshot   []byte
	CreatedAt  time.Time
}
