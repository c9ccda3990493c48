// Copyright 2025 Notewire Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	gosync "sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/notewire/relay/collabapi/access"
	"github.com/notewire/relay/collabapi/auth"
	"github.com/notewire/relay/collabapi/types"
	"github.com/notewire/relay/ip"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

// Connection lifecycle. Transitions are one-way except Joined back to
// Unjoined on leave_document; Closed is reachable from every state.
type connState int

const (
	stateUnjoined connState = iota
	stateJoined
	stateClosing
	stateClosed
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relay trusts the token, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Connection owns one client socket. Reads are handled serially on the
// read pump; writes go through a buffered channel drained by the write
// pump so room broadcasts never block on a slow peer.
type Connection struct {
	id       string
	hub      *Hub
	verifier *auth.TokenVerifier
	resolver *access.Resolver
	ws       *websocket.Conn

	send      chan []byte
	quit      chan struct{}
	closeOnce gosync.Once

	mu         gosync.Mutex
	state      connState
	room       *Room
	documentID string
	userID     string
}

// Handler returns the HTTP handler for the realtime endpoint. Each
// accepted socket gets its own Connection with its two pumps.
func Handler(hub *Hub, verifier *auth.TokenVerifier, resolver *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logrus.WithError(err).Debug("Failed to upgrade websocket")
			return
		}
		c := &Connection{
			id:       uuid.NewString(),
			hub:      hub,
			verifier: verifier,
			resolver: resolver,
			ws:       ws,
			send:     make(chan []byte, sendBufferSize),
			quit:     make(chan struct{}),
		}
		hub.metrics.ConnectionOpened()
		logrus.WithFields(logrus.Fields{
			"conn_id": c.id,
			"remote":  ip.RemoteAddr(req),
		}).Debug("Websocket connected")
		go c.writePump()
		go c.readPump()
	}
}

// Enqueue implements Client. A full buffer means the peer cannot keep up;
// the frame is dropped rather than letting one slow reader stall a room.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	case <-c.quit:
		return false
	default:
		// A congested peer is skipped for this broadcast rather than
		// stalling the room; eviction catches it if it never recovers.
		framesDroppedCounter.Inc()
		logrus.WithField("conn_id", c.id).Debug("Send buffer full, skipping frame")
		return false
	}
}

// Ping implements Client. WriteControl is safe alongside the write pump.
func (c *Connection) Ping() {
	_ = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Terminate implements Client.
func (c *Connection) Terminate() {
	c.shutdown()
}

// shutdown begins the Closing phase: the write pump drains what is
// already queued, sends a close frame and tears the socket down, which in
// turn unblocks the read pump.
func (c *Connection) shutdown() {
	c.closeOnce.Do(func() { close(c.quit) })
}

func (c *Connection) readPump() {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			logrus.WithField("conn_id", c.id).Errorf("Connection handler panicked: %v", r)
		}
		c.teardown()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.refreshHeartbeat()
		return nil
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).Debug("Websocket closed unexpectedly")
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Connection) writePump() {
	defer func() {
		_ = c.ws.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			if !c.writeFrame(frame) {
				return
			}
		case <-c.quit:
			// Flush frames queued before shutdown, then say goodbye.
			for {
				select {
				case frame := <-c.send:
					if !c.writeFrame(frame) {
						return
					}
				default:
					_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
					return
				}
			}
		}
	}
}

func (c *Connection) writeFrame(frame []byte) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame) == nil
}

// handleFrame dispatches one inbound frame. Frames are processed serially
// per connection; unknown or malformed frames are logged and ignored.
func (c *Connection) handleFrame(raw []byte) {
	switch gjson.GetBytes(raw, "type").String() {
	case types.FrameJoinDocument:
		var frame types.JoinFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logrus.WithError(err).Debug("Ignoring malformed join frame")
			return
		}
		c.handleJoin(frame)
	case types.FrameYjsUpdate:
		room, ok := c.joinedRoom()
		if !ok {
			sendError(c, types.ErrMsgNotJoined)
			return
		}
		var frame types.UpdateFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logrus.WithError(err).Debug("Ignoring malformed update frame")
			return
		}
		room.ApplyUpdate(c, frame.Update)
	case types.FrameCursorUpdate:
		room, ok := c.joinedRoom()
		if !ok {
			sendError(c, types.ErrMsgNotJoined)
			return
		}
		var frame types.CursorFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logrus.WithError(err).Debug("Ignoring malformed cursor frame")
			return
		}
		room.UpdatePresence(c, frame)
	case types.FrameHeartbeat:
		room, ok := c.joinedRoom()
		if !ok {
			sendError(c, types.ErrMsgNotJoined)
			return
		}
		room.Heartbeat(c)
	case types.FrameLeaveDocument:
		c.handleLeave()
	default:
		logrus.WithField("frame", string(raw)).Debug("Ignoring unknown frame")
	}
}

// handleJoin runs the admission path: token, access, room, presence. Any
// denial sends a single error frame and closes the connection.
func (c *Connection) handleJoin(frame types.JoinFrame) {
	c.mu.Lock()
	if c.state != stateUnjoined {
		c.mu.Unlock()
		logrus.WithField("conn_id", c.id).Debug("Ignoring join on already-joined connection")
		return
	}
	c.mu.Unlock()

	claims, err := c.verifier.Verify(frame.Token)
	if err != nil {
		c.refuse(types.ErrMsgUnauthorized)
		return
	}

	ctx := context.Background()
	permission, err := c.resolver.Resolve(ctx, frame.DocumentID, claims.UserID, frame.ShareToken)
	switch {
	case err == nil:
	case errors.Is(err, access.ErrNoAccess):
		c.refuse(types.ErrMsgNoAccess)
		return
	default:
		// Invalid ids and store failures share the not-found wording.
		c.refuse(types.ErrMsgNotFound)
		return
	}

	entry := &types.PresenceEntry{}
	if frame.User != nil {
		entry.Name = frame.User.Name
		entry.AvatarColor = frame.User.AvatarColor
	}
	if frame.CursorPosition != nil && *frame.CursorPosition >= 0 {
		entry.CursorPosition = *frame.CursorPosition
	}
	if frame.SelectionRange != nil && frame.SelectionRange.Valid() {
		entry.SelectionRange = *frame.SelectionRange
	}

	// A room can be retired between lookup and join; refetch until the
	// join lands in a registered room.
	room := c.hub.GetOrCreate(ctx, frame.DocumentID)
	for !room.Join(c, claims.UserID, permission, entry) {
		room = c.hub.GetOrCreate(ctx, frame.DocumentID)
	}

	c.mu.Lock()
	c.state = stateJoined
	c.room = room
	c.documentID = frame.DocumentID
	c.userID = claims.UserID
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"conn_id":    c.id,
		"doc_id":     frame.DocumentID,
		"user_id":    claims.UserID,
		"permission": permission,
	}).Info("Connection joined document")
}

// handleLeave detaches from the room but keeps the socket open; the
// client may join again.
func (c *Connection) handleLeave() {
	c.mu.Lock()
	if c.state != stateJoined {
		c.mu.Unlock()
		sendError(c, types.ErrMsgNotJoined)
		return
	}
	room := c.room
	documentID := c.documentID
	c.state = stateUnjoined
	c.room = nil
	c.documentID = ""
	c.mu.Unlock()

	room.Leave(c)
	c.hub.Release(documentID)
}

// refuse sends a final error frame and closes. The write pump drains the
// frame before the close handshake.
func (c *Connection) refuse(message string) {
	sendError(c, message)
	c.shutdown()
}

func (c *Connection) joinedRoom() (*Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.state == stateJoined
}

func (c *Connection) refreshHeartbeat() {
	if room, ok := c.joinedRoom(); ok {
		room.Heartbeat(c)
	}
}

// teardown is the single cleanup routine shared by every path into
// Closed. It is idempotent and tolerates membership having been removed
// already by the sweeper or an explicit leave.
func (c *Connection) teardown() {
	c.shutdown()

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosing
	room := c.room
	documentID := c.documentID
	c.room = nil
	c.state = stateClosed
	c.mu.Unlock()

	if room != nil {
		room.Leave(c)
		c.hub.Release(documentID)
	}
	c.hub.metrics.ConnectionClosed()
}
