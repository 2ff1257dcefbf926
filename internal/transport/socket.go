package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/quickassist/internal/jobs"
	"github.com/roach88/quickassist/internal/session"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 1 << 20 // 1 MiB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message types sent to the client.
const (
	TypeSnapshot = "snapshot"
	TypeResult   = "result"
	TypeError    = "error"
	TypeOffer    = "offer"
)

// Message is one server-to-client frame.
type Message struct {
	Type     string            `json:"type"`
	Op       session.Op        `json:"op,omitempty"`
	Result   *session.Result   `json:"result,omitempty"`
	Error    string            `json:"error,omitempty"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Offer    *jobs.Offer       `json:"offer,omitempty"`
}

var errOpNotAllowed = errors.New("op is not allowed over the socket")

type client struct {
	userID string
	conn   *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *client) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *client) close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

// bearerToken reads the session token from ?token= or the Authorization
// header.
func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
		return rest
	}
	return ""
}

// handleSocket authenticates the token, upgrades the connection and runs a
// session for it until the client goes away.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	ident, err := s.accounts.Lookup(claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown account")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)
	c := &client{userID: ident.ID, conn: conn}
	defer c.close()

	// The loop outlives the request context so logout always runs.
	ctx, stopLoop := context.WithCancel(context.WithoutCancel(r.Context()))
	defer stopLoop()

	o := s.newSession()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := o.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("session loop failed", "user", ident.ID, "error", err)
		}
	}()
	defer func() {
		if err := o.Do(ctx, func(o *session.Orchestrator) error { return o.Logout() }); err != nil {
			slog.Warn("logout failed", "user", ident.ID, "error", err)
		}
		o.Stop()
		<-loopDone
	}()

	if err := o.Do(ctx, func(o *session.Orchestrator) error { return o.Login(ctx, ident) }); err != nil {
		_ = c.write(Message{Type: TypeError, Op: session.OpLogin, Error: err.Error()})
		return
	}
	s.hub.add(c)
	defer s.hub.remove(c)

	p := &pusher{c: c, o: o, hub: s.hub}
	if err := p.push(ctx, true); err != nil {
		return
	}
	pushCtx, stopPush := context.WithCancel(ctx)
	pushDone := make(chan struct{})
	go func() {
		defer close(pushDone)
		p.run(pushCtx, s.pushInterval)
	}()
	defer func() {
		stopPush()
		<-pushDone
	}()

	for {
		var in session.Intent
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws read failed", "user", ident.ID, "error", err)
			}
			return
		}
		if err := s.serveIntent(ctx, c, o, in); err != nil {
			slog.Warn("ws write failed", "user", ident.ID, "error", err)
			return
		}
		if err := p.push(ctx, false); err != nil {
			return
		}
	}
}

func (s *Server) serveIntent(ctx context.Context, c *client, o *session.Orchestrator, in session.Intent) error {
	if in.Op == session.OpLogin || in.Op == session.OpLogout {
		return c.write(Message{Type: TypeError, Op: in.Op, Error: errOpNotAllowed.Error()})
	}

	var res session.Result
	err := o.Do(ctx, func(o *session.Orchestrator) error {
		var err error
		res, err = o.Apply(ctx, in)
		return err
	})
	if err != nil {
		return c.write(Message{Type: TypeError, Op: in.Op, Error: err.Error()})
	}
	return c.write(Message{Type: TypeResult, Op: in.Op, Result: &res})
}

// pusher sends a snapshot whenever the session state changes, and an
// offer frame through the hub the first time each job offer shows up.
type pusher struct {
	c   *client
	o   *session.Orchestrator
	hub *Hub

	mu        sync.Mutex
	last      []byte
	lastOffer string
}

func (p *pusher) run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.push(ctx, false); err != nil {
				return
			}
		}
	}
}

func (p *pusher) push(ctx context.Context, force bool) error {
	var snap session.Snapshot
	err := p.o.Do(ctx, func(o *session.Orchestrator) error {
		var err error
		snap, err = o.Snapshot(ctx)
		return err
	})
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !force && bytes.Equal(encoded, p.last) {
		return nil
	}
	p.last = encoded
	if err := p.c.write(Message{Type: TypeSnapshot, Snapshot: &snap}); err != nil {
		return err
	}
	return p.announce(snap.Offer)
}

// announce sends offer to the partner once per offer id. Caller holds p.mu.
func (p *pusher) announce(offer *jobs.Offer) error {
	if offer == nil {
		p.lastOffer = ""
		return nil
	}
	if offer.ID == p.lastOffer {
		return nil
	}
	p.lastOffer = offer.ID
	return p.hub.Send(p.c.userID, Message{Type: TypeOffer, Offer: offer})
}
