// Package link implements the wearable's two off-device channels: the
// short-range WebSocket link to the paired companion app and the wide-area
// NATS uplink used for durable transcript backup.
package link

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/earshotlabs/earshot/pkg/device"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// CompanionConfig configures the WebSocket link to the phone app.
type CompanionConfig struct {
	// URL is the companion endpoint (ws:// or wss://).
	URL string

	// Token, when set, is sent as a bearer token on the dial request.
	Token string

	// DialTimeout bounds connection establishment. Default 5s.
	DialTimeout time.Duration

	// WriteTimeout bounds one sync push. Default 5s.
	WriteTimeout time.Duration
}

// syncMessage is one transcript push to the companion app.
type syncMessage struct {
	SentAt         time.Time `json:"sent_at"`
	Transcriptions []string  `json:"transcriptions"`
}

// Companion maintains a lazily-dialed WebSocket connection to the phone app.
// A failed push drops the connection; the next push redials. Safe for
// concurrent use.
type Companion struct {
	cfg CompanionConfig

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ device.Companion = (*Companion)(nil)

// NewCompanion returns an unconnected link. The first SyncTranscriptions
// call dials.
func NewCompanion(cfg CompanionConfig) *Companion {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Companion{cfg: cfg}
}

// IsConnected reports whether the link currently holds a live connection.
func (c *Companion) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SyncTranscriptions pushes texts to the companion app, dialing first if
// needed. On any failure the connection is dropped so the next call starts
// fresh.
func (c *Companion) SyncTranscriptions(texts []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dialLocked(); err != nil {
			return err
		}
	}

	data, err := json.Marshal(syncMessage{
		SentAt:         time.Now().UTC(),
		Transcriptions: texts,
	})
	if err != nil {
		return fmt.Errorf("link: encode sync message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.conn.Close(websocket.StatusInternalError, "write failed")
		c.conn = nil
		return fmt.Errorf("link: push to companion: %w", err)
	}
	return nil
}

// dialLocked establishes the connection. Caller holds c.mu.
func (c *Companion) dialLocked() error {
	if c.cfg.URL == "" {
		return fmt.Errorf("link: companion URL not configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if c.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.cfg.Token}}
	}
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, opts)
	if err != nil {
		return fmt.Errorf("link: dial companion %s: %w", c.cfg.URL, err)
	}
	c.conn = conn
	return nil
}

// Close shuts the connection down cleanly. Safe to call when disconnected.
func (c *Companion) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "shutting down")
	c.conn = nil
	return err
}
