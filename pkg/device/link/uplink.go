package link

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/earshotlabs/earshot/pkg/device"
)

const (
	// DefaultBackupSubject is the NATS subject transcripts are backed up to.
	DefaultBackupSubject = "earshot.transcripts.backup"

	defaultConnectTimeout = 5 * time.Second
	defaultFlushTimeout   = 5 * time.Second
)

// UplinkConfig configures the wide-area backup channel.
type UplinkConfig struct {
	// Enabled gates the uplink administratively; a disabled uplink never
	// connects regardless of URL.
	Enabled bool

	// URL is the NATS server address (nats://host:port).
	URL string

	// Subject overrides DefaultBackupSubject.
	Subject string

	// ConnectTimeout bounds connection establishment. Default 5s.
	ConnectTimeout time.Duration
}

// backupMessage is one durable transcript batch published to the backup
// subject.
type backupMessage struct {
	SentAt         time.Time `json:"sent_at"`
	Transcriptions []string  `json:"transcriptions"`
}

// Uplink publishes transcript batches to a NATS subject. The connection is
// dialed lazily and survives across batches. Safe for concurrent use.
type Uplink struct {
	cfg UplinkConfig

	mu   sync.Mutex
	conn *nats.Conn
}

var _ device.Uplink = (*Uplink)(nil)

// NewUplink returns an unconnected uplink.
func NewUplink(cfg UplinkConfig) *Uplink {
	if cfg.Subject == "" {
		cfg.Subject = DefaultBackupSubject
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Uplink{cfg: cfg}
}

// IsEnabled reports whether the uplink may be used at all.
func (u *Uplink) IsEnabled() bool {
	return u.cfg.Enabled && u.cfg.URL != ""
}

// IsConnected reports whether a live NATS connection exists right now.
func (u *Uplink) IsConnected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn != nil && u.conn.Status() == nats.CONNECTED
}

// BackupTranscriptions publishes texts as one batch and flushes, so a nil
// return means the server has the data.
func (u *Uplink) BackupTranscriptions(texts []string) error {
	if !u.IsEnabled() {
		return fmt.Errorf("link: uplink is disabled")
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn == nil || u.conn.Status() == nats.CLOSED {
		conn, err := nats.Connect(u.cfg.URL,
			nats.Name("earshot-uplink"),
			nats.Timeout(u.cfg.ConnectTimeout),
		)
		if err != nil {
			return fmt.Errorf("link: connect uplink %s: %w", u.cfg.URL, err)
		}
		u.conn = conn
	}

	data, err := json.Marshal(backupMessage{
		SentAt:         time.Now().UTC(),
		Transcriptions: texts,
	})
	if err != nil {
		return fmt.Errorf("link: encode backup message: %w", err)
	}
	if err := u.conn.Publish(u.cfg.Subject, data); err != nil {
		return fmt.Errorf("link: publish backup: %w", err)
	}
	if err := u.conn.FlushTimeout(defaultFlushTimeout); err != nil {
		return fmt.Errorf("link: flush backup: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection. Safe when disconnected.
func (u *Uplink) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn == nil {
		return nil
	}
	err := u.conn.Drain()
	u.conn.Close()
	u.conn = nil
	return err
}
