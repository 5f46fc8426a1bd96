package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"moneymarket/core/events"
)

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Envelope is the JSON body published for every ledger event.
type Envelope struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Height     uint64            `json:"height"`
	Time       time.Time         `json:"time"`
}

// NATS publishes ledger events on <prefix>.<event type>.
type NATS struct {
	conn   Conn
	prefix string
	height func() uint64
	now    func() time.Time
	logger *slog.Logger
}

// Connect dials url and returns the raw connection for use with New.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// New returns an emitter publishing through conn. height reports the ledger
// period stamped on each envelope.
func New(conn Conn, prefix string, height func() uint64, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	if height == nil {
		height = func() uint64 { return 0 }
	}
	return &NATS{
		conn:   conn,
		prefix: prefix,
		height: height,
		now:    time.Now,
		logger: logger,
	}
}

// Emit implements events.Emitter. Publish failures are logged, not returned:
// the ledger has already committed by the time events are emitted.
func (p *NATS) Emit(e events.Event) {
	if p == nil || p.conn == nil || e == nil {
		return
	}
	env := Envelope{Type: e.EventType(), Height: p.height(), Time: p.now().UTC()}
	if attributed, ok := e.(events.Attributed); ok {
		env.Attributes = attributed.Attributes()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("encode event", slog.String("type", env.Type), slog.String("error", err.Error()))
		return
	}
	subject := p.prefix + "." + env.Type
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("publish event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
