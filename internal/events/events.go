// Package events publishes engine events to NATS and accepts run triggers from it.
//
// Events are published as JSON on
//
//	{prefix}.{system_id}.{event_type}
//
// for example iosm.billing-api.cycle_scored. Runs can be requested by publishing
// any payload to {prefix}.{system_id}.trigger.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rokoss21/IOSM/internal/config"
	"github.com/rokoss21/IOSM/internal/logging"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// TriggerToken is the last subject token of a run request.
const TriggerToken = "trigger"

// Connect opens a NATS connection from the document settings.
func Connect(cfg config.NATSConfig, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	opts := []nats.Option{
		nats.Name("iosm"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}
	logger.Debug(context.Background(), "connecting to nats",
		zap.String("url", cfg.URL), logging.Secret("token", cfg.Token))
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Subject builds the subject for a system and token.
func Subject(prefix, systemID, token string) string {
	return prefix + "." + subjectToken(systemID) + "." + token
}

// subjectToken keeps a system id from introducing extra subject levels or wildcards.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Publisher is an orchestrator.Observer that forwards events to NATS.
//
// Publishing is fire-and-forget: failures are logged and never fail the run.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
}

var _ orchestrator.Observer = (*Publisher)(nil)

// NewPublisher creates a publisher on an open connection.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if prefix == "" {
		prefix = "iosm"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// OnEvent implements orchestrator.Observer.
func (p *Publisher) OnEvent(ctx context.Context, ev orchestrator.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn(ctx, "failed to encode event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	subject := Subject(p.prefix, ev.SystemID, string(ev.Type))
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// Flush waits until published events reached the server.
func (p *Publisher) Flush(ctx context.Context) error {
	return p.nc.FlushWithContext(ctx)
}

// Trigger is a decoded run request.
type Trigger struct {
	SystemID string `json:"system_id"`
	Resume   bool   `json:"resume,omitempty"`
}

// SubscribeTriggers calls fn for every run request under prefix. The system id
// comes from the subject; a JSON body may set resume.
func SubscribeTriggers(nc *nats.Conn, prefix string, fn func(Trigger)) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = "iosm"
	}
	return nc.Subscribe(prefix+".*."+TriggerToken, func(msg *nats.Msg) {
		parts := strings.Split(msg.Subject, ".")
		if len(parts) < 3 {
			return
		}
		t := Trigger{}
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &t)
		}
		t.SystemID = parts[len(parts)-2]
		fn(t)
	})
}
