// Package natsbus carries stage handoffs over NATS subjects. Each stage
// subscribes with a queue group so one worker handles each handoff.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/documentpipeline/internal/models"
	"github.com/Lllllllleong/documentpipeline/internal/resilience"
	"github.com/nats-io/nats.go"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// Bus is one NATS connection shared by publishers and subscribers.
type Bus struct {
	conn   *nats.Conn
	exec   *resilience.Executor
	logger *slog.Logger
}

func Connect(url, name string, exec *resilience.Executor, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(2*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected.", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected.", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{conn: conn, exec: exec, logger: logger}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Publisher returns the next-stage trigger that publishes to subject.
func (b *Bus) Publisher(subject string) *Publisher {
	return &Publisher{conn: b.conn, subject: subject, exec: b.exec}
}

// Publisher sends handoffs to one subject. Handoff returns once the client
// has buffered the message; NATS core gives no delivery receipt.
type Publisher struct {
	conn    publisher
	subject string
	exec    *resilience.Executor
}

func (p *Publisher) Handoff(ctx context.Context, h models.Handoff) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal handoff: %w", err)
	}
	publish := func(context.Context) error {
		if err := p.conn.Publish(p.subject, data); err != nil {
			return fmt.Errorf("nats publish %s: %w", p.subject, err)
		}
		return nil
	}
	if p.exec != nil {
		return p.exec.Execute(ctx, "nats.publish."+p.subject, publish, classify)
	}
	return publish(ctx)
}

// HandlerFunc runs one stage for one decoded handoff.
type HandlerFunc func(ctx context.Context, h models.Handoff) error

// Subscribe consumes subject in queue group until ctx is done, then drains
// in-flight messages.
func (b *Bus) Subscribe(ctx context.Context, subject, group string, handler HandlerFunc) error {
	logCtx := b.logger.With("subject", subject, "group", group)
	sub, err := b.conn.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		handle(ctx, logCtx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	logCtx.Info("Subscribed to handoffs.")

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// handle decodes and runs one message. Malformed payloads are dropped; the
// stage itself records failures on the ledger.
func handle(ctx context.Context, logCtx *slog.Logger, msg *nats.Msg, handler HandlerFunc) {
	h, err := models.DecodeHandoff(msg.Data)
	if err != nil {
		logCtx.Warn("Dropping malformed handoff.", "error", err)
		return
	}
	if err := handler(context.WithoutCancel(ctx), h); err != nil {
		logCtx.Error("Handoff handler failed.", "documentId", h.DocumentID, "error", err)
	}
}

func classify(err error) resilience.Verdict {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.Verdict{}
	case resilience.IsCircuitOpen(err):
		return resilience.Verdict{Retry: true, Trip: true}
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrConnectionReconnecting):
		return resilience.Verdict{Retry: true, Trip: true}
	}
	return resilience.Verdict{Trip: true}
}
