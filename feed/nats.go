package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const natsTransport = "nats"

type NATSConfig struct {
	URL string

	// Subject name to what it carries
	Subjects map[string]Kind
}

type NATSSubscriber struct {
	nc   *nats.Conn
	subs []*nats.Subscription
	d    *Dispatcher
}

// Connects and subscribes. Messages are dispatched until ctx is
// cancelled or Close is called.
func NewNATSSubscriber(ctx context.Context, cfg NATSConfig, d *Dispatcher) (*NATSSubscriber, error) {
	logger := d.Logger
	m := d.Metrics
	setConnected := func(connected bool) {
		if m != nil {
			m.SetConnected(natsTransport, connected)
		}
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("activetrains-"+uuid.New().String()),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			setConnected(true)
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	setConnected(true)

	s := &NATSSubscriber{nc: nc, d: d}
	for subject, kind := range cfg.Subjects {
		kind := kind
		sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
			// Failures are logged and counted by the dispatcher
			_ = d.Dispatch(ctx, natsTransport, kind, msg.Data)
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
		logger.Info("nats subscribed", "subject", subject)
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s, nil
}

func (s *NATSSubscriber) Close() {
	if s.nc != nil && !s.nc.IsClosed() {
		s.nc.Drain()
		s.nc.Close()
	}
}
