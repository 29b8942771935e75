// Package feed subscribes to realtime movement and forecast messages
// and hands them to the train store.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	activetrains "github.com/jaygeraghty/CentralTMServer-sub000"
	"github.com/jaygeraghty/CentralTMServer-sub000/parse"
)

// What a subject or topic carries.
type Kind int

const (
	KindRealtime Kind = iota
	KindForecast
	// Messages tagged with "type": "realtime" or "forecast".
	KindEnvelope
)

type Handler interface {
	HandleRealtime(ctx context.Context, evt *parse.RealtimeEvent) error
	HandleForecast(ctx context.Context, evt *parse.ForecastEvent) error
}

type Metrics interface {
	MessageReceived(transport string)
	MessageFailed(transport, reason string)
	SetConnected(transport string, connected bool)
	HandleObserve(d time.Duration)
}

// Decodes messages and applies them to a Handler, usually the
// activetrains.Store.
type Dispatcher struct {
	Handler Handler
	Metrics Metrics
	Logger  *slog.Logger
}

func NewDispatcher(h Handler, m Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Handler: h, Metrics: m, Logger: logger}
}

// Decodes and applies one message. Updates queued while the store is
// loading count as handled.
func (d *Dispatcher) Dispatch(ctx context.Context, transport string, kind Kind, data []byte) error {
	start := time.Now()
	if d.Metrics != nil {
		d.Metrics.MessageReceived(transport)
		defer func() { d.Metrics.HandleObserve(time.Since(start)) }()
	}

	var (
		evt      parse.Event
		warnings []error
		err      error
	)
	switch kind {
	case KindRealtime:
		evt, err = parse.DecodeRealtime(data)
	case KindForecast:
		evt, warnings, err = parse.DecodeForecast(data)
	default:
		evt, warnings, err = parse.DecodeEnvelope(data)
	}
	if err != nil {
		d.failed(transport, "decode")
		d.Logger.Warn("undecodable message", "transport", transport, "error", err)
		return err
	}
	for _, w := range warnings {
		d.Logger.Warn("malformed forecast field", "transport", transport, "error", w)
	}

	switch e := evt.(type) {
	case *parse.RealtimeEvent:
		err = d.Handler.HandleRealtime(ctx, e)
	case *parse.ForecastEvent:
		err = d.Handler.HandleForecast(ctx, e)
	}

	if err == nil || errors.Is(err, activetrains.ErrNotReady) {
		return nil
	}
	d.failed(transport, reason(err))
	return err
}

func (d *Dispatcher) failed(transport, reason string) {
	if d.Metrics != nil {
		d.Metrics.MessageFailed(transport, reason)
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, activetrains.ErrUnknownTrain):
		return "unknown_train"
	case errors.Is(err, activetrains.ErrUnknownLocation):
		return "unknown_location"
	case errors.Is(err, activetrains.ErrEmptyForecast):
		return "empty_forecast"
	}
	return "error"
}
