package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

var ErrUnknownEventKind = errors.New("unknown event kind")

type EventKind string

const (
	EventStep      EventKind = "step"
	EventArrival   EventKind = "arrival"
	EventDeparture EventKind = "departure"
	EventPass      EventKind = "pass"
	EventDelete    EventKind = "delete"
)

// Accepts the short forms "arr" and "dep" as well.
func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "step":
		return EventStep, nil
	case "arr", "arrival":
		return EventArrival, nil
	case "dep", "departure":
		return EventDeparture, nil
	case "pass":
		return EventPass, nil
	case "delete":
		return EventDelete, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnknownEventKind, s)
}

// Implemented by RealtimeEvent and ForecastEvent only.
type Event interface {
	event()
}

// A train movement report.
type RealtimeEvent struct {
	TrainID   string
	Headcode  string
	Location  string
	Kind      EventKind
	Timestamp time.Time // zero when not given
	FromBerth string
	ToBerth   string
}

// Predicted times for one or more locations of a train.
type ForecastEvent struct {
	TrainID   string
	Headcode  string
	Forecasts []Forecast

	// Train level delay in minutes, if the feed gave one.
	DelayMinutes *int
}

type Forecast struct {
	Location     string
	Arrival      railtime.NullClock
	Departure    railtime.NullClock
	Pass         railtime.NullClock
	DelayMinutes *int
	Platform     string
	Timestamp    time.Time // zero when not given
}

func (*RealtimeEvent) event() {}
func (*ForecastEvent) event() {}

type realtimeJSON struct {
	UID                 string `json:"uid"`
	Headcode            string `json:"headcode"`
	Tiploc              string `json:"tiploc"`
	EventType           string `json:"event_type"`
	CalculatedEventTime string `json:"calculated_event_time"`
	ActualStepTime      string `json:"actual_step_time"`
	FromBerth           string `json:"from_berth"`
	ToBerth             string `json:"to_berth"`
}

type forecastJSON struct {
	UID       string `json:"uid"`
	TrainID   string `json:"train_id"`
	Headcode  string `json:"headcode"`
	Delay     *int   `json:"delay"`
	Forecasts []struct {
		Tiploc            string `json:"tiploc"`
		ForecastArrival   string `json:"forecast_arrival"`
		ForecastDeparture string `json:"forecast_departure"`
		ForecastPass      string `json:"forecast_pass"`
		DelayMinutes      *int   `json:"delay_minutes"`
		Platform          string `json:"platform"`
		ForecastTimestamp string `json:"forecast_timestamp"`
		Timestamp         string `json:"timestamp"`
	} `json:"forecasts"`
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// Decodes a realtime movement payload. The calculated event time is
// preferred over the berth step time.
func DecodeRealtime(data []byte) (*RealtimeEvent, error) {
	var raw realtimeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling realtime event: %w", err)
	}

	kind, err := ParseEventKind(raw.EventType)
	if err != nil {
		return nil, err
	}

	if raw.UID == "" && raw.Headcode == "" {
		return nil, fmt.Errorf("realtime event has neither uid nor headcode")
	}

	ts := raw.CalculatedEventTime
	if ts == "" {
		ts = raw.ActualStepTime
	}
	timestamp, err := parseTimestamp(ts)
	if err != nil {
		return nil, fmt.Errorf("parsing event time: %w", err)
	}

	return &RealtimeEvent{
		TrainID:   raw.UID,
		Headcode:  raw.Headcode,
		Location:  raw.Tiploc,
		Kind:      kind,
		Timestamp: timestamp,
		FromBerth: raw.FromBerth,
		ToBerth:   raw.ToBerth,
	}, nil
}

// Decodes a forecast payload. Times that cannot be parsed are left
// unset and reported through the returned warnings.
func DecodeForecast(data []byte) (*ForecastEvent, []error, error) {
	var raw forecastJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling forecast event: %w", err)
	}

	headcode := raw.TrainID
	if headcode == "" {
		headcode = raw.Headcode
	}
	if raw.UID == "" && headcode == "" {
		return nil, nil, fmt.Errorf("forecast event has neither uid nor headcode")
	}

	evt := &ForecastEvent{
		TrainID:      raw.UID,
		Headcode:     headcode,
		DelayMinutes: raw.Delay,
	}

	warnings := []error{}
	clock := func(field, s string) railtime.NullClock {
		c, err := railtime.ParseNull(s)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", field, err))
			return railtime.NullClock{}
		}
		return c
	}

	for _, f := range raw.Forecasts {
		ts := f.ForecastTimestamp
		if ts == "" {
			ts = f.Timestamp
		}
		timestamp, err := parseTimestamp(ts)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("forecast_timestamp at %s: %w", f.Tiploc, err))
		}

		evt.Forecasts = append(evt.Forecasts, Forecast{
			Location:     f.Tiploc,
			Arrival:      clock("forecast_arrival", f.ForecastArrival),
			Departure:    clock("forecast_departure", f.ForecastDeparture),
			Pass:         clock("forecast_pass", f.ForecastPass),
			DelayMinutes: f.DelayMinutes,
			Platform:     f.Platform,
			Timestamp:    timestamp,
		})
	}

	return evt, warnings, nil
}

// Decodes a payload tagged with "type", for transports carrying both
// kinds of event on one subject.
func DecodeEnvelope(data []byte) (Event, []error, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	switch envelope.Type {
	case "realtime":
		evt, err := DecodeRealtime(data)
		if err != nil {
			return nil, nil, err
		}
		return evt, nil, nil
	case "forecast":
		evt, warnings, err := DecodeForecast(data)
		if err != nil {
			return nil, nil, err
		}
		return evt, warnings, nil
	}

	return nil, nil, fmt.Errorf("%w: envelope type '%s'", ErrUnknownEventKind, envelope.Type)
}
