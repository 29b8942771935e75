// Package snapshot publishes live train state to Redis, as a key per
// train and a message on a pub/sub channel for every change.
package snapshot

import (
	"time"

	activetrains "github.com/jaygeraghty/CentralTMServer-sub000"
)

type StopSnapshot struct {
	Tiploc             string `json:"tiploc"`
	Platform           string `json:"platform,omitempty"`
	Arrival            string `json:"arrival,omitempty"`
	Departure          string `json:"departure,omitempty"`
	Pass               string `json:"pass,omitempty"`
	PredictedArrival   string `json:"predicted_arrival,omitempty"`
	PredictedDeparture string `json:"predicted_departure,omitempty"`
	PredictedPass      string `json:"predicted_pass,omitempty"`
	DelayMinutes       *int   `json:"delay_minutes,omitempty"`

	ActualArrival   *time.Time `json:"actual_arrival,omitempty"`
	ActualDeparture *time.Time `json:"actual_departure,omitempty"`
	ActualPass      *time.Time `json:"actual_pass,omitempty"`

	ForecastPlatform string `json:"forecast_platform,omitempty"`
}

type TrainSnapshot struct {
	UID             string         `json:"uid"`
	Headcode        string         `json:"headcode"`
	State           string         `json:"state"`
	Berth           string         `json:"berth,omitempty"`
	LastLocation    string         `json:"last_location,omitempty"`
	CurrentPosition string         `json:"current_position,omitempty"`
	LastReportTime  *time.Time     `json:"last_report_time,omitempty"`
	TerminalTime    *time.Time     `json:"terminal_time,omitempty"`
	Stops           []StopSnapshot `json:"stops"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func FromTrain(t *activetrains.Train) TrainSnapshot {
	snap := TrainSnapshot{
		UID:             t.UID,
		Headcode:        t.Headcode,
		State:           t.State().String(),
		Berth:           t.Berth,
		LastLocation:    t.LastLocation,
		CurrentPosition: t.CurrentPosition,
		LastReportTime:  timePtr(t.LastReportTime),
		TerminalTime:    timePtr(t.TerminalTime),
		Stops:           []StopSnapshot{},
	}
	if t.Schedule == nil {
		return snap
	}

	for _, s := range t.Schedule.Stops {
		snap.Stops = append(snap.Stops, StopSnapshot{
			Tiploc:             s.Tiploc,
			Platform:           s.Platform,
			Arrival:            s.Arrival.String(),
			Departure:          s.Departure.String(),
			Pass:               s.Pass.String(),
			PredictedArrival:   s.PredictedArrival.String(),
			PredictedDeparture: s.PredictedDeparture.String(),
			PredictedPass:      s.PredictedPass.String(),
			DelayMinutes:       s.PredictedDelayMin,
			ActualArrival:      timePtr(s.ActualArrival),
			ActualDeparture:    timePtr(s.ActualDeparture),
			ActualPass:         timePtr(s.ActualPass),
			ForecastPlatform:   s.ForecastPlatform,
		})
	}

	return snap
}
