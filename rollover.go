package activetrains

import (
	"context"
	"fmt"

	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

// Advances to the current railway day: tomorrow's trains become
// today's and the following day is loaded as tomorrow.
//
// If there is nothing to promote, today is loaded directly instead. If
// that load fails, nothing changes. If only the new tomorrow fails to
// load, the promotion stands, tomorrow is left empty and the error is
// returned so the caller can retry.
func (s *Store) Rollover(ctx context.Context) error {
	if !s.rolloverMu.TryLock() {
		return ErrRolloverInFlight
	}
	defer s.rolloverMu.Unlock()

	date := railtime.RailwayDate(s.now())
	next := date.AddDate(0, 0, 1)

	s.mu.RLock()
	current := s.railwayDate
	beforeToday := len(s.today.byUID)
	beforeTomorrow := len(s.tomorrow.byUID)
	promoted := s.tomorrow.copy()
	s.mu.RUnlock()

	if current.Equal(date) {
		s.logger.Debug("already on railway date", "date", railtime.FormatDate(date))
		return nil
	}

	if !promoted.date.Equal(date) {
		if len(promoted.byUID) > 0 {
			s.logger.Warn("discarding tomorrow's trains loaded for another date",
				"loaded_for", railtime.FormatDate(promoted.date),
				"date", railtime.FormatDate(date),
			)
		}
		promoted = newRegistry(date)
	}

	fallback := false
	if len(promoted.byUID) == 0 {
		s.logger.Warn("rollover promoted no trains, loading today directly",
			"date", railtime.FormatDate(date),
		)
		reg, err := s.build(ctx, date)
		if err != nil {
			err = fmt.Errorf("loading today: %w", err)
			s.observer.RolledOver(date, err)
			return err
		}
		promoted = reg
		fallback = true
	}

	tomorrow, tomorrowErr := s.build(ctx, next)
	if tomorrowErr != nil {
		tomorrow = newRegistry(next)
	}

	s.mu.Lock()
	s.today = promoted
	s.tomorrow = tomorrow
	s.activeHeadcodes = promoted.activeHeadcodes()
	s.railwayDate = date
	s.loadedAt = s.now()
	s.mu.Unlock()

	s.logger.Info("rolled over",
		"date", railtime.FormatDate(date),
		"before_today", beforeToday,
		"before_tomorrow", beforeTomorrow,
		"today", len(promoted.byUID),
		"tomorrow", len(tomorrow.byUID),
	)

	if fallback {
		s.observer.RolloverFallback()
	}
	s.observer.TimetableLoaded("today", date, len(promoted.byUID))

	if tomorrowErr != nil {
		err := fmt.Errorf("loading tomorrow: %w", tomorrowErr)
		s.logger.Error("rollover left tomorrow empty", "error", err)
		s.observer.RolledOver(date, err)
		return err
	}

	s.observer.TimetableLoaded("tomorrow", next, len(tomorrow.byUID))
	s.observer.RolledOver(date, nil)
	return nil
}
