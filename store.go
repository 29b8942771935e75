package activetrains

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jaygeraghty/CentralTMServer-sub000/model"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
)

var (
	ErrUnknownTrain     = errors.New("unknown train")
	ErrUnknownLocation  = errors.New("location not in schedule")
	ErrEmptyForecast    = errors.New("forecast has no locations")
	ErrRolloverInFlight = errors.New("rollover already in progress")

	// Returned by HandleRealtime and HandleForecast when the event
	// was queued for MarkReady rather than applied.
	ErrNotReady = errors.New("store not ready")
)

// Source of STP resolved timetable data for a date. Implemented by
// stp.Repository.
type Repository interface {
	ResolveSchedules(ctx context.Context, date time.Time) ([]*model.ScheduleVariant, error)
	ResolveAssociations(ctx context.Context, date time.Time) ([]*model.Association, error)
}

type StoreOptions struct {
	Logger   *slog.Logger
	Observer Observer

	// Defaults to DefaultLateDwell().
	LateDwell *LateDwell

	// Defaults to time.Now.
	Now func() time.Time

	// Capacity of the queue holding updates received before the
	// store is ready. Defaults to DefaultQueueSize.
	QueueSize int
}

// One railway day's trains.
type registry struct {
	date          time.Time
	byUID         map[string]*Train
	byHeadcode    map[string]*Train
	allByHeadcode map[string][]*Train

	// Removed after terminating or being cancelled. Only deletes look
	// here.
	finished           map[string]*Train
	finishedByHeadcode map[string]*Train
}

func newRegistry(date time.Time) *registry {
	return &registry{
		date:          date,
		byUID:         map[string]*Train{},
		byHeadcode:    map[string]*Train{},
		allByHeadcode: map[string][]*Train{},

		finished:           map[string]*Train{},
		finishedByHeadcode: map[string]*Train{},
	}
}

// The first train added for a headcode holds its slot in byHeadcode.
func (r *registry) add(t *Train) {
	r.byUID[t.UID] = t
	if t.Headcode == "" {
		return
	}
	if _, found := r.byHeadcode[t.Headcode]; !found {
		r.byHeadcode[t.Headcode] = t
	}
	r.allByHeadcode[t.Headcode] = append(r.allByHeadcode[t.Headcode], t)
}

// Removes t for good, remembering it as finished.
func (r *registry) remove(t *Train) {
	r.unlink(t)
	r.finished[t.UID] = t
	if t.Headcode != "" {
		r.finishedByHeadcode[t.Headcode] = t
	}
}

func (r *registry) unlink(t *Train) {
	if r.byUID[t.UID] == t {
		delete(r.byUID, t.UID)
	}
	if r.byHeadcode[t.Headcode] == t {
		delete(r.byHeadcode, t.Headcode)
	}

	all := r.allByHeadcode[t.Headcode]
	for i, other := range all {
		if other == t {
			all = append(all[:i:i], all[i+1:]...)
			break
		}
	}
	if len(all) == 0 {
		delete(r.allByHeadcode, t.Headcode)
	} else {
		r.allByHeadcode[t.Headcode] = all
	}
}

// Fresh maps holding the same trains.
func (r *registry) copy() *registry {
	c := newRegistry(r.date)
	for uid, t := range r.byUID {
		c.byUID[uid] = t
	}
	for hc, t := range r.byHeadcode {
		c.byHeadcode[hc] = t
	}
	for hc, all := range r.allByHeadcode {
		c.allByHeadcode[hc] = append([]*Train{}, all...)
	}
	for uid, t := range r.finished {
		c.finished[uid] = t
	}
	for hc, t := range r.finishedByHeadcode {
		c.finishedByHeadcode[hc] = t
	}
	return c
}

func (r *registry) activeHeadcodes() map[string]string {
	active := map[string]string{}
	uids := make([]string, 0, len(r.byUID))
	for uid := range r.byUID {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	for _, uid := range uids {
		t := r.byUID[uid]
		if t.Detected && t.Headcode != "" {
			if _, found := active[t.Headcode]; !found {
				active[t.Headcode] = uid
			}
		}
	}
	return active
}

// Holds the active trains of the current and next railway day, and
// applies realtime and forecast updates to them.
type Store struct {
	repo      Repository
	logger    *slog.Logger
	observer  Observer
	lateDwell LateDwell
	now       func() time.Time

	mu              sync.RWMutex
	today           *registry
	tomorrow        *registry
	activeHeadcodes map[string]string
	railwayDate     time.Time
	loadedAt        time.Time
	ready           bool
	queue           *updateQueue

	readyMu    sync.Mutex
	rolloverMu sync.Mutex
}

func NewStore(repo Repository, opts StoreOptions) *Store {
	s := &Store{
		repo:            repo,
		logger:          opts.Logger,
		observer:        opts.Observer,
		now:             opts.Now,
		today:           newRegistry(time.Time{}),
		tomorrow:        newRegistry(time.Time{}),
		activeHeadcodes: map[string]string{},
		queue:           newUpdateQueue(opts.QueueSize),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.LateDwell != nil {
		s.lateDwell = *opts.LateDwell
	} else {
		s.lateDwell = DefaultLateDwell()
	}
	return s
}

// Builds a registry for date. No lock is held.
func (s *Store) build(ctx context.Context, date time.Time) (*registry, error) {
	schedules, err := s.repo.ResolveSchedules(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("resolving schedules: %w", err)
	}
	assocs, err := s.repo.ResolveAssociations(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("resolving associations: %w", err)
	}

	reg := newRegistry(date)
	for _, v := range schedules {
		reg.add(newTrain(v, s.lateDwell, s.logger))
	}

	for _, a := range assocs {
		main := reg.byUID[a.MainUID]
		other := reg.byUID[a.AssocUID]
		if main != nil {
			attachAssociation(main, a, a.AssocUID, other, a.Category)
		}
		if other != nil {
			attachAssociation(other, a, a.MainUID, main, a.Category.Reverse())
		}
	}

	return reg, nil
}

// Records a on t. The stop level record is keyed by the other train's
// headcode, or by its UID when that train isn't running.
func attachAssociation(t *Train, a *model.Association, otherUID string, other *Train, category model.AssociationCategory) {
	record := Association{
		MainUID:       a.MainUID,
		AssocUID:      a.AssocUID,
		OtherUID:      otherUID,
		Category:      category,
		DateIndicator: a.DateIndicator,
		Location:      a.Location,
		BaseSuffix:    a.BaseSuffix,
		AssocSuffix:   a.AssocSuffix,
		STP:           a.STP,
		DateFrom:      a.DateFrom,
		DateTo:        a.DateTo,
		DaysRun:       a.DaysRun,
	}

	t.Associations[a.Location] = append(t.Associations[a.Location], record)

	key := otherUID
	if other != nil && other.Headcode != "" {
		key = other.Headcode
	}
	if idx := t.FirstStopAt(a.Location); idx >= 0 {
		t.Schedule.Stops[idx].Associations[key] = record
	}
}

func slotName(intoTomorrow bool) string {
	if intoTomorrow {
		return "tomorrow"
	}
	return "today"
}

// Loads the trains running on date into today's or tomorrow's
// registry. On error the existing registry is kept.
func (s *Store) LoadForDate(ctx context.Context, date time.Time, intoTomorrow bool) error {
	date = railtime.Date(date)

	reg, err := s.build(ctx, date)
	if err != nil {
		return fmt.Errorf("loading %s: %w", railtime.FormatDate(date), err)
	}

	s.mu.Lock()
	if intoTomorrow {
		s.tomorrow = reg
	} else {
		s.today = reg
		s.railwayDate = date
		s.activeHeadcodes = reg.activeHeadcodes()
	}
	s.loadedAt = s.now()
	s.mu.Unlock()

	s.logger.Info("loaded trains",
		"slot", slotName(intoTomorrow),
		"date", railtime.FormatDate(date),
		"trains", len(reg.byUID),
	)
	s.observer.TimetableLoaded(slotName(intoTomorrow), date, len(reg.byUID))

	return nil
}

// Rebuilds today's registry after the timetable changed. Trains
// already held keep their live state, new ones are added, and
// undetected trains no longer in the timetable are dropped.
func (s *Store) ReloadToday(ctx context.Context) error {
	s.mu.RLock()
	date := s.railwayDate
	s.mu.RUnlock()
	if date.IsZero() {
		return nil
	}

	fresh, err := s.build(ctx, date)
	if err != nil {
		return fmt.Errorf("loading %s: %w", railtime.FormatDate(date), err)
	}

	s.mu.Lock()
	if !s.railwayDate.Equal(date) {
		// Rolled over meanwhile
		s.mu.Unlock()
		return nil
	}
	merged := s.today.copy()

	added, dropped := 0, 0
	for _, uid := range sortedUIDs(fresh.byUID) {
		_, held := merged.byUID[uid]
		_, finished := merged.finished[uid]
		if !held && !finished {
			merged.add(fresh.byUID[uid])
			added++
		}
	}
	for _, uid := range sortedUIDs(s.today.byUID) {
		t := s.today.byUID[uid]
		if _, found := fresh.byUID[uid]; !found && !t.Detected {
			merged.unlink(t)
			dropped++
		}
	}

	s.today = merged
	s.loadedAt = s.now()
	trains := len(merged.byUID)
	s.mu.Unlock()

	s.logger.Info("reloaded trains",
		"slot", "today",
		"date", railtime.FormatDate(date),
		"trains", trains,
		"added", added,
		"dropped", dropped,
	)
	s.observer.TimetableLoaded("today", date, trains)

	return nil
}

func sortedUIDs(m map[string]*Train) []string {
	uids := make([]string, 0, len(m))
	for uid := range m {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// Loads both today (date) and tomorrow, replacing everything held.
func (s *Store) Refresh(ctx context.Context, date time.Time) error {
	date = railtime.Date(date)
	next := date.AddDate(0, 0, 1)

	today, err := s.build(ctx, date)
	if err != nil {
		return fmt.Errorf("loading %s: %w", railtime.FormatDate(date), err)
	}
	tomorrow, err := s.build(ctx, next)
	if err != nil {
		return fmt.Errorf("loading %s: %w", railtime.FormatDate(next), err)
	}

	s.mu.Lock()
	s.today = today
	s.tomorrow = tomorrow
	s.railwayDate = date
	s.activeHeadcodes = map[string]string{}
	s.loadedAt = s.now()
	s.mu.Unlock()

	s.logger.Info("refreshed trains",
		"date", railtime.FormatDate(date),
		"today", len(today.byUID),
		"tomorrow", len(tomorrow.byUID),
	)
	s.observer.TimetableLoaded("today", date, len(today.byUID))
	s.observer.TimetableLoaded("tomorrow", next, len(tomorrow.byUID))

	return nil
}

// Today's train with the given UID.
func (s *Store) Train(uid string) (*Train, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, found := s.today.byUID[uid]
	if !found {
		return nil, false
	}
	return t.Clone(), true
}

// Today's train holding the headcode's slot. For a headcode shared by
// several trains, this is the first one loaded.
func (s *Store) TrainByHeadcode(headcode string) (*Train, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, found := s.today.byHeadcode[headcode]
	if !found {
		return nil, false
	}
	return t.Clone(), true
}

func (s *Store) TomorrowTrain(uid string) (*Train, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, found := s.tomorrow.byUID[uid]
	if !found {
		return nil, false
	}
	return t.Clone(), true
}

func (s *Store) TomorrowTrainByHeadcode(headcode string) (*Train, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, found := s.tomorrow.byHeadcode[headcode]
	if !found {
		return nil, false
	}
	return t.Clone(), true
}

// All of today's trains, ordered by UID.
func (s *Store) Trains() []*Train {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trains := make([]*Train, 0, len(s.today.byUID))
	for _, t := range s.today.byUID {
		trains = append(trains, t.Clone())
	}
	sort.Slice(trains, func(i, j int) bool {
		return trains[i].UID < trains[j].UID
	})
	return trains
}

// Seconds into the railway day. Times before the rollover hour belong
// to the end of the day.
func railwaySeconds(c railtime.Clock) int {
	secs := int(c)
	if c.Hour() < railtime.RolloverHour {
		secs += 24 * 3600
	}
	return secs
}

// Scheduled time of a stop, preferring departure, then pass, then
// arrival.
func scheduledTime(stop *Stop) (railtime.Clock, bool) {
	for _, c := range []railtime.NullClock{stop.Departure, stop.Pass, stop.Arrival} {
		if c.Valid {
			return c.Clock, true
		}
	}
	return 0, false
}

// Today's trains calling at or passing tiploc, ordered by their
// scheduled time there.
func (s *Store) TrainsAt(tiploc string) []*Train {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type visit struct {
		train *Train
		secs  int
	}

	visits := []visit{}
	for _, t := range s.today.byUID {
		idx := t.FirstStopAt(tiploc)
		if idx < 0 {
			continue
		}
		secs := 48 * 3600
		if c, ok := scheduledTime(t.Schedule.Stops[idx]); ok {
			secs = railwaySeconds(c)
		}
		visits = append(visits, visit{t, secs})
	}

	sort.Slice(visits, func(i, j int) bool {
		if visits[i].secs != visits[j].secs {
			return visits[i].secs < visits[j].secs
		}
		return visits[i].train.UID < visits[j].train.UID
	})

	trains := make([]*Train, 0, len(visits))
	for _, v := range visits {
		trains = append(trains, v.train.Clone())
	}
	return trains
}

type Status struct {
	RailwayDate     time.Time
	LoadedAt        time.Time
	Today           int
	Tomorrow        int
	ActiveHeadcodes int
	Ready           bool
	Queued          int
	Overflowed      int
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		RailwayDate:     s.railwayDate,
		LoadedAt:        s.loadedAt,
		Today:           len(s.today.byUID),
		Tomorrow:        len(s.tomorrow.byUID),
		ActiveHeadcodes: len(s.activeHeadcodes),
		Ready:           s.ready,
		Queued:          s.queue.len(),
		Overflowed:      s.queue.dropped,
	}
}

// UID of the train currently live under headcode, if any.
func (s *Store) ActiveUID(headcode string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uid, found := s.activeHeadcodes[headcode]
	return uid, found
}

// Removes a terminated or cancelled train from today's registry and
// from the active headcodes. Caller holds the write lock.
func (s *Store) removeLocked(t *Train) {
	s.today.remove(t)
	if s.activeHeadcodes[t.Headcode] == t.UID {
		delete(s.activeHeadcodes, t.Headcode)
	}
}
