package activetrains

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jaygeraghty/CentralTMServer-sub000/downloader"
	"github.com/jaygeraghty/CentralTMServer-sub000/parse"
	"github.com/jaygeraghty/CentralTMServer-sub000/railtime"
	"github.com/jaygeraghty/CentralTMServer-sub000/storage"
	"github.com/jaygeraghty/CentralTMServer-sub000/stp"
)

const (
	DefaultTickInterval   = 30 * time.Second
	DefaultImportInterval = 30 * time.Minute
	DefaultImportTimeout  = 5 * time.Minute
	DefaultImportMaxSize  = 800 << 20 // 800 MB
	DefaultImportCacheTTL = 10 * time.Minute
)

// Manager keeps the timetable in storage up to date, and the Store in
// step with the railway day.
type Manager struct {
	TickInterval   time.Duration
	ImportInterval time.Duration
	ImportTimeout  time.Duration
	ImportMaxSize  int
	Downloader     downloader.Downloader

	// Remote extracts fetched within this long are reused rather
	// than downloaded again. Zero disables caching.
	ImportCacheTTL time.Duration

	// Timetable extracts to import, as URLs or local paths.
	Sources []string

	storage storage.Storage
	store   *Store
	logger  *slog.Logger
	now     func() time.Time

	mutex      sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	lastImport time.Time
}

// Creates a Manager and its Store on top of the given storage.
func NewManager(s storage.Storage, opts StoreOptions) (*Manager, error) {
	reader, err := s.GetReader()
	if err != nil {
		return nil, fmt.Errorf("getting reader: %w", err)
	}

	store := NewStore(stp.NewRepository(reader), opts)

	return &Manager{
		TickInterval:   DefaultTickInterval,
		ImportInterval: DefaultImportInterval,
		ImportTimeout:  DefaultImportTimeout,
		ImportMaxSize:  DefaultImportMaxSize,
		ImportCacheTTL: DefaultImportCacheTTL,
		Downloader:     downloader.NewFilesystem(downloader.NewMemoryDownloader()),

		storage: s,
		store:   store,
		logger:  store.logger,
		now:     store.now,
	}, nil
}

func (m *Manager) Store() *Store {
	return m.store
}

// Fetches and imports a timetable extract. Extracts already in
// storage, by hash, are not parsed again. Returns true if new data
// was written.
func (m *Manager) Import(ctx context.Context, source string) (*storage.ImportMetadata, bool, error) {
	body, err := m.Downloader.Get(
		ctx,
		source,
		nil,
		downloader.GetOptions{
			Cache:    downloader.IsRemote(source) && m.ImportCacheTTL > 0,
			CacheTTL: m.ImportCacheTTL,
			Timeout:  m.ImportTimeout,
			MaxSize:  m.ImportMaxSize,
		},
	)
	if err != nil {
		return nil, false, fmt.Errorf("downloading %s: %w", source, err)
	}
	hash := fmt.Sprintf("%x", sha256.Sum256(body))

	// The data may already be in storage, possibly under another
	// source.
	existing, err := m.storage.ListImports(storage.ListImportsFilter{Hash: hash})
	if err != nil {
		return nil, false, fmt.Errorf("listing imports: %w", err)
	}
	for _, imp := range existing {
		if imp.Source == source {
			return imp, false, nil
		}
	}
	if len(existing) > 0 {
		metadata := *existing[0]
		metadata.Source = source
		metadata.ImportedAt = m.now().UTC()
		err = m.storage.WriteImportMetadata(&metadata)
		if err != nil {
			return nil, false, fmt.Errorf("writing metadata: %w", err)
		}
		return &metadata, false, nil
	}

	writer, err := m.storage.GetWriter()
	if err != nil {
		return nil, false, fmt.Errorf("getting writer: %w", err)
	}

	metadata, err := parse.ParseTimetable(writer, body)
	if err != nil {
		writer.Close()
		return nil, false, fmt.Errorf("parsing %s: %w", source, err)
	}

	metadata.Hash = hash
	metadata.Source = source
	metadata.ImportedAt = m.now().UTC()

	err = m.storage.WriteImportMetadata(metadata)
	if err != nil {
		return nil, false, fmt.Errorf("writing metadata: %w", err)
	}

	m.logger.Info("imported timetable",
		"source", source,
		"hash", hash[:12],
		"schedules", metadata.Schedules,
		"locations", metadata.Locations,
		"associations", metadata.Associations,
	)

	return metadata, true, nil
}

// Imports every source. Returns the number of sources that brought new
// data, and the combined errors of those that failed.
func (m *Manager) ImportAll(ctx context.Context) (int, error) {
	imported := 0
	errs := []error{}
	for _, source := range m.Sources {
		_, fresh, err := m.Import(ctx, source)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if fresh {
			imported++
		}
	}

	m.mutex.Lock()
	m.lastImport = m.now()
	m.mutex.Unlock()

	return imported, errors.Join(errs...)
}

// Imports, loads the current railway day and its successor, and marks
// the store ready.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.ImportAll(ctx); err != nil {
		m.logger.Error("initial import failed", "error", err)
	}

	date := railtime.RailwayDate(m.now())
	if err := m.store.Refresh(ctx, date); err != nil {
		return fmt.Errorf("loading trains: %w", err)
	}

	m.store.MarkReady(ctx)
	return nil
}

// Runs the rollover and import jobs until ctx is cancelled or Stop is
// called.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	m.mutex.Lock()
	if m.done != nil {
		m.mutex.Unlock()
		cancel()
		return fmt.Errorf("already running")
	}
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	if m.lastImport.IsZero() {
		m.lastImport = m.now()
	}
	m.mutex.Unlock()

	defer func() {
		cancel()
		m.mutex.Lock()
		m.cancel = nil
		m.done = nil
		m.mutex.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(m.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Runs whichever jobs are due.
func (m *Manager) Tick(ctx context.Context) {
	now := m.now()

	// Compared against the store rather than the clock so that a
	// missed rollover minute still rolls over.
	if !railtime.RailwayDate(now).Equal(m.store.Status().RailwayDate) {
		err := m.store.Rollover(ctx)
		if errors.Is(err, ErrRolloverInFlight) {
			m.logger.Debug("rollover already running")
		} else if err != nil {
			m.logger.Error("rollover failed", "error", err)
		}
	}

	m.mutex.Lock()
	due := now.Sub(m.lastImport) >= m.ImportInterval
	m.mutex.Unlock()
	if !due {
		return
	}

	imported, err := m.ImportAll(ctx)
	if err != nil {
		m.logger.Error("import failed", "error", err)
	}
	if imported == 0 {
		return
	}

	if err := m.store.ReloadToday(ctx); err != nil {
		m.logger.Error("reloading today failed", "error", err)
	}
	tomorrow := m.store.Status().RailwayDate.AddDate(0, 0, 1)
	if err := m.store.LoadForDate(ctx, tomorrow, true); err != nil {
		m.logger.Error("reloading tomorrow failed", "error", err)
	}
}

// Stops Run and waits for it to return.
func (m *Manager) Stop() {
	m.mutex.Lock()
	cancel, done := m.cancel, m.done
	m.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
