package translog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/quiverdb/translog/internal/logging"
	"github.com/quiverdb/translog/record"
	"github.com/quiverdb/translog/segment"
	"github.com/quiverdb/translog/translogmetrics"
)

// Location names one record within one generation. It is a direct
// re-export of segment.Location: the low-level file format and the
// manager share the same addressing scheme.
type Location = segment.Location

// Mode selects how Open constructs a Manager.
type Mode int

const (
	// ModeCreate deletes any existing directory contents and starts a
	// brand-new translog at generation 1.
	ModeCreate Mode = iota
	// ModeRecover scans the directory for every generation file present,
	// replays none of them into the segment store (replay into the
	// engine is the caller's job), and exposes them for replay via
	// Snapshot (a View covers only the committing and current
	// generations), then opens a fresh current generation.
	ModeRecover
	// ModeOpen is strict: it requires a checkpoint and opens exactly the
	// generation it names.
	ModeOpen
)

// Manager is the translog orchestrator: generations, recovery, append,
// snapshots, views, prepare/commit/rollback, and durability scheduling,
// all behind one outer reader/writer lock.
type Manager struct {
	dir string

	mu         sync.RWMutex // outer structural lock
	current    *segment.Writer
	committing *segment.Reader
	recovered  []*segment.Reader
	closed     bool
	fatal      atomic.Bool // set on a partial append; poisons the manager

	// lastCommittedGen is read by the channel-release hook without
	// taking mu, so that closing a channel — which may happen while mu
	// is already held exclusively during PrepareCommit/Commit/Rollback —
	// never has to re-enter the structural lock. Resolved here with a
	// lock-free watermark instead of literal lock reacquisition; see
	// DESIGN.md.
	lastCommittedGen atomic.Int64

	viewsMu sync.Mutex
	views   map[*View]struct{}

	settings atomic.Pointer[Settings]

	scheduler *scheduler
	metrics   *translogmetrics.Collector
}

// Option configures optional collaborators at Open.
type Option func(*Manager)

// WithMetrics registers a translogmetrics.Collector to receive append/
// sync/deletion counters.
func WithMetrics(c *translogmetrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

func newManager(dir string, settings *Settings) *Manager {
	m := &Manager{dir: dir, views: make(map[*View]struct{})}
	m.lastCommittedGen.Store(-1) // -1 means retain everything until the first commit
	m.settings.Store(settings)
	return m
}

// Open constructs a Manager per mode. On any construction failure every
// partially-opened reader/writer is closed before the error is
// returned.
func Open(mode Mode, dir string, settings *Settings, opts ...Option) (m *Manager, err error) {
	if settings == nil {
		settings = DefaultSettings()
	}

	switch mode {
	case ModeCreate:
		m, err = doCreate(dir, settings)
	case ModeRecover:
		m, err = doRecover(dir, settings)
	case ModeOpen:
		m, err = doOpen(dir, settings)
	default:
		return nil, fmt.Errorf("translog: unknown open mode %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("translog: construction failed: %w", err)
	}

	for _, opt := range opts {
		opt(m)
	}

	if settings.Durability == Async && settings.SyncInterval > 0 {
		m.scheduler = startScheduler(m, settings.SyncInterval)
	}

	logging.Info("translog: opened %s in mode %d at generation %d", dir, mode, m.current.Generation())
	return m, nil
}

func doCreate(dir string, settings *Settings) (*Manager, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, ioError(dir, err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, ioError(dir, err)
	}

	m := newManager(dir, settings)
	writer, err := segment.CreateWriter(dir, 1, settings.FSType, settings.BufferSize, m.releaseChannel)
	if err != nil {
		return nil, err
	}
	m.current = writer

	if err := WriteCheckpoint(dir, Checkpoint{Generation: 1, NumOps: 0, MinGeneration: 1}, settings.CheckpointDiagnostics); err != nil {
		writer.Close()
		return nil, err
	}
	return m, nil
}

func doRecover(dir string, settings *Settings) (*Manager, error) {
	m := newManager(dir, settings)

	found, err := segment.FindGenerations(dir)
	if err != nil {
		return nil, err
	}

	ckpt, ckptErr := ReadCheckpoint(dir)
	hadCheckpoint := ckptErr == nil
	if ckptErr != nil && !os.IsNotExist(ckptErr) {
		return nil, ioError(checkpointPath(dir), ckptErr)
	}
	if !hadCheckpoint {
		logging.Warn("translog: no checkpoint in %s, recovering from directory scan only", dir)
	}

	var recovered []*segment.Reader
	opened := map[int64]bool{}
	closeAll := func() {
		for _, r := range recovered {
			r.Close()
		}
	}

	if hadCheckpoint {
		path := segment.FileName(dir, ckpt.Generation)
		r, err := segment.Open(path, m.releaseChannel)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logging.Warn("translog: checkpoint named missing generation %d in %s, ignoring", ckpt.Generation, dir)
			} else {
				return nil, ioError(path, err)
			}
		} else {
			recovered = append(recovered, r)
			opened[ckpt.Generation] = true
		}
	}

	for _, f := range found {
		if opened[f.Gen] {
			continue
		}
		r, err := segment.Open(f.Path, m.releaseChannel)
		if err != nil {
			closeAll()
			return nil, ioError(f.Path, err)
		}
		recovered = append(recovered, r)
		opened[f.Gen] = true
	}
	sort.Slice(recovered, func(i, j int) bool { return recovered[i].Generation() < recovered[j].Generation() })

	var highest int64
	for gen := range opened {
		if gen > highest {
			highest = gen
		}
	}
	newGen := int64(1)
	if highest+1 > newGen {
		newGen = highest + 1
	}

	writer, err := segment.CreateWriter(dir, newGen, settings.FSType, settings.BufferSize, m.releaseChannel)
	if err != nil {
		closeAll()
		return nil, err
	}
	m.recovered = recovered
	m.current = writer

	if !hadCheckpoint {
		minGen := newGen
		if len(recovered) > 0 {
			minGen = recovered[0].Generation()
		}
		if err := WriteCheckpoint(dir, Checkpoint{Generation: newGen, NumOps: 0, MinGeneration: minGen}, settings.CheckpointDiagnostics); err != nil {
			writer.Close()
			closeAll()
			return nil, err
		}
	}
	return m, nil
}

func doOpen(dir string, settings *Settings) (*Manager, error) {
	ckpt, err := ReadCheckpoint(dir)
	if err != nil {
		return nil, ioError(checkpointPath(dir), fmt.Errorf("OPEN mode requires an existing checkpoint: %w", err))
	}

	m := newManager(dir, settings)
	// Nothing is deletable until the first commit after an OPEN.
	m.lastCommittedGen.Store(-1)

	path := segment.FileName(dir, ckpt.Generation)
	r, err := segment.Open(path, m.releaseChannel)
	if err != nil {
		return nil, ioError(path, err)
	}
	m.recovered = []*segment.Reader{r}

	writer, err := segment.CreateWriter(dir, ckpt.Generation+1, settings.FSType, settings.BufferSize, m.releaseChannel)
	if err != nil {
		r.Close()
		return nil, err
	}
	m.current = writer
	return m, nil
}

// releaseChannel is the on-close-of-a-channel hook: it deletes the
// backing file once a channel's last reference is dropped, provided the
// generation is now below the retention watermark.
func (m *Manager) releaseChannel(gen int64, path string) {
	if gen >= m.lastCommittedGen.Load() {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Error("translog: failed to delete generation %d file %s: %v", gen, path, err)
		return
	}
	logging.Debug("translog: deleted generation %d file %s", gen, path)
	if m.metrics != nil {
		m.metrics.IncGenerationsDeleted()
	}
}

func (m *Manager) settingsSnapshot() *Settings {
	return m.settings.Load()
}

// Add encodes and appends op, returning its Location. Under REQUEST
// durability, or ASYNC with a zero sync interval, the record is fsynced
// before this returns.
func (m *Manager) Add(op record.Operation) (Location, error) {
	encoded, err := record.Encode(op)
	if err != nil {
		return Location{}, &OperationError{OpDescription: describeOp(op), Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed || m.fatal.Load() {
		return Location{}, illegalState("add called on a closed or poisoned translog")
	}

	loc, err := m.current.Append(encoded)
	if err != nil {
		// A partial append is fatal: location offsets could now be
		// aliased. Poison the manager rather than pretend it's usable.
		m.fatal.Store(true)
		return Location{}, &OperationError{OpDescription: describeOp(op), Err: err}
	}

	if s := m.settingsSnapshot(); s.Durability == Request || s.SyncInterval == 0 {
		if err := m.current.Sync(); err != nil {
			return Location{}, &OperationError{OpDescription: describeOp(op), Err: err}
		}
		if m.metrics != nil {
			m.metrics.IncSyncs()
		}
	}

	if m.metrics != nil {
		m.metrics.IncAppends()
		m.metrics.AddBytes(loc.Size)
	}
	return loc, nil
}

// Read returns the operation at loc. Only the current and committing
// generations are valid targets; recovered generations are replayed via
// Snapshot only.
func (m *Manager) Read(loc Location) (record.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, illegalState("read called after close")
	}
	if loc.Gen == m.current.Generation() {
		return m.current.ReadAt(loc.Offset, loc.Size)
	}
	if m.committing != nil && loc.Gen == m.committing.Generation() {
		return m.committing.ReadAt(loc.Offset, loc.Size)
	}
	return nil, &InvalidLocationError{Location: loc}
}

// Sync flushes and fsyncs the current generation.
func (m *Manager) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return illegalState("sync called after close")
	}
	if err := m.current.Sync(); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.IncSyncs()
	}
	return nil
}

// SyncNeeded reports whether the current generation has appended bytes
// not yet fsynced.
func (m *Manager) SyncNeeded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	return m.current.SyncNeeded()
}

// EnsureSynced syncs the current generation if loc's bytes are not yet
// durable, returning whether a sync was performed.
func (m *Manager) EnsureSynced(loc Location) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, illegalState("ensureSynced called after close")
	}
	if loc.Gen == m.current.Generation() {
		synced, err := m.current.SyncUpTo(loc.Offset + loc.Size)
		if synced && m.metrics != nil {
			m.metrics.IncSyncs()
		}
		return synced, err
	}
	if m.committing != nil && loc.Gen == m.committing.Generation() {
		// Rolled generations are always fully synced by Roll itself.
		return false, nil
	}
	return false, &InvalidLocationError{Location: loc}
}

// CurrentGeneration returns the generation id of the writable tail.
func (m *Manager) CurrentGeneration() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Generation()
}

// TotalOperations returns the number of records appended to the current
// generation.
func (m *Manager) TotalOperations() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.TotalOperations()
}

// SizeInBytes returns the size, in record-stream bytes, of the current
// generation.
func (m *Manager) SizeInBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.SizeInBytes()
}

// GetDurability returns the currently active durability policy.
func (m *Manager) GetDurability() Durability {
	return m.settingsSnapshot().Durability
}

// UpdateBuffer resizes the current generation's append buffer under the
// write lock, flushing first if needed.
func (m *Manager) UpdateBuffer(size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return illegalState("updateBuffer called after close")
	}
	return m.current.UpdateBufferSize(size)
}

// UpdateSettings atomically publishes new durability/writer-type/buffer
// settings. A buffer-size change is applied to the live writer
// immediately; durability and sync interval are read by every later Add;
// the writer type applies to generations created after the change, while
// the current writer keeps its type. The background scheduler is started
// only by Open, so a settings change neither starts nor stops it.
func (m *Manager) UpdateSettings(s *Settings) error {
	if s == nil {
		return fmt.Errorf("translog: nil settings")
	}
	old := m.settingsSnapshot()
	m.settings.Store(s)
	if s.BufferSize != old.BufferSize {
		if err := m.UpdateBuffer(s.BufferSize); err != nil {
			return err
		}
	}
	return nil
}

// Metrics returns the collector registered at Open, or nil if none was.
func (m *Manager) Metrics() *translogmetrics.Collector { return m.metrics }

func describeOp(op record.Operation) string {
	switch o := op.(type) {
	case *record.OpCreate:
		return fmt.Sprintf("CREATE id=%s", o.ID)
	case *record.OpSave:
		return fmt.Sprintf("SAVE id=%s", o.ID)
	case *record.OpDelete:
		return fmt.Sprintf("DELETE uid=(%s,%s)", o.UIDField, o.UIDText)
	case *record.OpDeleteByQuery:
		return "DELETE_BY_QUERY"
	default:
		return fmt.Sprintf("%T", op)
	}
}

// PrepareCommit rolls the current generation into the committing slot
// and opens a fresh current generation. It is idempotent only in the
// sense that Commit calls it automatically if needed; a
// direct second call while a commit is outstanding is an IllegalState
// error.
func (m *Manager) PrepareCommit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepareCommitLocked()
}

func (m *Manager) prepareCommitLocked() error {
	if m.closed {
		return illegalState("prepareCommit called after close")
	}
	if m.committing != nil {
		return illegalState("prepareCommit called while a commit is already in progress")
	}

	oldWriter := m.current
	committingReader, err := oldWriter.Roll()
	if err != nil {
		return err
	}
	m.committing = committingReader

	newGen := oldWriter.Generation() + 1
	settings := m.settingsSnapshot()
	newWriter, err := segment.CreateWriter(m.dir, newGen, settings.FSType, settings.BufferSize, m.releaseChannel)
	if err != nil {
		return err
	}
	m.current = newWriter

	if err := WriteCheckpoint(m.dir, Checkpoint{Generation: newGen, NumOps: 0, MinGeneration: m.minGenerationLocked()}, settings.CheckpointDiagnostics); err != nil {
		return err
	}

	m.notifyViewsLocked(committingReader, newWriter)

	if err := oldWriter.Close(); err != nil {
		return err
	}
	return nil
}

func (m *Manager) minGenerationLocked() int64 {
	min := m.current.Generation()
	if m.committing != nil && m.committing.Generation() < min {
		min = m.committing.Generation()
	}
	for _, r := range m.recovered {
		if r.Generation() < min {
			min = r.Generation()
		}
	}
	return min
}

func (m *Manager) notifyViewsLocked(committingReader *segment.Reader, newWriter *segment.Writer) {
	m.viewsMu.Lock()
	views := make([]*View, 0, len(m.views))
	for v := range m.views {
		views = append(views, v)
	}
	m.viewsMu.Unlock()

	for _, v := range views {
		old := committingReader.Clone()
		fresh := newWriter.LiveReader()
		v.onNewTranslog(old, fresh)
	}
}

// Commit finalizes the durability handshake: everything up to the
// current generation is now durable in the segment store, so every
// generation below it becomes deletable once nothing else references
// it.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return illegalState("commit called after close")
	}
	if m.committing == nil {
		if err := m.prepareCommitLocked(); err != nil {
			return err
		}
	}
	if err := m.current.Sync(); err != nil {
		return err
	}

	m.lastCommittedGen.Store(m.current.Generation())

	for _, r := range m.recovered {
		if err := r.Close(); err != nil {
			logging.Error("translog: closing recovered generation %d: %v", r.Generation(), err)
		}
	}
	m.recovered = nil

	committing := m.committing
	m.committing = nil
	if err := committing.Close(); err != nil {
		return err
	}
	return nil
}

// Rollback closes the whole translog: any uncommitted current
// generation plus the committing reader, if present. Callers that want
// to restart after a rollback open a new Manager in ModeRecover.
func (m *Manager) Rollback() error {
	return m.closeLocked("rollback")
}

// Close shuts the translog down the same way Rollback does; the two
// names exist for the same underlying "stop accepting work, release
// every file" behavior, chosen by call site to read naturally.
func (m *Manager) Close() error {
	return m.closeLocked("close")
}

func (m *Manager) closeLocked(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.scheduler != nil {
		m.scheduler.Stop()
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	g := new(errgroup.Group)
	for _, r := range m.recovered {
		r := r
		g.Go(func() error { return r.Close() })
	}
	record(g.Wait())
	m.recovered = nil

	if m.committing != nil {
		record(m.committing.Close())
		m.committing = nil
	}
	if m.current != nil {
		record(m.current.Close())
	}

	logging.Info("translog: %s: %s closed", reason, m.dir)
	return firstErr
}
