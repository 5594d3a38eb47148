package memory

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/evolvai/evolv/core"
)

// WorkingStore is the volatile, session-scoped store of the memory
// substrate. Entries are TTL-bounded and swept by a background goroutine;
// values above the compression threshold are stored gzip-compressed and
// transparently re-inflated on read.
//
// Concurrency: operations on different sessions run concurrently; within a
// session they serialize on a per-session lock.
type WorkingStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionStore

	config core.WorkingConfig
	logger core.Logger

	stats  WorkingStats
	stopCh chan struct{}
	doneCh chan struct{}
}

type sessionStore struct {
	mu      sync.Mutex
	entries map[string]*workingEntry
}

type workingEntry struct {
	data       []byte
	compressed bool
	createdAt  time.Time
	lastAccess time.Time
	expiresAt  time.Time
}

// WorkingStats is a point-in-time snapshot of store usage.
type WorkingStats struct {
	Sessions   int   `json:"sessions"`
	Entries    int   `json:"entries"`
	Compressed int   `json:"compressed"`
	Expired    int64 `json:"expired"`
	Sweeps     int64 `json:"sweeps"`
}

// NewWorkingStore creates a working store and starts its sweeper.
func NewWorkingStore(config core.WorkingConfig, logger core.Logger) *WorkingStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if config.Timeout <= 0 {
		config.Timeout = 3600 * time.Second
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	s := &WorkingStore{
		sessions: make(map[string]*sessionStore),
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Put stores a value under (session, key). A zero ttl uses the configured
// default. Returns core.ErrStoreFull when the entry cap is reached.
func (s *WorkingStore) Put(session, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.config.Timeout
	}
	data, err := json.Marshal(value)
	if err != nil {
		return &core.FrameworkError{Op: "working.Put", Kind: "store", ID: key, Err: err}
	}

	compressed := false
	if s.config.CompressionThreshold > 0 && len(data) > s.config.CompressionThreshold {
		if packed, err := gzipBytes(data); err == nil && len(packed) < len(data) {
			data = packed
			compressed = true
		}
	}

	ss := s.session(session, true)
	now := time.Now()

	if s.config.MaxEntries > 0 && s.totalEntries() >= s.config.MaxEntries {
		ss.mu.Lock()
		_, replacing := ss.entries[key]
		ss.mu.Unlock()
		if !replacing {
			return &core.FrameworkError{Op: "working.Put", Kind: "store", ID: key, Err: core.ErrStoreFull}
		}
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.entries[key] = &workingEntry{
		data:       data,
		compressed: compressed,
		createdAt:  now,
		lastAccess: now,
		expiresAt:  now.Add(ttl),
	}
	return nil
}

// Get retrieves a value. A missing or expired key is not an error: the
// second return value reports presence. dest, when non-nil, receives the
// decoded value.
func (s *WorkingStore) Get(session, key string, dest interface{}) (bool, error) {
	ss := s.session(session, false)
	if ss == nil {
		return false, nil
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	entry, ok := ss.entries[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(ss.entries, key)
		return false, nil
	}
	entry.lastAccess = time.Now()

	data := entry.data
	if entry.compressed {
		inflated, err := gunzipBytes(data)
		if err != nil {
			return false, &core.FrameworkError{Op: "working.Get", Kind: "store", ID: key, Err: err}
		}
		data = inflated
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, &core.FrameworkError{Op: "working.Get", Kind: "store", ID: key, Err: err}
	}
	return true, nil
}

// Delete removes one key from a session. Deleting a missing key is a no-op.
func (s *WorkingStore) Delete(session, key string) {
	if ss := s.session(session, false); ss != nil {
		ss.mu.Lock()
		delete(ss.entries, key)
		ss.mu.Unlock()
	}
}

// List returns the live keys of a session.
func (s *WorkingStore) List(session string) []string {
	ss := s.session(session, false)
	if ss == nil {
		return nil
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	now := time.Now()
	keys := make([]string, 0, len(ss.entries))
	for k, e := range ss.entries {
		if now.Before(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Clear removes every entry of a session. Called on session close: the
// working store never outlives its session.
func (s *WorkingStore) Clear(session string) {
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
}

// Stats returns a usage snapshot.
func (s *WorkingStore) Stats() WorkingStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := WorkingStats{
		Sessions: len(s.sessions),
		Expired:  s.stats.Expired,
		Sweeps:   s.stats.Sweeps,
	}
	for _, ss := range s.sessions {
		ss.mu.Lock()
		stats.Entries += len(ss.entries)
		for _, e := range ss.entries {
			if e.compressed {
				stats.Compressed++
			}
		}
		ss.mu.Unlock()
	}
	return stats
}

// Snapshot writes a JSON dump of the live entries to the configured path.
// Best-effort: the store has no durability requirement.
func (s *WorkingStore) Snapshot() error {
	if s.config.SnapshotPath == "" {
		return nil
	}
	dump := make(map[string][]string)
	s.mu.RLock()
	for id := range s.sessions {
		dump[id] = nil
	}
	s.mu.RUnlock()
	for id := range dump {
		dump[id] = s.List(id)
	}
	data, err := json.Marshal(dump)
	if err != nil {
		return err
	}
	return os.WriteFile(s.config.SnapshotPath, data, 0o644)
}

// Close stops the sweeper.
func (s *WorkingStore) Close() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *WorkingStore) session(id string, create bool) *sessionStore {
	s.mu.RLock()
	ss := s.sessions[id]
	s.mu.RUnlock()
	if ss != nil || !create {
		return ss
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss = s.sessions[id]; ss == nil {
		ss = &sessionStore{entries: make(map[string]*workingEntry)}
		s.sessions[id] = ss
	}
	return ss
}

func (s *WorkingStore) totalEntries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ss := range s.sessions {
		ss.mu.Lock()
		n += len(ss.entries)
		ss.mu.Unlock()
	}
	return n
}

func (s *WorkingStore) sweepLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	var snapshotTicker <-chan time.Time
	if s.config.SnapshotPath != "" && s.config.SnapshotInterval > 0 {
		t := time.NewTicker(s.config.SnapshotInterval)
		defer t.Stop()
		snapshotTicker = t.C
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		case <-snapshotTicker:
			if err := s.Snapshot(); err != nil {
				s.logger.Warn("Working store snapshot failed", map[string]interface{}{
					"operation": "working_snapshot",
					"error":     err.Error(),
				})
			}
		}
	}
}

func (s *WorkingStore) sweep() {
	now := time.Now()
	var expired int64

	s.mu.RLock()
	sessions := make([]*sessionStore, 0, len(s.sessions))
	for _, ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.RUnlock()

	for _, ss := range sessions {
		ss.mu.Lock()
		for k, e := range ss.entries {
			if now.After(e.expiresAt) {
				delete(ss.entries, k)
				expired++
			}
		}
		ss.mu.Unlock()
	}

	s.mu.Lock()
	s.stats.Sweeps++
	s.stats.Expired += expired
	s.mu.Unlock()

	if expired > 0 {
		s.logger.Debug("Working store sweep", map[string]interface{}{
			"operation": "working_sweep",
			"expired":   expired,
		})
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
