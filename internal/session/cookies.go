// Package session persists per-source browsing session state so the fetch
// collaborator can resume authenticated sessions across process restarts.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Cookie is one entry of a session's cookie set.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// CookieSet maps cookie names to cookies for one source identity.
type CookieSet map[string]Cookie

// snapshot is the on-disk representation: a complete session state, not an
// append log, so a fresh process resumes without replaying history.
type snapshot struct {
	Cookies []Cookie `json:"cookies"`
}

// Store keeps per-source cookie sets in memory, backed by one JSON snapshot
// file per source identity. Access to one identity is serialized; distinct
// identities proceed fully in parallel.
type Store struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	cache map[string]CookieSet
}

// NewStore creates the snapshot directory if needed and returns a Store.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		cache:  make(map[string]CookieSet),
	}, nil
}

// Load returns the cached set for the source identity, reading the snapshot
// from disk on first access. Missing snapshots yield an empty set.
func (s *Store) Load(sourceID string) (CookieSet, error) {
	lock := s.identityLock(sourceID)
	lock.Lock()
	defer lock.Unlock()
	return s.loadLocked(sourceID)
}

// Merge folds newCookies into the stored set by cookie name, newest value
// winning, persists the full snapshot, and returns the merged set so callers
// can rebuild session state without a second read.
func (s *Store) Merge(sourceID string, newCookies []Cookie) (CookieSet, error) {
	lock := s.identityLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	set, err := s.loadLocked(sourceID)
	if err != nil {
		return nil, err
	}

	merged := make(CookieSet, len(set)+len(newCookies))
	for name, c := range set {
		merged[name] = c
	}
	for _, c := range newCookies {
		if c.Name == "" {
			continue
		}
		merged[c.Name] = c
	}

	if err := s.persistLocked(sourceID, merged); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[sourceID] = merged
	s.mu.Unlock()

	return merged.clone(), nil
}

func (s *Store) loadLocked(sourceID string) (CookieSet, error) {
	s.mu.Lock()
	cached, ok := s.cache[sourceID]
	s.mu.Unlock()
	if ok {
		return cached.clone(), nil
	}

	set := CookieSet{}
	data, err := os.ReadFile(s.snapshotPath(sourceID))
	switch {
	case err == nil:
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("decode cookie snapshot for %s: %w", sourceID, err)
		}
		for _, c := range snap.Cookies {
			set[c.Name] = c
		}
	case os.IsNotExist(err):
		// First contact for this identity.
	default:
		return nil, fmt.Errorf("read cookie snapshot for %s: %w", sourceID, err)
	}

	s.mu.Lock()
	s.cache[sourceID] = set
	s.mu.Unlock()

	return set.clone(), nil
}

func (s *Store) persistLocked(sourceID string, set CookieSet) error {
	snap := snapshot{Cookies: make([]Cookie, 0, len(set))}
	for _, c := range set {
		snap.Cookies = append(snap.Cookies, c)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode cookie snapshot for %s: %w", sourceID, err)
	}

	path := s.snapshotPath(sourceID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cookie snapshot for %s: %w", sourceID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace cookie snapshot for %s: %w", sourceID, err)
	}
	s.logger.Debug("cookie snapshot persisted",
		zap.String("source_id", sourceID),
		zap.Int("cookies", len(set)),
	)
	return nil
}

func (s *Store) snapshotPath(sourceID string) string {
	// Source identities can contain separators; keep filenames flat.
	safe := strings.NewReplacer("/", "_", string(filepath.Separator), "_", ":", "_").Replace(sourceID)
	return filepath.Join(s.dir, safe+".json")
}

func (s *Store) identityLock(sourceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sourceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sourceID] = lock
	}
	return lock
}

func (c CookieSet) clone() CookieSet {
	out := make(CookieSet, len(c))
	for name, cookie := range c {
		out[name] = cookie
	}
	return out
}
