package kiroauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// entry is one account's in-memory credential state plus the file it was
// loaded from (empty in tests that construct credentials without a file).
type entry struct {
	mu   sync.RWMutex
	cred Credential
	path string
}

// Store holds every account's Credential behind a per-account lock, and
// coalesces concurrent refreshes for the same account through a
// singleflight group keyed by account name — spec.md §4.3/§5: "concurrent
// requests using the same account serialize their refresh."
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	group      singleflight.Group
	httpClient *http.Client
	log        *logrus.Entry
}

// NewStore constructs an empty Store. httpClient, if nil, defaults to a
// client with a 15s timeout per spec.md §5 ("Refresh endpoint 15s total").
func NewStore(httpClient *http.Client) *Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Store{
		entries:    make(map[string]*entry),
		httpClient: httpClient,
		log:        logrus.WithField("component", "kiroauth"),
	}
}

// LoadDir loads every "*.json" file in dir as one account, named by the
// file's stem, per spec.md §6 ("credentialsDir enables multi-account mode").
func (s *Store) LoadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("kiroauth: glob %s: %w", dir, err)
	}
	sort.Strings(matches)
	for _, path := range matches {
		name := fileStem(path)
		if err := s.LoadFile(name, path); err != nil {
			return fmt.Errorf("kiroauth: load %s: %w", path, err)
		}
	}
	return nil
}

// LoadFile loads a single credential file under the given account name.
func (s *Store) LoadFile(name, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cred Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cred.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[name] = &entry{cred: cred, path: path}
	s.mu.Unlock()
	s.log.WithField("account", name).Info("loaded credential")
	return nil
}

// Add registers an in-memory credential under name, persisting it to path
// if one is given (admin "add" mutation, spec.md §4.4).
func (s *Store) Add(name string, cred Credential, path string) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[name] = &entry{cred: cred, path: path}
	s.mu.Unlock()
	if path != "" {
		return writeAtomic(path, cred)
	}
	return nil
}

// Remove drops an account from the store, optionally deleting its backing
// file (admin "remove" mutation, spec.md §4.4).
func (s *Store) Remove(name string, deleteFile bool) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if ok {
		delete(s.entries, name)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("kiroauth: unknown account %q", name)
	}
	if deleteFile && e.path != "" {
		return os.Remove(e.path)
	}
	return nil
}

// Names returns every loaded account name, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a snapshot copy of the named account's current credential.
func (s *Store) Get(name string) (Credential, bool) {
	e, ok := s.lookup(name)
	if !ok {
		return Credential{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cred, true
}

func (s *Store) lookup(name string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

// EnsureFresh returns a valid access token for name, eagerly refreshing it
// first if it is within the 60-second skew of expiry (spec.md §4.3).
func (s *Store) EnsureFresh(ctx context.Context, name string) (string, error) {
	e, ok := s.lookup(name)
	if !ok {
		return "", fmt.Errorf("kiroauth: unknown account %q", name)
	}

	e.mu.RLock()
	cred := e.cred
	e.mu.RUnlock()

	if !cred.NeedsRefresh(time.Now()) {
		return cred.AccessToken, nil
	}
	return s.ForceRefresh(ctx, name)
}

// ForceRefresh refreshes name's access token unconditionally — used both by
// EnsureFresh's eager path and by the orchestrator's lazy retry on a 401
// (spec.md §4.3's "lazily on any upstream 401"). Concurrent callers for the
// same account share one in-flight refresh via singleflight.
func (s *Store) ForceRefresh(ctx context.Context, name string) (string, error) {
	v, err, _ := s.group.Do(name, func() (any, error) {
		return s.refreshAndPersist(ctx, name)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Store) refreshAndPersist(ctx context.Context, name string) (string, error) {
	e, ok := s.lookup(name)
	if !ok {
		return "", fmt.Errorf("kiroauth: unknown account %q", name)
	}

	e.mu.RLock()
	cred := e.cred
	e.mu.RUnlock()

	var refreshed refreshResult
	var err error
	switch cred.AuthMethod {
	case AuthMethodIdC:
		refreshed, err = refreshIdC(ctx, s.httpClient, cred)
	default:
		refreshed, err = refreshSocial(ctx, s.httpClient, cred)
	}
	if err != nil {
		s.log.WithField("account", name).WithError(err).Warn("refresh failed")
		return "", err
	}

	e.mu.Lock()
	e.cred.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		e.cred.RefreshToken = refreshed.RefreshToken
	}
	e.cred.ExpiresAt = refreshed.ExpiresAt
	updated := e.cred
	path := e.path
	e.mu.Unlock()

	if path != "" {
		if err := writeAtomic(path, updated); err != nil {
			s.log.WithField("account", name).WithError(err).Warn("persist refreshed credential failed")
			return "", fmt.Errorf("kiroauth: persist refreshed credential: %w", err)
		}
	}
	s.log.WithField("account", name).Info("refreshed credential")
	return updated.AccessToken, nil
}

func fileStem(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

// writeAtomic marshals cred to JSON and writes it to path via write-then-
// rename, per spec.md §4.3/§5.
func writeAtomic(path string, cred Credential) error {
	b, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
