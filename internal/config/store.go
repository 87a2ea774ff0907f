package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/thinkgate-dev/thinkgate/internal/protocol"
	"github.com/thinkgate-dev/thinkgate/internal/reasoning"
)

// CurrentVersion is the persisted document schema version.
const CurrentVersion = 1

var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrDuplicateProfile = errors.New("profile id already exists")
	ErrLastProfile      = errors.New("cannot delete the last profile")
	ErrNoProfileMatch   = errors.New("no enabled profile matches and no default profile is set")
)

// Document is the single persisted JSON document.
type Document struct {
	Proxy          ProxySettings `json:"proxy"`
	Profiles       []*Profile    `json:"profiles"`
	DefaultProfile string        `json:"default_profile,omitempty"`
	Version        int           `json:"version"`
}

// Store owns the document. All mutation goes through it; readers get deep
// copies so an in-flight request never observes a concurrent edit.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  Document
}

// NewStore creates a store bound to path without touching the file.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document from disk. A missing file seeds a default document
// and persists it.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.doc = defaultDocument()
		if err := s.saveLocked(); err != nil {
			return fmt.Errorf("write initial config: %w", err)
		}
		logrus.WithField("path", s.path).Info("created default proxy config")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config %s: %w", s.path, err)
	}
	if doc.Version > CurrentVersion {
		return fmt.Errorf("config version %d is newer than supported version %d", doc.Version, CurrentVersion)
	}
	if doc.Version == 0 {
		doc.Version = CurrentVersion
	}
	if doc.Proxy.Port == 0 {
		doc.Proxy.Port = DefaultPort
	}
	for _, p := range doc.Profiles {
		normalizeProfile(p)
	}
	s.doc = doc
	return nil
}

// Reload re-reads the document, used by the file watcher after external
// edits.
func (s *Store) Reload() error {
	return s.Load()
}

// saveLocked writes the document atomically: temp file in the same directory
// then rename.
func (s *Store) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".proxy_config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the whole document.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyDocLocked()
}

func (s *Store) copyDocLocked() Document {
	out := s.doc
	out.Profiles = make([]*Profile, len(s.doc.Profiles))
	for i, p := range s.doc.Profiles {
		out.Profiles[i] = p.Clone()
	}
	return out
}

// Proxy returns the current proxy settings.
func (s *Store) Proxy() ProxySettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Proxy
}

// UpdateProxy replaces the proxy settings. The returned flag tells callers a
// restart is needed for the port change to take effect.
func (s *Store) UpdateProxy(settings ProxySettings) (restartRequired bool, err error) {
	if err := settings.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restartRequired = settings.Port != s.doc.Proxy.Port
	prev := s.doc.Proxy
	s.doc.Proxy = settings
	if err := s.saveLocked(); err != nil {
		s.doc.Proxy = prev
		return false, err
	}
	return restartRequired, nil
}

// Profiles returns deep copies of all profiles in stored order.
func (s *Store) Profiles() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Profile, len(s.doc.Profiles))
	for i, p := range s.doc.Profiles {
		out[i] = p.Clone()
	}
	return out
}

// Profile returns a deep copy of one profile.
func (s *Store) Profile(id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.doc.Profiles {
		if p.ID == id {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}

// CreateProfile validates and appends a profile. A missing id gets a UUID;
// a supplied id must be unused.
func (s *Store) CreateProfile(p *Profile) (*Profile, error) {
	normalizeProfile(p)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	} else {
		for _, existing := range s.doc.Profiles {
			if existing.ID == p.ID {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateProfile, p.ID)
			}
		}
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.doc.Profiles = append(s.doc.Profiles, p.Clone())
	if len(s.doc.Profiles) == 1 {
		s.doc.DefaultProfile = p.ID
	}
	if err := s.saveLocked(); err != nil {
		s.doc.Profiles = s.doc.Profiles[:len(s.doc.Profiles)-1]
		return nil, err
	}
	return p.Clone(), nil
}

// UpdateProfile replaces the profile with the given id, preserving identity
// and creation time.
func (s *Store) UpdateProfile(id string, p *Profile) (*Profile, error) {
	if p.ID != "" && p.ID != id {
		return nil, fmt.Errorf("profile id is immutable")
	}
	p.ID = id
	normalizeProfile(p)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.doc.Profiles {
		if existing.ID != id {
			continue
		}
		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = time.Now().UTC()
		prev := s.doc.Profiles[i]
		s.doc.Profiles[i] = p.Clone()
		if err := s.saveLocked(); err != nil {
			s.doc.Profiles[i] = prev
			return nil, err
		}
		return p.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}

// DeleteProfile removes a profile. The last remaining profile cannot be
// deleted; deleting the default moves the designation to the first remaining
// profile.
func (s *Store) DeleteProfile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.doc.Profiles) <= 1 {
		return ErrLastProfile
	}

	for i, existing := range s.doc.Profiles {
		if existing.ID != id {
			continue
		}
		prevProfiles := s.doc.Profiles
		prevDefault := s.doc.DefaultProfile

		s.doc.Profiles = append(append([]*Profile(nil), s.doc.Profiles[:i]...), s.doc.Profiles[i+1:]...)
		if s.doc.DefaultProfile == id {
			s.doc.DefaultProfile = s.doc.Profiles[0].ID
			logrus.WithField("profile", s.doc.DefaultProfile).Info("default profile reassigned")
		}
		if err := s.saveLocked(); err != nil {
			s.doc.Profiles = prevProfiles
			s.doc.DefaultProfile = prevDefault
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}

// SetDefaultProfile designates the fallback profile for unmatched models.
func (s *Store) SetDefaultProfile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.doc.Profiles {
		if p.ID == id {
			prev := s.doc.DefaultProfile
			s.doc.DefaultProfile = id
			if err := s.saveLocked(); err != nil {
				s.doc.DefaultProfile = prev
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}

// DefaultProfile returns a copy of the designated default profile.
func (s *Store) DefaultProfile() (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.doc.Profiles {
		if p.ID == s.doc.DefaultProfile {
			return p.Clone(), true
		}
	}
	return nil, false
}

// Resolve picks the profile for a model name: all enabled matching profiles
// sorted by priority desc, created_at asc, id asc; otherwise the default
// profile; otherwise ErrNoProfileMatch.
func (s *Store) Resolve(model string) (*Profile, error) {
	if matches := s.ResolveAll(model); len(matches) > 0 {
		return matches[0], nil
	}
	if def, ok := s.DefaultProfile(); ok {
		return def, nil
	}
	return nil, ErrNoProfileMatch
}

// ResolveAll returns every matching enabled profile in resolution order.
func (s *Store) ResolveAll(model string) []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*Profile
	for _, p := range s.doc.Profiles {
		if p.Matches(model) {
			matches = append(matches, p.Clone())
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return matches
}

// Export returns the full document with secrets intact so it can round-trip
// through Import.
func (s *Store) Export() Document {
	return s.Snapshot()
}

// Import replaces or merges an exported document. merge upserts profiles by
// id and keeps existing ones; replace swaps the whole profile set. Proxy
// settings and the default designation are taken from the import when set.
func (s *Store) Import(doc Document, merge bool) error {
	if doc.Version > CurrentVersion {
		return fmt.Errorf("import version %d is newer than supported version %d", doc.Version, CurrentVersion)
	}
	for _, p := range doc.Profiles {
		normalizeProfile(p)
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}
	if doc.Proxy.Port != 0 {
		if err := doc.Proxy.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.doc
	now := time.Now().UTC()

	if merge {
		byID := make(map[string]int, len(s.doc.Profiles))
		merged := make([]*Profile, len(s.doc.Profiles))
		for i, p := range s.doc.Profiles {
			merged[i] = p.Clone()
			byID[p.ID] = i
		}
		for _, p := range doc.Profiles {
			in := p.Clone()
			if in.ID == "" {
				in.ID = uuid.NewString()
			}
			if idx, ok := byID[in.ID]; ok {
				in.CreatedAt = merged[idx].CreatedAt
				in.UpdatedAt = now
				merged[idx] = in
				continue
			}
			if in.CreatedAt.IsZero() {
				in.CreatedAt = now
			}
			in.UpdatedAt = now
			byID[in.ID] = len(merged)
			merged = append(merged, in)
		}
		s.doc.Profiles = merged
	} else {
		replaced := make([]*Profile, 0, len(doc.Profiles))
		seen := make(map[string]bool, len(doc.Profiles))
		for _, p := range doc.Profiles {
			in := p.Clone()
			if in.ID == "" {
				in.ID = uuid.NewString()
			}
			if seen[in.ID] {
				return fmt.Errorf("%w: %s", ErrDuplicateProfile, in.ID)
			}
			seen[in.ID] = true
			if in.CreatedAt.IsZero() {
				in.CreatedAt = now
			}
			in.UpdatedAt = now
			replaced = append(replaced, in)
		}
		s.doc.Profiles = replaced
	}

	if doc.Proxy.Port != 0 {
		s.doc.Proxy = doc.Proxy
	}
	if doc.DefaultProfile != "" {
		s.doc.DefaultProfile = doc.DefaultProfile
	}
	if !s.hasProfileLocked(s.doc.DefaultProfile) && len(s.doc.Profiles) > 0 {
		s.doc.DefaultProfile = s.doc.Profiles[0].ID
	}
	s.doc.Version = CurrentVersion

	if err := s.saveLocked(); err != nil {
		s.doc = prev
		return err
	}
	return nil
}

func (s *Store) hasProfileLocked(id string) bool {
	for _, p := range s.doc.Profiles {
		if p.ID == id {
			return true
		}
	}
	return false
}

// normalizeProfile fills the reasoning block for profiles created before the
// field existed or posted without one.
func normalizeProfile(p *Profile) {
	if p.Reasoning.Type == "" {
		p.Reasoning = reasoning.Spec{
			Enabled:            false,
			Type:               reasoning.TypeDeepSeek,
			Effort:             reasoning.EffortNone,
			FilterThinkingTags: true,
		}
	}
	if p.MatchType == "" {
		p.MatchType = MatchExact
	}
}

// defaultDocument seeds a usable first-run config: one wildcard profile
// pointed at the OpenAI API, designated as default.
func defaultDocument() Document {
	now := time.Now().UTC()
	p := &Profile{
		ID:            uuid.NewString(),
		Name:          "default",
		ModelPatterns: []string{"*"},
		MatchType:     MatchWildcard,
		Priority:      0,
		Enabled:       true,
		Upstream: Upstream{
			BaseURL:   "https://api.openai.com/v1",
			APIFormat: protocol.FormatOpenAI,
		},
		Reasoning: reasoning.Spec{
			Enabled:            false,
			Type:               reasoning.TypeDeepSeek,
			Effort:             reasoning.EffortNone,
			FilterThinkingTags: true,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return Document{
		Proxy:          ProxySettings{Port: DefaultPort},
		Profiles:       []*Profile{p},
		DefaultProfile: p.ID,
		Version:        CurrentVersion,
	}
}
