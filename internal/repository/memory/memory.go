// Package memory holds process-local implementations of the guard and step-up stores.
// State does not survive restarts and is not shared between instances.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
	"github.com/arklim/department-iam/internal/repository"
)

var (
	_ port.FreshnessStore = (*FreshnessStore)(nil)
	_ port.RateLimitStore = (*RateLimitStore)(nil)
	_ port.StepUpStore    = (*StepUpStore)(nil)
	_ port.CodeStore      = (*CodeStore)(nil)
)

// sweepInterval bounds how often writes scan a whole map for expired entries.
const sweepInterval = time.Minute

type freshnessEntry struct {
	at        time.Time
	expiresAt time.Time
}

func (e freshnessEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

// FreshnessStore keeps latest-issued instants in a mutex-guarded map.
type FreshnessStore struct {
	mu        sync.Mutex
	entries   map[string]freshnessEntry
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewFreshnessStore constructs an empty freshness store. A non-positive ttl keeps entries forever.
func NewFreshnessStore(ttl time.Duration) *FreshnessStore {
	return &FreshnessStore{entries: make(map[string]freshnessEntry), ttl: ttl, now: time.Now}
}

// WithClock overrides the internal clock, used in tests.
func (s *FreshnessStore) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

func (s *FreshnessStore) Latest(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return time.Time{}, false, nil
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return time.Time{}, false, nil
	}
	return entry.at, true, nil
}

func (s *FreshnessStore) Store(_ context.Context, key string, at time.Time) error {
	now := s.now()
	entry := freshnessEntry{at: at}
	if s.ttl > 0 {
		entry.expiresAt = now.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) >= sweepInterval {
		for k, e := range s.entries {
			if e.expired(now) {
				delete(s.entries, k)
			}
		}
		s.lastSweep = now
	}
	s.entries[key] = entry
	return nil
}

func (s *FreshnessStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len reports the number of tracked keys, expired ones included until swept.
func (s *FreshnessStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RateLimitStore keeps sorted attempt timestamps per identifier.
type RateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewRateLimitStore constructs an empty attempt store.
func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{attempts: make(map[string][]time.Time)}
}

func (s *RateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	start := reference.Add(-window)
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.attempts[identifier][:0]
	for _, at := range s.attempts[identifier] {
		if at.After(start) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(s.attempts, identifier)
		return nil
	}
	s.attempts[identifier] = kept
	return nil
}

func (s *RateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	start := reference.Add(-window)
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, at := range s.attempts[identifier] {
		if at.After(start) && !at.After(reference) {
			count++
		}
	}
	return count, nil
}

func (s *RateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.attempts[identifier], at)
	sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
	s.attempts[identifier] = list
	return nil
}

func (s *RateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	start := reference.Add(-window)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, at := range s.attempts[identifier] {
		if at.After(start) && !at.After(reference) {
			return at, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (s *RateLimitStore) NewestAttempt(_ context.Context, identifier string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.attempts[identifier]
	if len(list) == 0 {
		return time.Time{}, false, nil
	}
	return list[len(list)-1], true, nil
}

// StepUpStore keeps pending challenges keyed by user id.
type StepUpStore struct {
	mu       sync.Mutex
	sessions map[string]domain.StepUpSession
	now      func() time.Time
}

// NewStepUpStore constructs an empty step-up store.
func NewStepUpStore() *StepUpStore {
	return &StepUpStore{sessions: make(map[string]domain.StepUpSession), now: time.Now}
}

// WithClock overrides the internal clock, used in tests.
func (s *StepUpStore) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

func (s *StepUpStore) Save(_ context.Context, session domain.StepUpSession, ttl time.Duration) error {
	if ttl > 0 {
		if deadline := s.now().Add(ttl); session.ExpiresAt.IsZero() || deadline.Before(session.ExpiresAt) {
			session.ExpiresAt = deadline
		}
	}
	s.mu.Lock()
	s.sessions[session.UserID] = session
	s.mu.Unlock()
	return nil
}

func (s *StepUpStore) Get(_ context.Context, userID string) (*domain.StepUpSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if session.IsExpired(s.now()) {
		delete(s.sessions, userID)
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

func (s *StepUpStore) RecordAttempt(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok || session.IsExpired(s.now()) {
		delete(s.sessions, userID)
		return 0, repository.ErrNotFound
	}
	session.Attempts++
	s.sessions[userID] = session
	return session.Attempts, nil
}

func (s *StepUpStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
	return nil
}

type codeEntry struct {
	issuedAt  time.Time
	expiresAt time.Time
}

// CodeStore keeps hashed codes per purpose and user.
type CodeStore struct {
	mu        sync.Mutex
	codes     map[string]map[string]codeEntry
	lastSweep time.Time
	now       func() time.Time
}

// NewCodeStore constructs an empty code store.
func NewCodeStore() *CodeStore {
	return &CodeStore{codes: make(map[string]map[string]codeEntry), now: time.Now}
}

// WithClock overrides the internal clock, used in tests.
func (s *CodeStore) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

func (s *CodeStore) Put(_ context.Context, purpose domain.ArtifactClass, userID, codeHash string, issuedAt time.Time, ttl time.Duration) error {
	key := string(purpose) + ":" + userID
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= sweepInterval {
		for k, b := range s.codes {
			pruneCodes(s.codes, k, b, now)
		}
		s.lastSweep = now
	}

	bucket, ok := s.codes[key]
	if !ok {
		bucket = make(map[string]codeEntry)
		s.codes[key] = bucket
	}
	bucket[codeHash] = codeEntry{issuedAt: issuedAt, expiresAt: issuedAt.Add(ttl)}
	return nil
}

func (s *CodeStore) Lookup(_ context.Context, purpose domain.ArtifactClass, userID, codeHash string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(purpose) + ":" + userID
	bucket := s.codes[key]
	pruneCodes(s.codes, key, bucket, s.now())

	entry, ok := bucket[codeHash]
	if !ok {
		return time.Time{}, false, nil
	}
	return entry.issuedAt, true, nil
}

// Len reports the number of buckets holding at least one code.
func (s *CodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

func pruneCodes(codes map[string]map[string]codeEntry, key string, bucket map[string]codeEntry, now time.Time) {
	for hash, entry := range bucket {
		if !entry.expiresAt.After(now) {
			delete(bucket, hash)
		}
	}
	if bucket != nil && len(bucket) == 0 {
		delete(codes, key)
	}
}

func (s *CodeStore) Clear(_ context.Context, purpose domain.ArtifactClass, userID string) error {
	s.mu.Lock()
	delete(s.codes, string(purpose)+":"+userID)
	s.mu.Unlock()
	return nil
}
