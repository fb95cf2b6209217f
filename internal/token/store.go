// Package token holds the Home Connect OAuth credential: the in-memory store,
// its file persistence and the refresh schedule that keeps it valid.
package token

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Credential is an access/refresh token pair with expiry bookkeeping.
// IssuedAt + ExpiresIn is the authorization deadline.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	TokenType    string
	Scope        string
	IDToken      string
	IssuedAt     time.Time
	ExpiresIn    time.Duration
}

// Deadline returns the instant the access token stops being valid.
func (c Credential) Deadline() time.Time {
	return c.IssuedAt.Add(c.ExpiresIn)
}

// Update carries the fields returned by a token exchange.
type Update struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Persister writes the full credential somewhere durable.
type Persister interface {
	Save(c Credential) error
}

// Store owns the current credential. Reads may happen from any goroutine;
// Update is serialized and persists before returning.
type Store struct {
	mu      sync.RWMutex
	cred    Credential
	persist Persister
	now     func() time.Time
	log     logr.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock replaces time.Now.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store holding initial. p may be nil to disable persistence.
func NewStore(initial Credential, p Persister, log logr.Logger, opts ...StoreOption) *Store {
	s := &Store{
		cred:    initial,
		persist: p,
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns a copy of the credential.
func (s *Store) Current() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// Deadline returns the current authorization deadline.
func (s *Store) Deadline() time.Time {
	return s.Current().Deadline()
}

// IsExpired reports whether the deadline, brought forward by skew, has passed.
func (s *Store) IsExpired(skew time.Duration) bool {
	return s.Current().Deadline().Add(-skew).Before(s.now())
}

// Update replaces the token pair, stamps IssuedAt with the current time and
// persists the result. An empty refresh token keeps the previous one.
// A persistence failure is logged; the in-memory credential stays authoritative.
func (s *Store) Update(u Update) Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred.AccessToken = u.AccessToken
	if u.RefreshToken != "" {
		s.cred.RefreshToken = u.RefreshToken
	}
	s.cred.ExpiresIn = u.ExpiresIn
	s.cred.IssuedAt = s.now()

	if s.persist != nil {
		if err := s.persist.Save(s.cred); err != nil {
			s.log.Error(err, "failed to persist refreshed token")
		} else {
			s.log.V(1).Info("token persisted", "deadline", s.cred.Deadline())
		}
	}
	return s.cred
}
