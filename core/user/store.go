// Package user keeps the per-phone authentication record. Profile data
// is stored encrypted by the caller; this package never sees plaintext.
package user

import (
	"sync"
	"time"
)

// User is the durable-per-process record for one phone number.
type User struct {
	Phone            string
	Authenticated    bool
	EncryptedProfile string
	CustomerID       string
	SessionToken     string
	LastActivity     time.Time
}

// Store is a mutex-guarded map keyed by phone.
type Store struct {
	mu    sync.Mutex
	users map[string]*User
}

func NewStore() *Store {
	return &Store{users: make(map[string]*User)}
}

// GetOrCreate returns the record for the phone, creating it on first
// contact. The pointer is shared; callers mutate it under their own
// per-conversation serialization.
func (s *Store) GetOrCreate(phone string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[phone]
	if u == nil {
		u = &User{Phone: phone, LastActivity: time.Now()}
		s.users[phone] = u
	}
	return u
}

// Get returns the record or nil when the phone has never been seen.
func (s *Store) Get(phone string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[phone]
}

// Len reports how many phones have a record.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}
