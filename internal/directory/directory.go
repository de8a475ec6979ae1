// Package directory resolves the signed-in user and their emergency contacts.
package directory

import (
	"context"
	"sync"

	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
)

// Profile is the signed-in user.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Contact is someone who receives the user's emergency alerts.
type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Identity resolves the current user.
type Identity interface {
	// CurrentUserID returns ErrNotLoggedIn when there is no session.
	CurrentUserID(ctx context.Context) (string, error)
	CurrentProfile(ctx context.Context) (*Profile, error)
}

// Contacts lists a user's emergency contacts. An empty list is not an error.
type Contacts interface {
	Contacts(ctx context.Context, userID string) ([]Contact, error)
}

// Static is an in-memory Identity and Contacts, populated from config. It
// can be updated while running; callers always see the latest list.
type Static struct {
	mu       sync.RWMutex
	profile  *Profile
	contacts map[string][]Contact
}

// NewStatic creates a directory. A nil profile means nobody is signed in.
func NewStatic(profile *Profile, contacts []Contact) *Static {
	s := &Static{contacts: make(map[string][]Contact)}
	s.SetProfile(profile)
	if profile != nil {
		s.SetContacts(profile.ID, contacts)
	}
	return s
}

// SetProfile signs a user in (or out with nil).
func (s *Static) SetProfile(p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		s.profile = nil
		return
	}
	cp := *p
	s.profile = &cp
}

// SetContacts replaces the contact list of userID.
func (s *Static) SetContacts(userID string, contacts []Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[userID] = append([]Contact(nil), contacts...)
}

func (s *Static) CurrentUserID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil || s.profile.ID == "" {
		return "", apperrors.ErrNotLoggedIn
	}
	return s.profile.ID, nil
}

func (s *Static) CurrentProfile(_ context.Context) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil || s.profile.ID == "" {
		return nil, apperrors.ErrNotLoggedIn
	}
	cp := *s.profile
	return &cp, nil
}

func (s *Static) Contacts(_ context.Context, userID string) ([]Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Contact(nil), s.contacts[userID]...), nil
}
