package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"callsignal-backend/internal/domain"
)

// UserDirectory is an in-process user directory for development and tests
type UserDirectory struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]*domain.UserProfile
}

// NewUserDirectory creates a directory holding the given profiles
func NewUserDirectory(profiles ...*domain.UserProfile) *UserDirectory {
	d := &UserDirectory{profiles: make(map[uuid.UUID]*domain.UserProfile)}
	for _, p := range profiles {
		d.Put(p)
	}
	return d
}

// LoadUserDirectory reads a JSON array of profiles from path
func LoadUserDirectory(path string) (*UserDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory seed: %w", err)
	}

	var profiles []*domain.UserProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse directory seed: %w", err)
	}

	return NewUserDirectory(profiles...), nil
}

// Put adds or replaces a profile
func (d *UserDirectory) Put(profile *domain.UserProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *profile
	d.profiles[profile.UserID] = &cp
}

// GetProfile returns the profile of userID
func (d *UserDirectory) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.profiles[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *p
	return &cp, nil
}
