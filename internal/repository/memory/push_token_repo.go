package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"callsignal-backend/pkg/push"
)

// PushTokenRepository keeps device tokens in process
type PushTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*push.Token
}

// NewPushTokenRepository creates an empty token store
func NewPushTokenRepository() *PushTokenRepository {
	return &PushTokenRepository{tokens: make(map[string]*push.Token)}
}

// Store adds or replaces a token
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token.UpdatedAt = time.Now().Unix()
	cp := *token
	r.tokens[token.Token] = &cp
	return nil
}

// GetByUserID returns every token registered by userID
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*push.Token
	for _, t := range r.tokens {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MarkInactive flags a token as rejected by the provider
func (r *PushTokenRepository) MarkInactive(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tokens[token]; ok {
		t.Active = false
	}
	return nil
}
