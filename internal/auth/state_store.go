package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskmanager/internal/cache"
)

const (
	oauthStateKeyPrefix = "oauth_state:"
	// OAuthStateTTL bounds how long a provider consent round-trip may take.
	OAuthStateTTL = 10 * time.Minute
)

// ErrStateNotFound is returned when an OAuth state is unknown, expired or already used.
var ErrStateNotFound = errors.New("oauth state not found")

// StateStoreInterface defines storage for one-shot OAuth state values.
type StateStoreInterface interface {
	Create(ctx context.Context, provider string) (string, error)
	Consume(ctx context.Context, state, provider string) error
}

// StateStore keeps OAuth state values in Redis.
type StateStore struct {
	cache *cache.Client
	ttl   time.Duration
}

// Ensure StateStore implements StateStoreInterface
var _ StateStoreInterface = (*StateStore)(nil)

// NewStateStore creates a new state store.
func NewStateStore(cache *cache.Client) *StateStore {
	return &StateStore{cache: cache, ttl: OAuthStateTTL}
}

type stateData struct {
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// Create stores a fresh random state bound to provider and returns it.
func (s *StateStore) Create(ctx context.Context, provider string) (string, error) {
	state := uuid.NewString()
	payload, err := json.Marshal(stateData{Provider: provider, CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", fmt.Errorf("marshal state data: %w", err)
	}
	if err := s.cache.Set(ctx, oauthStateKeyPrefix+state, payload, s.ttl); err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}
	return state, nil
}

// Consume removes state and checks it was issued for provider.
func (s *StateStore) Consume(ctx context.Context, state, provider string) error {
	if state == "" {
		return ErrStateNotFound
	}
	data, err := s.cache.GetDel(ctx, oauthStateKeyPrefix+state)
	if err != nil || data == nil {
		return ErrStateNotFound
	}

	var stored stateData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("unmarshal state data: %w", err)
	}
	if stored.Provider != provider {
		return ErrStateNotFound
	}
	return nil
}
