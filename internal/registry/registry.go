package registry

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npai/quota-engine/internal/models"
)

const keyPrefix = "npai"

var (
	ErrUnknownTier       = errors.New("unknown tier")
	ErrKeyNotFound       = errors.New("api key not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// KeyStore persists API keys.
type KeyStore interface {
	Create(ctx context.Context, key *models.APIKey) error
	FindByHash(ctx context.Context, hash string) (*models.APIKey, error)
	FindByID(ctx context.Context, id string) (*models.APIKey, error)
	List(ctx context.Context) ([]models.APIKey, error)
	ListByDeveloper(ctx context.Context, developerID string) ([]models.APIKey, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateLastUsed(ctx context.Context, id uuid.UUID) error
}

// Cache fronts key validation lookups. Satisfied by the redis client;
// nil disables caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Registry owns the API key lifecycle and tier resolution.
type Registry struct {
	store    KeyStore
	cache    Cache
	tiers    map[string]models.Tier
	cacheTTL time.Duration
}

func New(store KeyStore, cache Cache, tiers []models.Tier) *Registry {
	tierMap := make(map[string]models.Tier, len(tiers))
	for _, t := range tiers {
		tierMap[t.Name] = t
	}

	return &Registry{
		store:    store,
		cache:    cache,
		tiers:    tierMap,
		cacheTTL: 5 * time.Minute,
	}
}

// Tier resolves a tier definition by name.
func (r *Registry) Tier(name string) (models.Tier, bool) {
	t, ok := r.tiers[name]
	return t, ok
}

// Generate mints a new key for a developer. The raw secret is returned
// exactly once and only its hash is stored.
func (r *Registry) Generate(ctx context.Context, developerID, tier, name string) (*models.APIKey, string, error) {
	if _, ok := r.tiers[tier]; !ok {
		return nil, "", ErrUnknownTier
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, "", fmt.Errorf("failed to generate key material: %w", err)
	}

	raw := fmt.Sprintf("%s_%s_%s", keyPrefix, tier, base64.RawURLEncoding.EncodeToString(secret))

	apiKey := models.APIKey{
		KeyID:       keyID(raw),
		SecretHash:  hashKey(raw),
		Name:        name,
		DeveloperID: developerID,
		Tier:        tier,
		Status:      models.KeyStatusActive,
	}

	if err := r.store.Create(ctx, &apiKey); err != nil {
		return nil, "", fmt.Errorf("failed to create API key: %w", err)
	}

	return &apiKey, raw, nil
}

// Validate resolves a presented raw key. The second return is false
// for unknown, malformed, suspended and revoked keys alike: callers
// get no signal about which it was.
func (r *Registry) Validate(ctx context.Context, raw string) (*models.APIKey, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, keyPrefix+"_") || len(raw) < len(keyPrefix)+10 {
		return nil, false
	}

	hash := hashKey(raw)

	if apiKey := r.cachedKey(ctx, hash); apiKey != nil {
		return r.admit(apiKey, hash)
	}

	apiKey, err := r.store.FindByHash(ctx, hash)
	if err != nil || apiKey == nil {
		return nil, false
	}

	r.cacheKey(ctx, hash, apiKey)

	return r.admit(apiKey, hash)
}

// admit performs the final constant-time hash check and status gate.
func (r *Registry) admit(apiKey *models.APIKey, hash string) (*models.APIKey, bool) {
	if subtle.ConstantTimeCompare([]byte(apiKey.SecretHash), []byte(hash)) != 1 {
		return nil, false
	}
	if !apiKey.Usable() {
		return nil, false
	}
	return apiKey, true
}

// Suspend disables an active key. Reversible via Reactivate.
func (r *Registry) Suspend(ctx context.Context, id string) error {
	return r.transition(ctx, id, models.KeyStatusActive, models.KeyStatusSuspended)
}

// Reactivate restores a suspended key.
func (r *Registry) Reactivate(ctx context.Context, id string) error {
	return r.transition(ctx, id, models.KeyStatusSuspended, models.KeyStatusActive)
}

// Revoke permanently disables a key. Terminal: a revoked key can never
// validate again.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	apiKey, err := r.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if apiKey == nil {
		return ErrKeyNotFound
	}
	if apiKey.Status == models.KeyStatusRevoked {
		return nil
	}

	if err := r.store.UpdateStatus(ctx, id, models.KeyStatusRevoked); err != nil {
		return err
	}

	r.invalidate(ctx, apiKey.SecretHash)
	return nil
}

func (r *Registry) transition(ctx context.Context, id, from, to string) error {
	apiKey, err := r.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if apiKey == nil {
		return ErrKeyNotFound
	}
	if apiKey.Status != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, apiKey.Status, to)
	}

	if err := r.store.UpdateStatus(ctx, id, to); err != nil {
		return err
	}

	r.invalidate(ctx, apiKey.SecretHash)
	return nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.APIKey, error) {
	return r.store.FindByID(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]models.APIKey, error) {
	return r.store.List(ctx)
}

func (r *Registry) ListByDeveloper(ctx context.Context, developerID string) ([]models.APIKey, error) {
	return r.store.ListByDeveloper(ctx, developerID)
}

// TouchLastUsed updates usage metadata without blocking the request.
func (r *Registry) TouchLastUsed(ctx context.Context, id uuid.UUID) {
	go r.store.UpdateLastUsed(context.WithoutCancel(ctx), id)
}

// cacheEntry is the cache wire form. The model's own JSON omits the
// secret hash, so cached keys carry it through this envelope or the
// constant-time check in admit would reject every cache hit.
type cacheEntry struct {
	Key        models.APIKey `json:"key"`
	SecretHash string        `json:"secret_hash"`
}

func (r *Registry) cachedKey(ctx context.Context, hash string) *models.APIKey {
	if r.cache == nil {
		return nil
	}

	cached, err := r.cache.Get(ctx, cacheKeyFor(hash))
	if err != nil || cached == "" {
		return nil
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		return nil
	}
	entry.Key.SecretHash = entry.SecretHash
	return &entry.Key
}

func (r *Registry) cacheKey(ctx context.Context, hash string, apiKey *models.APIKey) {
	if r.cache == nil {
		return
	}

	data, err := json.Marshal(cacheEntry{Key: *apiKey, SecretHash: apiKey.SecretHash})
	if err != nil {
		return
	}
	r.cache.Set(ctx, cacheKeyFor(hash), data, r.cacheTTL)
}

func (r *Registry) invalidate(ctx context.Context, hash string) {
	if r.cache == nil {
		return
	}
	r.cache.Del(ctx, cacheKeyFor(hash))
}

func cacheKeyFor(hash string) string {
	return "apikey:cache:" + hash
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// keyID is the non-secret lookup handle shown in listings: the prefix,
// tier and the first characters of the random part.
func keyID(raw string) string {
	if len(raw) > 24 {
		return raw[:24]
	}
	return raw
}
