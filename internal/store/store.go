// Package store caches optimized parameters and comparison reports so a
// repeated benchmark over the same inputs skips the parameter search.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/MochiXu/hybrid-search-ranx/internal/config"
	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/hash"
)

// Store is a key/value cache with per-backend expiry.
type Store interface {
	// Get returns the value of key or a NOT_FOUND error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// New creates the store selected by cfg.Type.
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStore(cfg.TTL), nil
	case "redis":
		return NewRedisStore(cfg.RedisURL, cfg.KeyPrefix, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}

// SaveJSON marshals v and stores it under key.
func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// LoadJSON loads key into v.
func LoadJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.InternalError("decoding cached "+key, err)
	}
	return nil
}

// ParamsKey identifies an optimization: the judgments, the input runs in
// order, the method, the target metric and the search settings.
func ParamsKey(qrelsDigest string, runDigests []string, method, metric string, weightStep, holdout float64, seed int64) string {
	parts := []string{"params", qrelsDigest}
	parts = append(parts, runDigests...)
	parts = append(parts,
		method,
		metric,
		strconv.FormatFloat(weightStep, 'g', -1, 64),
		strconv.FormatFloat(holdout, 'g', -1, 64),
		strconv.FormatInt(seed, 10),
	)
	return "params:" + hash.Fingerprint(parts...)
}

// ReportKey identifies a comparison by its inputs and settings.
func ReportKey(qrelsDigest string, runDigests, metrics []string, test string, alpha float64, seed int64) string {
	parts := []string{"report", qrelsDigest}
	parts = append(parts, runDigests...)
	parts = append(parts, "|")
	parts = append(parts, metrics...)
	parts = append(parts,
		test,
		strconv.FormatFloat(alpha, 'g', -1, 64),
		strconv.FormatInt(seed, 10),
	)
	return "report:" + hash.Fingerprint(parts...)
}
