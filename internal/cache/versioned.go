package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Versioned is a read-through cache whose keys embed the current version
// of a content type. Bumping the version orphans every earlier key at
// once; orphans expire through their TTL.
type Versioned struct {
	cache       Cache
	versions    VersionStore
	contentType string
	ttl         time.Duration
}

func NewVersioned(c Cache, v VersionStore, contentType string, ttl time.Duration) *Versioned {
	return &Versioned{cache: c, versions: v, contentType: contentType, ttl: ttl}
}

// Key returns "evcal_<type>_v<version>_<hash>" where hash is the SHA-256 of
// the JSON encoding of params. Params should be a struct with normalized
// fields so that equivalent requests share a key.
func Key(contentType string, version int64, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode cache params: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "evcal_" + contentType + "_v" + strconv.FormatInt(version, 10) + "_" + hex.EncodeToString(sum[:16]), nil
}

// Lookup resolves the key for params at the current version and decodes a
// cached value into dst. The key is returned for a subsequent Store.
func (v *Versioned) Lookup(ctx context.Context, params any, dst any) (string, bool, error) {
	version, err := v.versions.Version(ctx, v.contentType)
	if err != nil {
		return "", false, fmt.Errorf("read %s version: %w", v.contentType, err)
	}
	key, err := Key(v.contentType, version, params)
	if err != nil {
		return "", false, err
	}

	raw, ok, err := v.cache.Get(ctx, key)
	if err != nil {
		return key, false, fmt.Errorf("cache get: %w", err)
	}
	if !ok {
		return key, false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// A corrupt entry is a miss; the caller overwrites it.
		return key, false, nil
	}
	return key, true, nil
}

// Store saves value under key for the configured TTL.
func (v *Versioned) Store(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if err := v.cache.Set(ctx, key, raw, v.ttl); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate bumps the content type version.
func (v *Versioned) Invalidate(ctx context.Context) (int64, error) {
	n, err := v.versions.Bump(ctx, v.contentType)
	if err != nil {
		return 0, fmt.Errorf("bump %s version: %w", v.contentType, err)
	}
	return n, nil
}
