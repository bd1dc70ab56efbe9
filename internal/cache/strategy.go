package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"time"

	"leadscore-backend/internal/shared/config"
	"leadscore-backend/internal/shared/metrics"
	"leadscore-backend/internal/shared/storage/object"
	"leadscore-backend/internal/shared/telemetry"
	"leadscore-backend/internal/subject"
)

const keyPrefix = "snapshots"

// CachedSnapshot is a stored snapshot plus its cache metadata.
type CachedSnapshot struct {
	Snapshot      subject.Snapshot `json:"snapshot"`
	CachedAt      time.Time        `json:"cachedAt"`
	TTLSeconds    int              `json:"ttlSeconds"`
	AnalysisDepth string           `json:"analysisDepth"`
	SchemaVersion int              `json:"schemaVersion"`
}

// Age returns how old the entry is at the given instant.
func (c CachedSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(c.CachedAt)
}

// Statistics summarizes the cache contents.
type Statistics struct {
	Total         int            `json:"total"`
	ByDepth       map[string]int `json:"byDepth"`
	AvgAgeSeconds float64        `json:"avgAgeSeconds"`
}

// Strategy is the depth-tiered snapshot cache. Entries are stored as a JSON
// envelope (snapshot body plus side metadata) in a keyed object store, so
// any of the local/S3/MinIO backends can hold them.
type Strategy struct {
	Store object.ObjectStore
	Tiers config.Tiers
	Now   func() time.Time
}

// NewStrategy constructs a Strategy over the given store and tier table.
func NewStrategy(store object.ObjectStore, tiers config.Tiers) *Strategy {
	return &Strategy{Store: store, Tiers: tiers, Now: time.Now}
}

// Key returns the storage key for a subject. The schema version is part of
// the key so incompatible snapshots never collide across deploys.
func Key(identifier string) string {
	normalized := subject.NormalizeIdentifier(identifier)
	return path.Join(keyPrefix, fmt.Sprintf("v%d", subject.SchemaVersion), normalized+".json")
}

// Get returns the cached snapshot for the subject if it is still fresh for
// the requesting depth. The stricter of the stored TTL and the requesting
// depth's TTL wins, so an entry written under a long-TTL depth cannot be
// served stale to a short-TTL request. Expired entries are deleted on read.
func (s *Strategy) Get(ctx context.Context, identifier, depth string) (*CachedSnapshot, error) {
	key := Key(identifier)
	body, err := s.Store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			metrics.IncCacheMiss()
			return nil, nil
		}
		return nil, fmt.Errorf("cache open key=%s: %w", key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("cache read key=%s: %w", key, err)
	}

	var entry CachedSnapshot
	if err := json.Unmarshal(data, &entry); err != nil {
		// Unreadable entries behave like an invalidation, not an error.
		telemetry.Warn("cache.entry_corrupt", map[string]any{
			"subject_key": key,
			"error":       err.Error(),
		})
		_ = s.Store.Delete(ctx, key)
		metrics.IncCacheMiss()
		return nil, nil
	}

	if entry.SchemaVersion != subject.SchemaVersion {
		_ = s.Store.Delete(ctx, key)
		metrics.IncCacheMiss()
		return nil, nil
	}

	ttl := effectiveTTL(entry.TTLSeconds, s.Tiers.TTLFor(depth))
	if entry.Age(s.now()) > time.Duration(ttl)*time.Second {
		_ = s.Store.Delete(ctx, key)
		metrics.IncCacheMiss()
		return nil, nil
	}

	metrics.IncCacheHit()
	return &entry, nil
}

// Set writes the snapshot to cache under the TTL for the given depth,
// overwriting any existing entry.
func (s *Strategy) Set(ctx context.Context, identifier string, snap subject.Snapshot, depth string) error {
	entry := CachedSnapshot{
		Snapshot:      snap,
		CachedAt:      s.now(),
		TTLSeconds:    s.Tiers.TTLFor(depth),
		AnalysisDepth: depth,
		SchemaVersion: subject.SchemaVersion,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	key := Key(identifier)
	if _, err := s.Store.Put(ctx, key, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("cache put key=%s: %w", key, err)
	}
	return nil
}

// Refresh writes a freshly fetched snapshot back to cache. If an entry is
// still present it is first compared against the fresh data; a triggered
// invalidation heuristic is logged and counted before the overwrite.
func (s *Strategy) Refresh(ctx context.Context, identifier string, fresh subject.Snapshot, depth string) error {
	if cached := s.readRaw(ctx, Key(identifier)); cached != nil {
		if reason := s.ShouldInvalidate(cached, fresh); reason != "" {
			if err := s.Invalidate(ctx, identifier, reason); err != nil {
				telemetry.Warn("cache.invalidate_failed", map[string]any{
					"subject_key": Key(identifier),
					"error":       err.Error(),
				})
			}
		}
	}
	return s.Set(ctx, identifier, fresh, depth)
}

// readRaw loads an entry without expiry or schema checks. Used only for
// invalidation comparison; callers wanting a usable entry go through Get.
func (s *Strategy) readRaw(ctx context.Context, key string) *CachedSnapshot {
	body, err := s.Store.Open(ctx, key)
	if err != nil {
		return nil
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil
	}
	var entry CachedSnapshot
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil
	}
	return &entry
}

// ShouldInvalidate compares a freshly fetched snapshot against the cached one
// and returns a non-empty reason if the cached entry should be discarded.
func (s *Strategy) ShouldInvalidate(cached *CachedSnapshot, fresh subject.Snapshot) string {
	if cached == nil {
		return ""
	}
	old := cached.Snapshot

	if old.FollowerCount > 0 {
		delta := math.Abs(float64(fresh.FollowerCount-old.FollowerCount)) / float64(old.FollowerCount)
		if delta > s.Tiers.Invalidation.CountDeltaPct {
			return fmt.Sprintf("follower count changed %.1f%%", delta*100)
		}
	}

	if sim := Similarity(old.Bio, fresh.Bio); sim < s.Tiers.Invalidation.MinTextSimilarity {
		return fmt.Sprintf("bio similarity %.2f below threshold", sim)
	}

	if old.IsPrivate != fresh.IsPrivate {
		return "privacy flag changed"
	}
	if old.IsVerified != fresh.IsVerified {
		return "verification flag changed"
	}

	return ""
}

// Invalidate deletes the cached entry for a subject.
func (s *Strategy) Invalidate(ctx context.Context, identifier, reason string) error {
	key := Key(identifier)
	telemetry.Info("cache.invalidate", map[string]any{
		"subject_key": key,
		"reason":      reason,
	})
	metrics.IncCacheInvalidated()
	if err := s.Store.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache delete key=%s: %w", key, err)
	}
	return nil
}

// Stats walks the cache and summarizes its contents.
func (s *Strategy) Stats(ctx context.Context) (Statistics, error) {
	keys, err := s.Store.List(ctx, keyPrefix)
	if err != nil {
		return Statistics{}, fmt.Errorf("cache list: %w", err)
	}

	stats := Statistics{ByDepth: make(map[string]int)}
	now := s.now()
	var ageSum float64
	for _, key := range keys {
		body, err := s.Store.Open(ctx, key)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(body)
		_ = body.Close()
		if err != nil {
			continue
		}
		var entry CachedSnapshot
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		stats.Total++
		stats.ByDepth[entry.AnalysisDepth]++
		ageSum += entry.Age(now).Seconds()
	}
	if stats.Total > 0 {
		stats.AvgAgeSeconds = ageSum / float64(stats.Total)
	}
	return stats, nil
}

func (s *Strategy) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func effectiveTTL(stored, requested int) int {
	if stored <= 0 {
		return requested
	}
	if requested > 0 && requested < stored {
		return requested
	}
	return stored
}
