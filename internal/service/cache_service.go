package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
	appErrors "github.com/noah-isme/sma-lesson-engine/pkg/errors"
)

const (
	occurrenceCachePrefix      = "occurrences"
	occurrenceGenerationPrefix = "occurrence-generation"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// OccurrenceCache memoises per-template expansions keyed by
// (template id, generation, window start, window end). Every change to a
// template or one of its exceptions bumps the template's generation, so an
// expansion computed from state read before the bump is never served after it.
type OccurrenceCache struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewOccurrenceCache constructs the cache.
func NewOccurrenceCache(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *OccurrenceCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OccurrenceCache{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (c *OccurrenceCache) Enabled() bool {
	return c != nil && c.enabled && c.repo != nil
}

// Generation returns the template's current generation. Callers must read it
// before loading the state they expand. ok is false when the counter cannot
// be read, in which case the template must bypass the cache.
func (c *OccurrenceCache) Generation(ctx context.Context, templateID string) (int64, bool) {
	if !c.Enabled() {
		return 0, false
	}
	var gen int64
	err := c.repo.Get(ctx, occurrenceGenerationKey(templateID), &gen)
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, appErrors.ErrCacheMiss):
		return 0, true
	default:
		c.logger.Warn("occurrence generation read failed", zap.String("template_id", templateID), zap.Error(err))
		return 0, false
	}
}

// Lookup returns the cached expansion of one template, if present.
func (c *OccurrenceCache) Lookup(ctx context.Context, tmpl models.RecurrenceTemplate, gen int64, w occurrence.Window) ([]models.Occurrence, bool) {
	if !c.Enabled() {
		return nil, false
	}
	start := time.Now()
	var occ []models.Occurrence
	err := c.repo.Get(ctx, occurrenceCacheKey(tmpl, gen, w), &occ)
	c.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			c.logger.Warn("occurrence cache get failed", zap.String("template_id", tmpl.ID), zap.Error(err))
		}
		return nil, false
	}
	return occ, true
}

// Store caches one template's expansion. Failures are logged, never returned.
func (c *OccurrenceCache) Store(ctx context.Context, tmpl models.RecurrenceTemplate, gen int64, w occurrence.Window, occ []models.Occurrence) {
	if !c.Enabled() {
		return
	}
	if occ == nil {
		occ = []models.Occurrence{}
	}
	if err := c.repo.Set(ctx, occurrenceCacheKey(tmpl, gen, w), occ, c.ttl); err != nil {
		c.logger.Warn("occurrence cache set failed", zap.String("template_id", tmpl.ID), zap.Error(err))
	}
}

// InvalidateTemplate bumps the template's generation, then drops every
// cached window of it. Call it only after the change has committed.
func (c *OccurrenceCache) InvalidateTemplate(ctx context.Context, templateID string) error {
	if !c.Enabled() {
		return nil
	}
	if _, err := c.repo.Incr(ctx, occurrenceGenerationKey(templateID)); err != nil {
		c.logger.Warn("occurrence generation bump failed", zap.String("template_id", templateID), zap.Error(err))
		return err
	}
	pattern := fmt.Sprintf("%s:%s:*", occurrenceCachePrefix, templateID)
	removed, err := c.repo.DeleteByPattern(ctx, pattern)
	if err != nil {
		c.logger.Warn("occurrence cache invalidate failed", zap.String("template_id", templateID), zap.Error(err))
		return err
	}
	c.logger.Debug("occurrence cache invalidated", zap.String("template_id", templateID), zap.Int("entries", removed))
	return nil
}

// occurrenceCacheKey also folds in a fingerprint of the template row, so an
// expansion of a template listed before an edit never answers for the edited row.
func occurrenceCacheKey(tmpl models.RecurrenceTemplate, gen int64, w occurrence.Window) string {
	return fmt.Sprintf("%s:%s:%d:%x:%d:%d", occurrenceCachePrefix, tmpl.ID, gen, templateFingerprint(tmpl), w.Start.UnixNano(), w.End.UnixNano())
}

func templateFingerprint(tmpl models.RecurrenceTemplate) uint64 {
	h := fnv.New64a()
	payload, err := json.Marshal(tmpl)
	if err != nil {
		// unreachable for plain rows; fall back to the id alone
		payload = []byte(tmpl.ID)
	}
	_, _ = h.Write(payload)
	return h.Sum64()
}

func occurrenceGenerationKey(templateID string) string {
	return fmt.Sprintf("%s:%s", occurrenceGenerationPrefix, templateID)
}
