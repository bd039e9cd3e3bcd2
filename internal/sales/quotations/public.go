package quotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/solarcalc/invoicing/internal/sales/actionlog"
	"github.com/solarcalc/invoicing/internal/shared"
)

const shareCachePrefix = "invoicing:share:"

// DefaultShareCacheTTL bounds how long a public view stays cached.
const DefaultShareCacheTTL = 5 * time.Minute

// ShareCache keeps resolved public views in Redis. Concurrent misses on one
// key share a single load.
type ShareCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewShareCache instantiates the cache. A nil client disables caching.
func NewShareCache(client *redis.Client, ttl time.Duration) *ShareCache {
	if ttl <= 0 {
		ttl = DefaultShareCacheTTL
	}
	return &ShareCache{client: client, ttl: ttl}
}

func (c *ShareCache) key(k string) string {
	return shareCachePrefix + k
}

// Fetch returns the cached view for key or populates it using loader. Only
// successful loads are cached. Redis failures fall back to the loader.
func (c *ShareCache) Fetch(ctx context.Context, key string, loader func(context.Context) (*Resolved, error)) (*Resolved, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == nil {
		var out Resolved
		if err := json.Unmarshal(payload, &out); err == nil {
			return &out, nil
		}
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others.
		loadCtx := context.WithoutCancel(ctx)
		res, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(res); err == nil {
			_ = c.client.Set(loadCtx, c.key(key), raw, c.ttl).Err()
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Val.(*Resolved), nil
	}
}

// Invalidate drops cached views. Empty keys are ignored.
func (c *ShareCache) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			full = append(full, c.key(k))
		}
	}
	if len(full) == 0 {
		return nil
	}
	return c.client.Del(ctx, full...).Err()
}

// PublicView resolves a share link. ref is a share token or, failing that,
// a raw document id. Disabled or expired links are reported as not found.
func (s *Service) PublicView(ctx context.Context, ref string) (*Resolved, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, shared.ErrNotFound
	}
	res, err := s.cache.Fetch(ctx, ref, func(ctx context.Context) (*Resolved, error) {
		doc, err := s.publicDocument(ctx, ref)
		if err != nil {
			return nil, err
		}
		return s.resolve(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	if res.Status == StatusDeleted || !res.Shared(s.now()) {
		return nil, fmt.Errorf("share link %s: %w", ref, shared.ErrNotFound)
	}

	s.recordView(ctx, res.ID)
	s.metrics.ShareViewed()
	return res, nil
}

func (s *Service) publicDocument(ctx context.Context, ref string) (*Document, error) {
	doc, err := s.repo.GetByShareToken(ctx, ref)
	if err == nil || !errors.Is(err, shared.ErrNotFound) {
		return doc, err
	}
	id, parseErr := uuid.Parse(ref)
	if parseErr != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// recordView hands the view to the queue, or writes it inline when no
// queue is configured. Failures are logged only.
func (s *Service) recordView(ctx context.Context, id uuid.UUID) {
	at := s.now()
	if s.jobs != nil {
		if err := s.jobs.EnqueueView(ctx, id, at); err != nil {
			s.logger.Warn("enqueue view failed", "document_id", id, "error", err)
		}
		return
	}
	if err := s.RecordView(context.WithoutCancel(ctx), id, at); err != nil {
		s.logger.Warn("record view failed", "document_id", id, "error", err)
	}
}

// RecordView increments the access counter and logs the view.
func (s *Service) RecordView(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := s.repo.RecordView(ctx, id, at); err != nil {
		return err
	}
	s.actions.Append(ctx, id, actionlog.ActionViewed, "public", nil)
	return nil
}
