package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/metrics"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/redis"
)

const (
	reportCachePrefix = "equipviz:report:"
	DefaultCacheTTL   = 10 * time.Minute
)

// Source loads stored datasets and summaries for one owner.
type Source interface {
	Get(ctx context.Context, ownerID, id int64) (*models.Dataset, error)
	GetSummary(ctx context.Context, ownerID, id int64) (*models.DatasetSummary, error)
}

// reportCache is the subset of the redis client the service uses.
type reportCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Service builds reports, caching them in redis when a client is set.
// Concurrent builds of the same report share one load.
type Service struct {
	source  Source
	cache   reportCache
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
}

func NewService(source Source, cache *redis.Client, ttl time.Duration, m *metrics.Metrics) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	s := &Service{source: source, ttl: ttl, metrics: m}
	if cache != nil {
		s.cache = cache
	}
	return s
}

// Build returns the report of the owner's dataset id. A cached report is
// only served while its dataset is still stored and processed.
func (s *Service) Build(ctx context.Context, ownerID, id int64) (*Report, error) {
	key := cacheKey(ownerID, id)
	if rep, ok := s.cached(ctx, key); ok {
		rec, err := s.source.Get(ctx, ownerID, id)
		if err != nil {
			// evicted or deleted after the report was cached
			s.drop(ctx, key)
			return nil, err
		}
		if rec.Status == models.StatusProcessed {
			s.metrics.ObserveReportCache(true)
			return rep, nil
		}
		s.drop(ctx, key)
	}
	if s.cache != nil {
		s.metrics.ObserveReportCache(false)
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		rec, err := s.source.Get(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
		summary, err := s.source.GetSummary(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
		rep, err := Assemble(rec, summary)
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, rep)
		return rep, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Report), nil
}

// Invalidate drops cached reports of the given datasets.
func (s *Service) Invalidate(ctx context.Context, ownerID int64, ids []int64) {
	if s.cache == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cacheKey(ownerID, id))
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		log.Printf("invalidate reports %v: %v", ids, err)
	}
}

func (s *Service) drop(ctx context.Context, key string) {
	if err := s.cache.Del(ctx, key); err != nil {
		log.Printf("drop cached report %s: %v", key, err)
	}
}

func (s *Service) cached(ctx context.Context, key string) (*Report, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var rep Report
	if err := json.Unmarshal([]byte(raw), &rep); err != nil {
		log.Printf("corrupt cached report %s: %v", key, err)
		s.drop(ctx, key)
		return nil, false
	}
	return &rep, true
}

func (s *Service) store(ctx context.Context, key string, rep *Report) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.ttl); err != nil {
		log.Printf("cache report %s: %v", key, err)
	}
}

func cacheKey(ownerID, id int64) string {
	return fmt.Sprintf("%s%d:%d", reportCachePrefix, ownerID, id)
}
