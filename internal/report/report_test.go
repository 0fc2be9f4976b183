package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/config"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/models"
	"github.com/SuKumar7241/Chemical-Equipment-Parameter-Visualizer/internal/redis"
)

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func sampleRecord() *models.Dataset {
	processed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.Dataset{
		ID:          42,
		UserID:      7,
		Name:        "plant",
		FileName:    "plant.csv",
		FileType:    "csv",
		FileSize:    128,
		RowCount:    4,
		ColumnCount: 2,
		Status:      models.StatusProcessed,
		CreatedAt:   processed.Add(-time.Minute),
		ProcessedAt: &processed,
	}
}

func sampleSummary() *models.DatasetSummary {
	return &models.DatasetSummary{
		DatasetID:               42,
		RowCount:                4,
		ColumnCount:             2,
		NumericColumnsCount:     1,
		CategoricalColumnsCount: 1,
		MissingValuesCount:      2,
		RowsWithMissing:         1,
		Columns: []models.ColumnSummary{
			{Name: "Type", Type: models.ColumnCategorical, NonNullCount: 4, Categorical: &models.CategoricalStats{
				DistinctCount: 2, MostFrequent: strPtr("Valve"), MostFrequentCount: 2,
				Frequencies: map[string]int{"Pump": 2, "Valve": 2},
			}},
			{Name: "Flowrate", Type: models.ColumnNumeric, NonNullCount: 2, NullCount: 2, Numeric: &models.NumericStats{
				Mean: floatPtr(90), Median: floatPtr(90), Std: floatPtr(42.4264), Min: floatPtr(60), Max: floatPtr(120),
			}},
		},
		Equipment: &models.EquipmentMetrics{
			TotalRecords:     4,
			AvgFlowrate:      floatPtr(90),
			TypeDistribution: map[string]int{"Valve": 2, "Pump": 2, "Fan": 3},
			TypePercentages:  map[string]float64{"Valve": 28.57, "Pump": 28.57, "Fan": 42.86},
			Types:            []string{"Valve", "Pump", "Fan"},
			TotalCategories:  3,
			MostCommonType:   strPtr("Fan"),
		},
	}
}

func TestAssembleFlattensSummary(t *testing.T) {
	rep, err := Assemble(sampleRecord(), sampleSummary())
	require.NoError(t, err)

	assert.Equal(t, int64(42), rep.Dataset.ID)
	assert.Equal(t, 4, rep.Dataset.RowCount)
	require.Len(t, rep.Columns, 2)
	assert.Equal(t, "Type", rep.Columns[0].Name)

	dq := rep.DataQuality
	assert.Equal(t, 4, dq.TotalRows)
	assert.Equal(t, 1, dq.RowsWithMissing)
	assert.Equal(t, 3, dq.CompleteRows)
	assert.InDelta(t, 25.0, dq.MissingPercentage, 1e-9)
	assert.Equal(t, 2, dq.MissingByColumn["Flowrate"])

	require.NotNil(t, rep.Equipment)
	var order []string
	for _, s := range rep.Equipment.Distribution {
		order = append(order, s.Type)
	}
	assert.Equal(t, []string{"Fan", "Valve", "Pump"}, order)
	assert.Equal(t, 42.86, rep.Equipment.Distribution[0].Percentage)
}

func TestAssembleWithoutEquipmentOrCells(t *testing.T) {
	summary := sampleSummary()
	summary.Equipment = nil
	summary.RowCount, summary.ColumnCount, summary.MissingValuesCount = 0, 0, 0
	rep, err := Assemble(sampleRecord(), summary)
	require.NoError(t, err)
	assert.Nil(t, rep.Equipment)
	assert.Zero(t, rep.DataQuality.MissingPercentage)
}

func TestAssembleRejectsUnprocessed(t *testing.T) {
	rec := sampleRecord()
	rec.Status = models.StatusPending
	_, err := Assemble(rec, sampleSummary())
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = Assemble(sampleRecord(), nil)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestRenderTextIncludesSections(t *testing.T) {
	rep, err := Assemble(sampleRecord(), sampleSummary())
	require.NoError(t, err)
	out := RenderText(rep)

	for _, want := range []string{"plant.csv", "Columns", "Data quality", "25.00%", "Equipment", "Type distribution", "By equipment type", "Fan", "90.0000"} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "Columns"), strings.Index(out, "Data quality"))
	assert.Empty(t, RenderText(nil))
}

var errGone = errors.New("dataset not found")

type fakeSource struct {
	mu    sync.Mutex
	calls int
	err   error
	gone  map[int64]bool
}

func (f *fakeSource) Get(_ context.Context, ownerID, id int64) (*models.Dataset, error) {
	f.mu.Lock()
	f.calls++
	gone := f.gone[id]
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if gone {
		return nil, errGone
	}
	rec := sampleRecord()
	rec.UserID, rec.ID = ownerID, id
	return rec, nil
}

func (f *fakeSource) GetSummary(_ context.Context, _, _ int64) (*models.DatasetSummary, error) {
	return sampleSummary(), nil
}

func TestServiceBuildWithoutCache(t *testing.T) {
	src := &fakeSource{}
	svc := NewService(src, nil, 0, nil)

	rep, err := svc.Build(context.Background(), 7, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rep.Dataset.ID)

	_, err = svc.Build(context.Background(), 7, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	svc.Invalidate(context.Background(), 7, []int64{42})
}

func TestServiceBuildPropagatesSourceErrors(t *testing.T) {
	notFound := errors.New("dataset not found")
	svc := NewService(&fakeSource{err: notFound}, nil, 0, nil)
	_, err := svc.Build(context.Background(), 7, 1)
	assert.ErrorIs(t, err, notFound)
}

func TestServiceCachesInRedis(t *testing.T) {
	client := newRedisClient(t)
	defer client.Close()
	src := &fakeSource{}
	svc := NewService(src, client, time.Minute, nil)
	ctx := context.Background()

	_, err := svc.Build(ctx, 7, 42)
	require.NoError(t, err)
	_, err = client.Get(ctx, cacheKey(7, 42))
	require.NoError(t, err)
	rep, err := svc.Build(ctx, 7, 42)
	require.NoError(t, err)
	assert.Equal(t, "plant", rep.Dataset.Name)

	svc.Invalidate(ctx, 7, []int64{42})
	_, err = client.Get(ctx, cacheKey(7, 42))
	assert.Error(t, err)
	_, err = svc.Build(ctx, 7, 42)
	require.NoError(t, err)
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]string)}
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return "", errors.New("cache miss")
	}
	return v, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.entries[key] = string(v)
	case string:
		m.entries[key] = v
	default:
		return fmt.Errorf("unsupported value %T", value)
	}
	return nil
}

func (m *memoryCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *memoryCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

func TestServiceServesCacheOnlyWhileDatasetExists(t *testing.T) {
	src := &fakeSource{gone: map[int64]bool{}}
	cache := newMemoryCache()
	svc := &Service{source: src, cache: cache, ttl: time.Minute}
	ctx := context.Background()

	_, err := svc.Build(ctx, 7, 42)
	require.NoError(t, err)
	require.True(t, cache.has(cacheKey(7, 42)))

	rep, err := svc.Build(ctx, 7, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rep.Dataset.ID)

	// The dataset is evicted but a load that started earlier wrote its
	// report back after the invalidation.
	src.mu.Lock()
	src.gone[42] = true
	src.mu.Unlock()
	svc.Invalidate(ctx, 7, []int64{42})
	payload, err := json.Marshal(rep)
	require.NoError(t, err)
	require.NoError(t, cache.Set(ctx, cacheKey(7, 42), payload, time.Minute))

	_, err = svc.Build(ctx, 7, 42)
	assert.ErrorIs(t, err, errGone)
	assert.False(t, cache.has(cacheKey(7, 42)), "stale report left in cache")
}

func TestServiceDropsCachedReportOfUnprocessedDataset(t *testing.T) {
	cache := newMemoryCache()
	svc := &Service{source: &pendingSource{}, cache: cache, ttl: time.Minute}
	ctx := context.Background()

	payload, err := json.Marshal(&Report{Dataset: Metadata{ID: 3}})
	require.NoError(t, err)
	require.NoError(t, cache.Set(ctx, cacheKey(1, 3), payload, time.Minute))

	_, err = svc.Build(ctx, 1, 3)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.False(t, cache.has(cacheKey(1, 3)))
}

type pendingSource struct{}

func (pendingSource) Get(_ context.Context, ownerID, id int64) (*models.Dataset, error) {
	return &models.Dataset{ID: id, UserID: ownerID, Status: models.StatusPending}, nil
}

func (pendingSource) GetSummary(context.Context, int64, int64) (*models.DatasetSummary, error) {
	return nil, nil
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed report tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	require.NoError(t, err)
	require.NoError(t, client.Raw().FlushDB(context.Background()).Err())
	return client
}
