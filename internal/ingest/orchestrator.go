package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/lox/weathertracker/internal/metrics"
	"github.com/lox/weathertracker/internal/models"
)

// ErrFetchBatch is returned when a batch cannot be attempted at all.
// Individual city failures never produce it.
var ErrFetchBatch = errors.New("fetch batch error")

const DefaultConcurrency = 4

// Provider fetches current weather for a single city.
type Provider interface {
	FetchCity(ctx context.Context, city models.City) (*models.WeatherSnapshot, []byte, error)
}

// PayloadRecorder keeps raw provider responses for later inspection.
type PayloadRecorder interface {
	StoreRawPayload(ctx context.Context, batchID, cityKey string, payload []byte) (int64, error)
}

// Orchestrator fetches weather for a set of cities, tolerating per-city
// failures.
type Orchestrator struct {
	provider    Provider
	payloads    PayloadRecorder
	concurrency int
}

func NewOrchestrator(provider Provider) *Orchestrator {
	return &Orchestrator{
		provider:    provider,
		concurrency: DefaultConcurrency,
	}
}

// SetPayloadRecorder stores every provider response body through rec.
func (o *Orchestrator) SetPayloadRecorder(rec PayloadRecorder) {
	o.payloads = rec
}

// SetConcurrency bounds the number of in-flight provider calls per batch.
func (o *Orchestrator) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	o.concurrency = n
}

type cityResult struct {
	key      string
	snapshot *models.WeatherSnapshot
}

// FetchAll fetches every city and returns the successful snapshots keyed by
// the requested city's Key. Cities whose fetch fails are omitted. The result
// is assembled only after every attempt has settled.
func (o *Orchestrator) FetchAll(ctx context.Context, batchID string, cities []models.City) (map[string]models.WeatherSnapshot, error) {
	if o.provider == nil {
		return nil, fmt.Errorf("%w: no provider configured", ErrFetchBatch)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchBatch, err)
	}

	results := make([]cityResult, len(cities))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, city := range cities {
		g.Go(func() error {
			results[i] = o.fetchOne(ctx, batchID, city)
			return nil
		})
	}
	g.Wait()

	weather := make(map[string]models.WeatherSnapshot, len(cities))
	for _, r := range results {
		if r.snapshot == nil {
			continue
		}
		weather[r.key] = *r.snapshot
	}

	log.Printf("orchestrator: batch %s fetched %d/%d cities", batchID, len(weather), len(cities))
	return weather, nil
}

func (o *Orchestrator) fetchOne(ctx context.Context, batchID string, city models.City) cityResult {
	key := city.Key()

	snapshot, raw, err := o.provider.FetchCity(ctx, city)
	if o.payloads != nil && len(raw) > 0 {
		if _, perr := o.payloads.StoreRawPayload(ctx, batchID, key, raw); perr != nil {
			log.Printf("orchestrator: store raw payload %s: %v", key, perr)
		}
	}
	if err != nil {
		metrics.CityFetchesTotal.WithLabelValues("failed").Inc()
		log.Printf("orchestrator: fetch %s: %v", key, err)
		return cityResult{key: key}
	}
	if snapshot == nil {
		metrics.CityFetchesTotal.WithLabelValues("failed").Inc()
		log.Printf("orchestrator: fetch %s: empty snapshot", key)
		return cityResult{key: key}
	}

	metrics.CityFetchesTotal.WithLabelValues("ok").Inc()
	for _, flag := range ValidateSnapshot(snapshot) {
		metrics.SnapshotQualityFlags.WithLabelValues(flag).Inc()
		log.Printf("orchestrator: %s flagged %s", key, flag)
	}
	return cityResult{key: key, snapshot: snapshot}
}
