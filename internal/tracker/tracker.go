package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lox/weathertracker/internal/metrics"
	"github.com/lox/weathertracker/internal/models"
	"github.com/lox/weathertracker/internal/store"
)

var (
	ErrDuplicateCity = errors.New("city is already being tracked")
	ErrInvalidCity   = errors.New("city name and country code are required")
	ErrStopped       = errors.New("tracker stopped")
)

// FallbackErrorMessage is shown when a batch fails without a message.
const FallbackErrorMessage = "Failed to fetch weather data"

// maxPendingWrites bounds the own-write echoes remembered while waiting for
// the store's change notifications.
const maxPendingWrites = 16

// CityStore persists the tracked-city list. UpdateCities is a
// read-modify-write that must not lose a concurrent writer's change; it
// returns the list stored afterwards and writes nothing when fn fails or
// returns the list unchanged.
type CityStore interface {
	LoadCities(ctx context.Context) []models.City
	UpdateCities(ctx context.Context, fn func(current []models.City) ([]models.City, error)) ([]models.City, error)
	SubscribeCities(ctx context.Context) <-chan []models.City
}

// Fetcher fetches weather for a batch of cities.
type Fetcher interface {
	FetchAll(ctx context.Context, batchID string, cities []models.City) (map[string]models.WeatherSnapshot, error)
}

// RunRecorder audits batches.
type RunRecorder interface {
	StartFetchRun(ctx context.Context, batchID string, generation uint64, citiesRequested int) (*store.FetchRun, error)
	CompleteFetchRun(ctx context.Context, run *store.FetchRun) error
}

type batchResult struct {
	generation uint64
	batchID    string
	weather    map[string]models.WeatherSnapshot
	err        error
}

// Tracker owns the application state. A single goroutine started by Run
// applies every mutation; callers go through the action methods.
type Tracker struct {
	store    CityStore
	fetcher  Fetcher
	runs     RunRecorder
	defaults []models.City
	interval time.Duration

	actions chan func(context.Context)
	results chan batchResult
	stopped chan struct{}
	batches sync.WaitGroup

	// Owned by the Run goroutine.
	state   State
	pending [][]models.City

	mu       sync.RWMutex
	snapshot State
	subs     map[chan State]struct{}
}

func New(cityStore CityStore, fetcher Fetcher) *Tracker {
	empty := State{TrackedCities: []models.City{}, WeatherData: map[string]models.WeatherSnapshot{}}
	return &Tracker{
		store:    cityStore,
		fetcher:  fetcher,
		defaults: models.DefaultCities,
		actions:  make(chan func(context.Context)),
		results:  make(chan batchResult),
		stopped:  make(chan struct{}),
		state:    empty,
		snapshot: empty.clone(),
		subs:     make(map[chan State]struct{}),
	}
}

// SetRunRecorder records every batch through rec. Call before Run.
func (t *Tracker) SetRunRecorder(rec RunRecorder) {
	t.runs = rec
}

// SetDefaultCities replaces the list seeded into an empty store. Call before Run.
func (t *Tracker) SetDefaultCities(cities []models.City) {
	t.defaults = cloneCities(cities)
}

// SetAutoRefresh refreshes every interval while running; zero disables it.
// Call before Run.
func (t *Tracker) SetAutoRefresh(interval time.Duration) {
	t.interval = interval
}

// Run loads the tracked cities, seeding the defaults into an empty store,
// starts the first batch and then processes actions until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.stopped)
	defer t.batches.Wait()

	loaded, persisted := t.loadOrSeed(ctx)
	t.state.TrackedCities = cloneCities(loaded)

	updates := t.store.SubscribeCities(ctx)
	primed := false
	t.startRefresh(ctx, "init")

	var tick <-chan time.Time
	if t.interval > 0 {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("tracker: shutting down")
			return nil
		case fn := <-t.actions:
			fn(ctx)
		case r := <-t.results:
			t.applyResult(r)
		case cities, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if !primed {
				primed = true
				// Usually a repeat of the list loaded above, or the
				// empty store when seeding failed.
				if models.EqualCities(cities, loaded) || (!persisted && len(cities) == 0) {
					continue
				}
			}
			t.onStoreUpdate(ctx, cities)
		case <-tick:
			t.startRefresh(ctx, "scheduled")
		}
	}
}

// loadOrSeed returns the stored list, seeding the defaults into an empty
// store. persisted is false when the seed could not be written.
func (t *Tracker) loadOrSeed(ctx context.Context) (cities []models.City, persisted bool) {
	if cities := t.store.LoadCities(ctx); len(cities) > 0 {
		return cities, true
	}

	log.Printf("tracker: store empty, seeding %d default cities", len(t.defaults))
	cities, err := t.store.UpdateCities(ctx, func(current []models.City) ([]models.City, error) {
		if len(current) > 0 {
			return current, nil
		}
		return cloneCities(t.defaults), nil
	})
	if err != nil {
		log.Printf("tracker: seed default cities: %v", err)
		return cloneCities(t.defaults), false
	}
	return cities, true
}

// do runs fn on the state goroutine and waits for its result. Once queued,
// fn runs to completion, so its result is returned even if ctx ends first.
func (t *Tracker) do(ctx context.Context, fn func(runCtx context.Context) error) error {
	done := make(chan error, 1)
	select {
	case t.actions <- func(runCtx context.Context) { done <- fn(runCtx) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopped:
		return ErrStopped
	}
	return <-done
}

// AddCity appends a city, persists the list and refreshes every city.
// Duplicates (case-insensitive) are rejected without any write.
func (t *Tracker) AddCity(ctx context.Context, name, country string) error {
	city := models.NormalizeCity(name, country)
	if city.Name == "" || city.Country == "" {
		return ErrInvalidCity
	}

	return t.do(ctx, func(runCtx context.Context) error {
		if models.ContainsCity(t.state.TrackedCities, city) {
			return fmt.Errorf("%w: %s", ErrDuplicateCity, city.Key())
		}

		next, err := t.update(runCtx, func(current []models.City) ([]models.City, error) {
			if models.ContainsCity(current, city) {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateCity, city.Key())
			}
			return append(current, city), nil
		})
		if err != nil {
			return err
		}
		t.state.TrackedCities = next
		log.Printf("tracker: added %s", city.Key())
		t.startRefresh(runCtx, "add")
		return nil
	})
}

// RemoveCity drops the first city matching name and country exactly,
// persists the list and forgets its weather. No batch is started unless the
// stored list turned out to hold changes made elsewhere.
func (t *Tracker) RemoveCity(ctx context.Context, city models.City) error {
	return t.do(ctx, func(runCtx context.Context) error {
		expected, found := withoutCity(t.state.TrackedCities, city)
		if !found {
			return nil
		}

		next, err := t.update(runCtx, func(current []models.City) ([]models.City, error) {
			next, _ := withoutCity(current, city)
			return next, nil
		})
		if err != nil {
			return err
		}

		t.state.TrackedCities = next
		weather := cloneWeather(t.state.WeatherData)
		delete(weather, city.Key())
		t.state.WeatherData = weather
		log.Printf("tracker: removed %s", city.Key())
		if !models.EqualCities(next, expected) {
			t.startRefresh(runCtx, "external")
			return nil
		}
		t.publish()
		return nil
	})
}

// withoutCity returns a copy of cities minus the first exact match.
func withoutCity(cities []models.City, city models.City) ([]models.City, bool) {
	out := make([]models.City, 0, len(cities))
	found := false
	for _, c := range cities {
		if !found && c.Name == city.Name && c.Country == city.Country {
			found = true
			continue
		}
		out = append(out, c)
	}
	return out, found
}

// Refresh starts a batch for every tracked city.
func (t *Tracker) Refresh(ctx context.Context) error {
	return t.do(ctx, func(runCtx context.Context) error {
		t.startRefresh(runCtx, "manual")
		return nil
	})
}

// ClearError clears the last batch error and nothing else.
func (t *Tracker) ClearError(ctx context.Context) error {
	return t.do(ctx, func(context.Context) error {
		if t.state.Error == "" {
			return nil
		}
		t.state.Error = ""
		t.publish()
		return nil
	})
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot.clone()
}

// Subscribe streams the current state, then every change, until ctx is
// done. A slow reader only sees the latest state.
func (t *Tracker) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	t.mu.Lock()
	ch <- t.snapshot.clone()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		delete(t.subs, ch)
		close(ch)
		t.mu.Unlock()
	}()

	return ch
}

func (t *Tracker) publish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snapshot = t.state.clone()
	metrics.TrackedCities.Set(float64(len(t.state.TrackedCities)))
	for ch := range t.subs {
		offerState(ch, t.snapshot.clone())
	}
}

func offerState(ch chan State, s State) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// update edits the stored list through fn and remembers a resulting write
// so its notification is not mistaken for an external change.
func (t *Tracker) update(ctx context.Context, fn func(current []models.City) ([]models.City, error)) ([]models.City, error) {
	changed := false
	next, err := t.store.UpdateCities(ctx, func(current []models.City) ([]models.City, error) {
		out, err := fn(cloneCities(current))
		changed = err == nil && !models.EqualCities(out, current)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		t.pending = append(t.pending, cloneCities(next))
		if len(t.pending) > maxPendingWrites {
			t.pending = t.pending[len(t.pending)-maxPendingWrites:]
		}
	}
	return next, nil
}

// onStoreUpdate adopts lists written by someone else. Echoes of our own
// writes and lists equal to the current one are ignored.
func (t *Tracker) onStoreUpdate(ctx context.Context, cities []models.City) {
	for i, p := range t.pending {
		if models.EqualCities(p, cities) {
			t.pending = t.pending[i+1:]
			return
		}
	}
	if models.EqualCities(cities, t.state.TrackedCities) {
		return
	}

	log.Printf("tracker: tracked cities changed externally (%d -> %d)", len(t.state.TrackedCities), len(cities))
	t.pending = nil
	t.state.TrackedCities = cloneCities(cities)
	t.startRefresh(ctx, "external")
}

// startRefresh begins a new generation and fetches it in the background.
func (t *Tracker) startRefresh(ctx context.Context, reason string) {
	t.state.Generation++
	t.state.IsLoading = true
	t.state.Error = ""
	t.publish()

	generation := t.state.Generation
	cities := cloneCities(t.state.TrackedCities)
	batchID := uuid.NewString()
	log.Printf("tracker: batch %s generation %d (%s, %d cities)", batchID, generation, reason, len(cities))

	t.batches.Add(1)
	go func() {
		defer t.batches.Done()
		weather, err := t.runBatch(ctx, batchID, generation, cities)
		select {
		case t.results <- batchResult{generation: generation, batchID: batchID, weather: weather, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (t *Tracker) runBatch(ctx context.Context, batchID string, generation uint64, cities []models.City) (map[string]models.WeatherSnapshot, error) {
	var run *store.FetchRun
	if t.runs != nil {
		var err error
		if run, err = t.runs.StartFetchRun(ctx, batchID, generation, len(cities)); err != nil {
			log.Printf("tracker: start fetch run: %v", err)
		}
	}

	weather, err := t.fetcher.FetchAll(ctx, batchID, cities)

	if run != nil {
		run.Success = err == nil
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		} else {
			run.CitiesSucceeded = sql.NullInt64{Int64: int64(len(weather)), Valid: true}
		}
		if cerr := t.runs.CompleteFetchRun(ctx, run); cerr != nil {
			log.Printf("tracker: complete fetch run: %v", cerr)
		}
	}

	return weather, err
}

// applyResult installs the latest generation's result. Older generations
// are dropped so a slow batch cannot overwrite a newer one.
func (t *Tracker) applyResult(r batchResult) {
	if r.generation != t.state.Generation {
		metrics.BatchesTotal.WithLabelValues("stale").Inc()
		log.Printf("tracker: discarding stale batch %s (generation %d, latest %d)", r.batchID, r.generation, t.state.Generation)
		return
	}

	t.state.IsLoading = false
	if r.err != nil {
		metrics.BatchesTotal.WithLabelValues("error").Inc()
		msg := r.err.Error()
		if msg == "" {
			msg = FallbackErrorMessage
		}
		t.state.Error = msg
		log.Printf("tracker: batch %s failed: %v", r.batchID, r.err)
		t.publish()
		return
	}

	// Replace wholesale, keeping only cities still tracked.
	weather := make(map[string]models.WeatherSnapshot, len(r.weather))
	for _, c := range t.state.TrackedCities {
		if snap, ok := r.weather[c.Key()]; ok {
			weather[c.Key()] = snap
		}
	}
	t.state.WeatherData = weather
	metrics.BatchesTotal.WithLabelValues("ok").Inc()
	t.publish()
}
