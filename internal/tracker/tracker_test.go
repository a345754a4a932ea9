package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lox/weathertracker/internal/metrics"
	"github.com/lox/weathertracker/internal/models"
	"github.com/lox/weathertracker/internal/store"
)

// memStore is an in-memory CityStore with failure injection.
type memStore struct {
	mu        sync.Mutex
	cities    []models.City
	saves     int
	failSaves bool
	subs      []chan []models.City

	// beforeUpdate runs at the start of every UpdateCities.
	beforeUpdate func()
	// subscribeList silently replaces the list when a subscriber registers.
	subscribeList []models.City
}

func newMemStore(cities ...models.City) *memStore {
	return &memStore{cities: cloneCities(cities)}
}

func (m *memStore) LoadCities(ctx context.Context) []models.City {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneCities(m.cities)
}

func (m *memStore) UpdateCities(ctx context.Context, fn func([]models.City) ([]models.City, error)) ([]models.City, error) {
	m.mu.Lock()
	hook := m.beforeUpdate
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves {
		return nil, fmt.Errorf("%w: disk full", store.ErrPersistence)
	}
	current := cloneCities(m.cities)
	next, err := fn(cloneCities(current))
	if err != nil {
		return nil, err
	}
	if models.EqualCities(next, current) {
		return current, nil
	}
	m.saves++
	m.cities = cloneCities(next)
	m.notify()
	return cloneCities(next), nil
}

// SaveCities writes as another process would: no compare, but subscribers
// are notified.
func (m *memStore) SaveCities(ctx context.Context, cities []models.City) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cities = cloneCities(cities)
	m.notify()
	return nil
}

func (m *memStore) notify() {
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- cloneCities(m.cities)
	}
}

// setSilently replaces the list without notifying subscribers, like a
// write the tracker has not heard about yet.
func (m *memStore) setSilently(cities []models.City) {
	m.mu.Lock()
	m.cities = cloneCities(cities)
	m.mu.Unlock()
}

func (m *memStore) setBeforeUpdate(fn func()) {
	m.mu.Lock()
	m.beforeUpdate = fn
	m.mu.Unlock()
}

func (m *memStore) SubscribeCities(ctx context.Context) <-chan []models.City {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeList != nil {
		m.cities = cloneCities(m.subscribeList)
		m.subscribeList = nil
	}
	ch := make(chan []models.City, 1)
	ch <- cloneCities(m.cities)
	m.subs = append(m.subs, ch)
	return ch
}

func (m *memStore) snapshot() ([]models.City, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneCities(m.cities), m.saves
}

func (m *memStore) setFailSaves(v bool) {
	m.mu.Lock()
	m.failSaves = v
	m.mu.Unlock()
}

// fakeFetcher delegates to fn with a 1-based call number.
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, cities []models.City) (map[string]models.WeatherSnapshot, error)
}

func (f *fakeFetcher) FetchAll(ctx context.Context, batchID string, cities []models.City) (map[string]models.WeatherSnapshot, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return snapshotsFor(cities, "clear sky"), nil
	}
	return fn(ctx, call, cities)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) setFn(fn func(ctx context.Context, call int, cities []models.City) (map[string]models.WeatherSnapshot, error)) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
}

func snapshotsFor(cities []models.City, description string) map[string]models.WeatherSnapshot {
	out := make(map[string]models.WeatherSnapshot, len(cities))
	for _, c := range cities {
		out[c.Key()] = models.WeatherSnapshot{City: c.Name, Country: c.Country, Description: description}
	}
	return out
}

func startTracker(t *testing.T, tr *Tracker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, tr *Tracker, desc string, cond func(State) bool) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for s := range tr.Subscribe(ctx) {
		if cond(s) {
			return s
		}
	}
	t.Fatalf("timed out waiting for %s; last state %+v", desc, tr.State())
	return State{}
}

func idleAt(generation uint64) func(State) bool {
	return func(s State) bool { return s.Generation == generation && !s.IsLoading }
}

func TestRun_SeedsDefaultsIntoEmptyStore(t *testing.T) {
	st := newMemStore()
	tr := New(st, &fakeFetcher{})
	startTracker(t, tr)

	s := waitFor(t, tr, "initial batch", idleAt(1))

	if !models.EqualCities(s.TrackedCities, models.DefaultCities) {
		t.Errorf("TrackedCities = %v, want defaults", s.TrackedCities)
	}
	stored, saves := st.snapshot()
	if !models.EqualCities(stored, models.DefaultCities) {
		t.Errorf("stored = %v, want defaults", stored)
	}
	if saves != 1 {
		t.Errorf("saves = %d, want 1", saves)
	}
	if len(s.WeatherData) != 4 {
		t.Errorf("len(WeatherData) = %d, want 4", len(s.WeatherData))
	}
	if s.Error != "" {
		t.Errorf("Error = %q, want empty", s.Error)
	}
}

func TestRun_LoadsExistingCities(t *testing.T) {
	st := newMemStore(models.NewCity("Paris", "FR"))
	tr := New(st, &fakeFetcher{})
	startTracker(t, tr)

	s := waitFor(t, tr, "initial batch", idleAt(1))

	if len(s.TrackedCities) != 1 || s.TrackedCities[0].Name != "Paris" {
		t.Errorf("TrackedCities = %v, want [Paris]", s.TrackedCities)
	}
	if _, saves := st.snapshot(); saves != 0 {
		t.Errorf("saves = %d, want 0 (no seeding)", saves)
	}
}

func TestRun_SeedFailureStillTracksDefaults(t *testing.T) {
	st := newMemStore()
	st.setFailSaves(true)
	tr := New(st, &fakeFetcher{})
	startTracker(t, tr)

	s := waitFor(t, tr, "initial batch", idleAt(1))
	if !models.EqualCities(s.TrackedCities, models.DefaultCities) {
		t.Errorf("TrackedCities = %v, want defaults", s.TrackedCities)
	}
}

func TestRun_AdoptsChangeMadeBeforeSubscribing(t *testing.T) {
	paris := models.NewCity("Paris", "FR")
	rome := models.NewCity("Rome", "IT")
	st := newMemStore(paris)
	// Rome lands after the tracker loads but before it subscribes.
	st.subscribeList = []models.City{paris, rome}

	tr := New(st, &fakeFetcher{})
	startTracker(t, tr)

	s := waitFor(t, tr, "late change adopted", func(s State) bool {
		return models.EqualCities(s.TrackedCities, []models.City{paris, rome}) && !s.IsLoading
	})
	if _, ok := s.WeatherData["Rome,IT"]; !ok {
		t.Error("no weather for city added before subscribing")
	}
}

func TestAddCity(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{}
	tr := New(st, fetcher)
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	if err := tr.AddCity(context.Background(), "  Paris ", "FR"); err != nil {
		t.Fatalf("AddCity: %v", err)
	}

	s := waitFor(t, tr, "add batch", idleAt(2))
	if len(s.TrackedCities) != 5 {
		t.Fatalf("len(TrackedCities) = %d, want 5", len(s.TrackedCities))
	}
	if last := s.TrackedCities[4]; last != models.NewCity("Paris", "FR") {
		t.Errorf("appended city = %+v, want trimmed Paris/FR", last)
	}
	if _, ok := s.WeatherData["Paris,FR"]; !ok {
		t.Error("no weather for added city")
	}
	if len(s.WeatherData) != 5 {
		t.Errorf("len(WeatherData) = %d, want 5 (refresh covers every city)", len(s.WeatherData))
	}
	stored, _ := st.snapshot()
	if len(stored) != 5 {
		t.Errorf("len(stored) = %d, want 5", len(stored))
	}
}

func TestAddCity_DuplicateIsCaseInsensitive(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{}
	tr := New(st, fetcher)
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	_, savesBefore := st.snapshot()
	callsBefore := fetcher.callCount()

	err := tr.AddCity(context.Background(), "new york", "us")
	if !errors.Is(err, ErrDuplicateCity) {
		t.Fatalf("AddCity error = %v, want ErrDuplicateCity", err)
	}

	stored, savesAfter := st.snapshot()
	if savesAfter != savesBefore {
		t.Errorf("saves = %d, want %d", savesAfter, savesBefore)
	}
	if !models.EqualCities(stored, models.DefaultCities) {
		t.Errorf("stored = %v, want unchanged defaults", stored)
	}
	s := tr.State()
	if s.Generation != 1 || len(s.TrackedCities) != 4 {
		t.Errorf("state changed: generation %d, %d cities", s.Generation, len(s.TrackedCities))
	}
	if fetcher.callCount() != callsBefore {
		t.Error("duplicate add started a batch")
	}
}

func TestAddCity_Invalid(t *testing.T) {
	tr := New(newMemStore(), &fakeFetcher{})
	startTracker(t, tr)

	for _, tc := range [][2]string{{"", "FR"}, {"Paris", "  "}} {
		if err := tr.AddCity(context.Background(), tc[0], tc[1]); !errors.Is(err, ErrInvalidCity) {
			t.Errorf("AddCity(%q, %q) = %v, want ErrInvalidCity", tc[0], tc[1], err)
		}
	}
}

func TestAddCity_PersistenceFailure(t *testing.T) {
	st := newMemStore()
	tr := New(st, &fakeFetcher{})
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	st.setFailSaves(true)
	err := tr.AddCity(context.Background(), "Paris", "FR")
	if !errors.Is(err, store.ErrPersistence) {
		t.Fatalf("AddCity error = %v, want ErrPersistence", err)
	}

	s := tr.State()
	if len(s.TrackedCities) != 4 {
		t.Errorf("len(TrackedCities) = %d, want 4", len(s.TrackedCities))
	}
	if s.Generation != 1 {
		t.Errorf("Generation = %d, want 1 (no batch)", s.Generation)
	}
}

func TestAddCity_KeepsConcurrentExternalAdd(t *testing.T) {
	st := newMemStore()
	tr := New(st, &fakeFetcher{})
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	paris := models.NewCity("Paris", "FR")
	st.setSilently(append(cloneCities(models.DefaultCities), paris))

	if err := tr.AddCity(context.Background(), "Rome", "IT"); err != nil {
		t.Fatalf("AddCity: %v", err)
	}

	want := append(cloneCities(models.DefaultCities), paris, models.NewCity("Rome", "IT"))
	stored, _ := st.snapshot()
	if !models.EqualCities(stored, want) {
		t.Errorf("stored = %v, want %v", stored, want)
	}
	s := waitFor(t, tr, "add batch", idleAt(2))
	if !models.EqualCities(s.TrackedCities, want) {
		t.Errorf("TrackedCities = %v, want %v", s.TrackedCities, want)
	}
	if len(s.WeatherData) != 6 {
		t.Errorf("len(WeatherData) = %d, want 6", len(s.WeatherData))
	}
}

func TestAddCity_CompletesAfterCallerGivesUp(t *testing.T) {
	st := newMemStore()
	tr := New(st, &fakeFetcher{})
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	st.setBeforeUpdate(func() {
		entered <- struct{}{}
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- tr.AddCity(ctx, "Paris", "FR") }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("AddCity never reached the store")
	}
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("AddCity = %v, want nil for a persisted add", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AddCity did not return")
	}

	paris := models.NewCity("Paris", "FR")
	if stored, _ := st.snapshot(); !models.ContainsCity(stored, paris) {
		t.Error("Paris not persisted")
	}
	if !models.ContainsCity(tr.State().TrackedCities, paris) {
		t.Error("Paris not tracked")
	}
}

func TestRemoveCity(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{}
	tr := New(st, fetcher)
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	calls := fetcher.callCount()
	if err := tr.RemoveCity(context.Background(), models.NewCity("Tokyo", "JP")); err != nil {
		t.Fatalf("RemoveCity: %v", err)
	}

	s := tr.State()
	if len(s.TrackedCities) != 3 {
		t.Fatalf("len(TrackedCities) = %d, want 3", len(s.TrackedCities))
	}
	if _, ok := s.WeatherData["Tokyo,JP"]; ok {
		t.Error("weather for removed city still present")
	}
	if len(s.WeatherData) != 3 {
		t.Errorf("len(WeatherData) = %d, want 3 (others untouched)", len(s.WeatherData))
	}
	if s.Generation != 1 || s.IsLoading {
		t.Errorf("remove started a batch: generation %d loading %v", s.Generation, s.IsLoading)
	}
	if fetcher.callCount() != calls {
		t.Error("remove called the fetcher")
	}
	stored, _ := st.snapshot()
	if models.ContainsCity(stored, models.NewCity("Tokyo", "JP")) {
		t.Error("removed city still persisted")
	}
}

func TestRemoveCity_MissingIsNoop(t *testing.T) {
	st := newMemStore()
	tr := New(st, &fakeFetcher{})
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))
	_, saves := st.snapshot()

	// Removal matches exactly; a different case is a different city here.
	for _, c := range []models.City{models.NewCity("Paris", "FR"), models.NewCity("tokyo", "jp")} {
		if err := tr.RemoveCity(context.Background(), c); err != nil {
			t.Fatalf("RemoveCity(%v): %v", c, err)
		}
	}

	if _, after := st.snapshot(); after != saves {
		t.Errorf("saves = %d, want %d", after, saves)
	}
	if n := len(tr.State().TrackedCities); n != 4 {
		t.Errorf("len(TrackedCities) = %d, want 4", n)
	}
}

func TestRemoveCity_KeepsConcurrentExternalAdd(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{}
	tr := New(st, fetcher)
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	paris := models.NewCity("Paris", "FR")
	st.setSilently(append(cloneCities(models.DefaultCities), paris))

	if err := tr.RemoveCity(context.Background(), models.NewCity("Tokyo", "JP")); err != nil {
		t.Fatalf("RemoveCity: %v", err)
	}

	want := []models.City{
		models.NewCity("New York", "US"),
		models.NewCity("London", "GB"),
		models.NewCity("Bangkok", "TH"),
		paris,
	}
	stored, _ := st.snapshot()
	if !models.EqualCities(stored, want) {
		t.Errorf("stored = %v, want %v", stored, want)
	}
	// The unseen city needs weather, so a batch runs.
	s := waitFor(t, tr, "batch after remove", idleAt(2))
	if !models.EqualCities(s.TrackedCities, want) {
		t.Errorf("TrackedCities = %v, want %v", s.TrackedCities, want)
	}
	if _, ok := s.WeatherData["Paris,FR"]; !ok {
		t.Error("no weather for externally added city")
	}
	if _, ok := s.WeatherData["Tokyo,JP"]; ok {
		t.Error("weather for removed city still present")
	}
}

func TestRefresh_ReplacesWeatherWholesale(t *testing.T) {
	fetcher := &fakeFetcher{}
	tr := New(newMemStore(), fetcher)
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	fetcher.setFn(func(ctx context.Context, call int, cities []models.City) (map[string]models.WeatherSnapshot, error) {
		out := snapshotsFor(cities, "light rain")
		delete(out, "London,GB")
		return out, nil
	})
	if err := tr.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	s := waitFor(t, tr, "refresh", idleAt(2))
	if len(s.WeatherData) != 3 {
		t.Fatalf("len(WeatherData) = %d, want 3", len(s.WeatherData))
	}
	if _, ok := s.WeatherData["London,GB"]; ok {
		t.Error("London kept its previous snapshot; want wholesale replacement")
	}
	if s.WeatherData["Tokyo,JP"].Description != "light rain" {
		t.Errorf("Tokyo = %+v, want this round's snapshot", s.WeatherData["Tokyo,JP"])
	}
}

func TestRefresh_BatchErrorKeepsWeather(t *testing.T) {
	fetcher := &fakeFetcher{}
	tr := New(newMemStore(), fetcher)
	startTracker(t, tr)
	before := waitFor(t, tr, "initial batch", idleAt(1))

	fetcher.setFn(func(ctx context.Context, call int, cities []models.City) (map[string]models.WeatherSnapshot, error) {
		return nil, errors.New("fetch batch error: provider unreachable")
	})
	if err := tr.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	s := waitFor(t, tr, "failed refresh", idleAt(2))
	if s.Error != "fetch batch error: provider unreachable" {
		t.Errorf("Error = %q", s.Error)
	}
	if len(s.WeatherData) != len(before.WeatherData) {
		t.Errorf("len(WeatherData) = %d, want previous %d", len(s.WeatherData), len(before.WeatherData))
	}

	if err := tr.ClearError(context.Background()); err != nil {
		t.Fatalf("ClearError: %v", err)
	}
	cleared := tr.State()
	if cleared.Error != "" {
		t.Errorf("Error after clear = %q", cleared.Error)
	}
	if cleared.Generation != 2 || len(cleared.WeatherData) != 4 || len(cleared.TrackedCities) != 4 {
		t.Errorf("ClearError changed more than the error: %+v", cleared)
	}

	// A new batch clears the error as it starts.
	fetcher.setFn(func(ctx context.Context, call int, cities []models.City) (map[string]models.WeatherSnapshot, error) {
		return nil, errors.New("again")
	})
	tr.Refresh(context.Background())
	waitFor(t, tr, "second failure", func(s State) bool { return s.Error == "again" })
	fetcher.setFn(nil)
	tr.Refresh(context.Background())
	s = waitFor(t, tr, "recovery", idleAt(4))
	if s.Error != "" {
		t.Errorf("Error after successful batch = %q", s.Error)
	}
}

func TestRefresh_StaleGenerationDiscarded(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{}
	fetcher.setFn(func(ctx context.Context, call int, cities []models.City) (map[string]models.WeatherSnapshot, error) {
		switch call {
		case 1:
			return snapshotsFor(cities, "initial"), nil
		case 2:
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return snapshotsFor(cities, "old"), nil
		default:
			return snapshotsFor(cities, "new"), nil
		}
	})
	tr := New(newMemStore(), fetcher)
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	tr.Refresh(context.Background()) // generation 2, blocked
	tr.Refresh(context.Background()) // generation 3
	waitFor(t, tr, "newest batch", idleAt(3))

	stale := metrics.BatchesTotal.WithLabelValues("stale")
	staleBefore := testutil.ToFloat64(stale)
	close(release)

	deadline := time.Now().Add(3 * time.Second)
	for testutil.ToFloat64(stale) == staleBefore {
		if time.Now().After(deadline) {
			t.Fatal("stale batch never reported")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s := tr.State()
	if s.Generation != 3 || s.IsLoading {
		t.Errorf("generation %d loading %v, want 3 idle", s.Generation, s.IsLoading)
	}
	for key, snap := range s.WeatherData {
		if snap.Description != "new" {
			t.Errorf("%s = %q, want newest batch result", key, snap.Description)
		}
	}
}

func TestRefresh_RemovedDuringBatchStaysRemoved(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{}
	fetcher.setFn(func(ctx context.Context, call int, cities []models.City) (map[string]models.WeatherSnapshot, error) {
		if call == 2 {
			<-release
		}
		return snapshotsFor(cities, "clear sky"), nil
	})
	tr := New(newMemStore(), fetcher)
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	tr.Refresh(context.Background())
	if err := tr.RemoveCity(context.Background(), models.NewCity("London", "GB")); err != nil {
		t.Fatalf("RemoveCity: %v", err)
	}
	close(release)

	s := waitFor(t, tr, "refresh", idleAt(2))
	if _, ok := s.WeatherData["London,GB"]; ok {
		t.Error("in-flight batch resurrected weather for a removed city")
	}
	if len(s.WeatherData) != 3 {
		t.Errorf("len(WeatherData) = %d, want 3", len(s.WeatherData))
	}
}

func TestExternalStoreChangeIsAdopted(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{}
	tr := New(st, fetcher)
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	external := []models.City{models.NewCity("Oslo", "NO"), models.NewCity("Rome", "IT")}
	if err := st.SaveCities(context.Background(), external); err != nil {
		t.Fatalf("SaveCities: %v", err)
	}

	s := waitFor(t, tr, "external change", func(s State) bool {
		return models.EqualCities(s.TrackedCities, external) && !s.IsLoading
	})
	if len(s.WeatherData) != 2 {
		t.Errorf("WeatherData = %v, want Oslo and Rome only", s.WeatherData)
	}
}

func TestOwnWritesAreNotTreatedAsExternal(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{}
	tr := New(st, fetcher)
	startTracker(t, tr)
	waitFor(t, tr, "initial batch", idleAt(1))

	ctx := context.Background()
	for _, name := range []string{"Paris", "Rome", "Oslo"} {
		if err := tr.AddCity(ctx, name, "XX"); err != nil {
			t.Fatalf("AddCity(%s): %v", name, err)
		}
	}
	waitFor(t, tr, "adds settled", idleAt(4))

	// Give the echoes time to arrive, then make sure nothing reverted.
	time.Sleep(50 * time.Millisecond)
	tr.ClearError(ctx)
	s := tr.State()
	if len(s.TrackedCities) != 7 {
		t.Errorf("len(TrackedCities) = %d, want 7", len(s.TrackedCities))
	}
	if s.Generation != 4 {
		t.Errorf("Generation = %d, want 4 (no extra batches from echoes)", s.Generation)
	}
}

func TestAutoRefresh(t *testing.T) {
	tr := New(newMemStore(), &fakeFetcher{})
	tr.SetAutoRefresh(10 * time.Millisecond)
	startTracker(t, tr)

	waitFor(t, tr, "scheduled batches", func(s State) bool { return s.Generation >= 3 })
}

func TestActionsAfterStop(t *testing.T) {
	tr := New(newMemStore(), &fakeFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	waitFor(t, tr, "initial batch", idleAt(1))
	cancel()
	<-done

	if err := tr.Refresh(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Refresh after stop = %v, want ErrStopped", err)
	}
}

func TestStateIsACopy(t *testing.T) {
	tr := New(newMemStore(), &fakeFetcher{})
	startTracker(t, tr)
	s := waitFor(t, tr, "initial batch", idleAt(1))

	s.TrackedCities[0].Name = "Mutated"
	delete(s.WeatherData, "London,GB")

	fresh := tr.State()
	if fresh.TrackedCities[0].Name != "New York" {
		t.Error("caller mutation leaked into tracked cities")
	}
	if _, ok := fresh.Weather(models.NewCity("London", "GB")); !ok {
		t.Error("caller mutation leaked into weather data")
	}
}
