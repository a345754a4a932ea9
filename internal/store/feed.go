package store

import (
	"context"
	"sync"

	"github.com/lox/weathertracker/internal/models"
)

// cityFeed fans tracked-city lists out to in-process subscribers. Each
// subscriber holds at most one pending list; a newer list replaces an
// unread one.
type cityFeed struct {
	mu   sync.Mutex
	subs map[chan []models.City]struct{}
}

func newCityFeed() *cityFeed {
	return &cityFeed{subs: make(map[chan []models.City]struct{})}
}

// subscribe registers a subscriber and seeds it with load's result. load runs
// under the feed lock so a concurrent publish cannot be overtaken by an
// older initial value.
func (f *cityFeed) subscribe(ctx context.Context, load func() []models.City) <-chan []models.City {
	ch := make(chan []models.City, 1)

	f.mu.Lock()
	ch <- load()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

func (f *cityFeed) publish(cities []models.City) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		offerLatest(ch, cloneCities(cities))
	}
}

// offerLatest delivers cities on ch, discarding a pending value if the
// buffer is full. Callers must be the only sender on ch.
func offerLatest(ch chan []models.City, cities []models.City) {
	for {
		select {
		case ch <- cities:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func cloneCities(cities []models.City) []models.City {
	out := make([]models.City, len(cities))
	copy(out, cities)
	return out
}
