package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lox/weathertracker/internal/models"
)

// TrackedCitiesKey is the preferences key holding the tracked-city list.
const TrackedCitiesKey = "tracked_cities"

// maxUpdateAttempts bounds compare-and-swap retries in UpdateCities.
const maxUpdateAttempts = 5

// noRow is the version reported when the list has never been saved.
const noRow int64 = -1

// LoadCities returns the persisted tracked-city list. A missing entry, a
// malformed value or a read failure all produce an empty list.
func (s *Store) LoadCities(ctx context.Context) []models.City {
	cities, _, err := s.loadVersioned(ctx)
	if err != nil {
		log.Printf("store: load tracked cities: %v", err)
		return []models.City{}
	}
	return cities
}

func (s *Store) loadVersioned(ctx context.Context) ([]models.City, int64, error) {
	var (
		value   string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version FROM preferences WHERE key = ?`, TrackedCitiesKey,
	).Scan(&value, &version)
	if err == sql.ErrNoRows {
		return []models.City{}, noRow, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return decodeCities(value), version, nil
}

// SaveCities replaces the persisted list unconditionally and notifies
// subscribers. Use UpdateCities to edit the list.
func (s *Store) SaveCities(ctx context.Context, cities []models.City) error {
	value, err := encodeCities(cities)
	if err != nil {
		return fmt.Errorf("%w: encode tracked cities: %w", ErrPersistence, err)
	}

	var version int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO preferences (key, value, updated_at, version)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at,
			version = preferences.version + 1
		RETURNING version
	`, TrackedCitiesKey, value, time.Now().UTC()).Scan(&version)
	if err != nil {
		return fmt.Errorf("%w: save tracked cities: %w", ErrPersistence, err)
	}

	s.noteSaved(cities, version)
	return nil
}

// UpdateCities applies fn to the stored list and writes the result only if
// no other writer, in this process or another, saved in between. On a
// conflict it reloads and calls fn again. An error from fn aborts without
// writing, and a result equal to the stored list is not written. It returns
// the list that is stored afterwards.
func (s *Store) UpdateCities(ctx context.Context, fn func(current []models.City) ([]models.City, error)) ([]models.City, error) {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, version, err := s.loadVersioned(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: load tracked cities: %w", ErrPersistence, err)
		}

		next, err := fn(cloneCities(current))
		if err != nil {
			return nil, err
		}
		if models.EqualCities(next, current) {
			return current, nil
		}

		saved, ok, err := s.swapCities(ctx, next, version)
		if err != nil {
			return nil, fmt.Errorf("%w: save tracked cities: %w", ErrPersistence, err)
		}
		if ok {
			s.noteSaved(next, saved)
			return cloneCities(next), nil
		}
		log.Printf("store: tracked cities changed concurrently, retrying (attempt %d)", attempt)
	}
	return nil, fmt.Errorf("%w: tracked cities changed concurrently %d times", ErrPersistence, maxUpdateAttempts)
}

// swapCities writes cities if the stored version is still expected. It
// reports the new version and whether the write happened.
func (s *Store) swapCities(ctx context.Context, cities []models.City, expected int64) (int64, bool, error) {
	value, err := encodeCities(cities)
	if err != nil {
		return 0, false, err
	}
	now := time.Now().UTC()

	var res sql.Result
	if expected == noRow {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO preferences (key, value, updated_at, version)
			VALUES (?, ?, ?, 1)
			ON CONFLICT(key) DO NOTHING
		`, TrackedCitiesKey, value, now)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE preferences SET value = ?, updated_at = ?, version = version + 1
			WHERE key = ? AND version = ?
		`, value, now, TrackedCitiesKey, expected)
	}
	if err != nil {
		return 0, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	if expected == noRow {
		return 1, true, nil
	}
	return expected + 1, true, nil
}

// noteSaved publishes a list this Store wrote, unless a newer version has
// already gone out.
func (s *Store) noteSaved(cities []models.City, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version <= s.seen {
		return
	}
	s.seen = version
	s.feed.publish(cities)
}

// SubscribeCities streams the current list, then every saved list, until
// ctx is done. Writes made through other connections to the same database
// are picked up by polling the row version.
func (s *Store) SubscribeCities(ctx context.Context) <-chan []models.City {
	s.mu.Lock()
	cities, version, err := s.loadVersioned(ctx)
	if err != nil {
		log.Printf("store: load tracked cities: %v", err)
		cities = []models.City{}
	} else if version > s.seen {
		s.seen = version
	}
	ch := s.feed.subscribe(ctx, func() []models.City { return cities })
	s.mu.Unlock()

	go s.watch(ctx)
	return ch
}

func (s *Store) watch(ctx context.Context) {
	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkExternal(ctx)
		}
	}
}

// checkExternal publishes the stored list if its version is newer than
// anything this Store has published.
func (s *Store) checkExternal(ctx context.Context) {
	cities, version, err := s.loadVersioned(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("store: watch tracked cities: %v", err)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if version <= s.seen {
		return
	}
	log.Printf("store: tracked cities changed externally (version %d)", version)
	s.seen = version
	s.feed.publish(cities)
}

func encodeCities(cities []models.City) (string, error) {
	if cities == nil {
		cities = []models.City{}
	}
	b, err := json.Marshal(cities)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeCities(value string) []models.City {
	var cities []models.City
	if err := json.Unmarshal([]byte(value), &cities); err != nil {
		log.Printf("store: decode tracked cities: %v", err)
		return []models.City{}
	}
	if cities == nil {
		return []models.City{}
	}
	return cities
}
