package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lox/weathertracker/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the tracked-city list when no key is configured.
const DefaultRedisKey = "weathertracker:" + TrackedCitiesKey

// RedisCityStore keeps the tracked-city list under a single redis key and
// announces every save on "<key>:changed", so processes sharing the key see
// each other's edits.
type RedisCityStore struct {
	client *redis.Client
	key    string
}

// NewRedisCityStore connects to redis and verifies the connection.
func NewRedisCityStore(ctx context.Context, opts *redis.Options, key string) (*RedisCityStore, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	return &RedisCityStore{client: client, key: key}, nil
}

func (r *RedisCityStore) Close() error {
	return r.client.Close()
}

func (r *RedisCityStore) channel() string {
	return r.key + ":changed"
}

// LoadCities returns the stored list, or an empty list when the key is
// missing, malformed or unreadable.
func (r *RedisCityStore) LoadCities(ctx context.Context) []models.City {
	value, err := r.client.Get(ctx, r.key).Result()
	if err == redis.Nil {
		return []models.City{}
	}
	if err != nil {
		log.Printf("store: redis load tracked cities: %v", err)
		return []models.City{}
	}
	return decodeCities(value)
}

// SaveCities replaces the list and publishes a change notice in one
// MULTI/EXEC transaction.
func (r *RedisCityStore) SaveCities(ctx context.Context, cities []models.City) error {
	value, err := encodeCities(cities)
	if err != nil {
		return fmt.Errorf("%w: encode tracked cities: %w", ErrPersistence, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key, value, 0)
		pipe.Publish(ctx, r.channel(), value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis save tracked cities: %w", ErrPersistence, err)
	}
	return nil
}

// UpdateCities applies fn to the stored list under WATCH and writes the
// result in a MULTI/EXEC with its change notice. The transaction fails if
// another client touched the key first, in which case fn runs again on the
// fresh list.
func (r *RedisCityStore) UpdateCities(ctx context.Context, fn func(current []models.City) ([]models.City, error)) ([]models.City, error) {
	var (
		result []models.City
		fnErr  error
	)
	txf := func(tx *redis.Tx) error {
		current := []models.City{}
		value, err := tx.Get(ctx, r.key).Result()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			current = decodeCities(value)
		}

		next, err := fn(cloneCities(current))
		if err != nil {
			fnErr = err
			return err
		}
		if models.EqualCities(next, current) {
			result = current
			return nil
		}

		encoded, err := encodeCities(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, encoded, 0)
			pipe.Publish(ctx, r.channel(), encoded)
			return nil
		})
		if err != nil {
			return err
		}
		result = cloneCities(next)
		return nil
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, r.key)
		if fnErr != nil {
			return nil, fnErr
		}
		if err == nil {
			return result, nil
		}
		if err != redis.TxFailedErr {
			return nil, fmt.Errorf("%w: redis update tracked cities: %w", ErrPersistence, err)
		}
		log.Printf("store: redis tracked cities changed concurrently, retrying (attempt %d)", attempt)
	}
	return nil, fmt.Errorf("%w: tracked cities changed concurrently %d times", ErrPersistence, maxUpdateAttempts)
}

// SubscribeCities streams the current list, then the list after every
// change notice, until ctx is done.
func (r *RedisCityStore) SubscribeCities(ctx context.Context) <-chan []models.City {
	ch := make(chan []models.City, 1)

	go func() {
		defer close(ch)

		pubsub := r.client.Subscribe(ctx, r.channel())
		defer pubsub.Close()

		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() == nil {
				log.Printf("store: redis subscribe %s: %v", r.channel(), err)
			}
			return
		}

		offerLatest(ch, r.LoadCities(ctx))

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				offerLatest(ch, r.LoadCities(ctx))
			}
		}
	}()

	return ch
}
