package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/lox/weathertracker/internal/api"
	"github.com/lox/weathertracker/internal/display"
	"github.com/lox/weathertracker/internal/models"
	"github.com/lox/weathertracker/internal/tracker"
)

type ServeCmd struct {
	Port             string        `env:"PORT" default:"8080" help:"HTTP server port."`
	RefreshInterval  time.Duration `name:"refresh-interval" default:"0s" help:"Refresh all cities on this interval; 0 disables."`
	PayloadRetention time.Duration `name:"payload-retention" default:"720h" help:"Delete raw provider payloads older than this; 0 keeps them."`
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.newTracker(g)
	if err != nil {
		return err
	}
	t.SetAutoRefresh(c.RefreshInterval)

	server := api.NewServer(t, c.Port)
	server.SetAuditStore(a.store)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		if err := t.Run(ctx); err != nil {
			log.Printf("tracker: %v", err)
		}
	}()
	if c.PayloadRetention > 0 {
		go a.cleanupPayloads(ctx, c.PayloadRetention)
	}

	err = server.Run(ctx)
	cancel()
	<-trackerDone
	return err
}

// cleanupPayloads prunes old raw payloads at startup and then daily.
func (a *app) cleanupPayloads(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		n, err := a.store.CleanupOldRawPayloads(ctx, retention)
		if err != nil {
			log.Printf("cleanup: raw payloads: %v", err)
		} else if n > 0 {
			log.Printf("cleanup: deleted %d raw payloads older than %s", n, retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type CitiesCmd struct {
	List   CitiesListCmd   `cmd:"" default:"1" help:"List tracked cities."`
	Add    CitiesAddCmd    `cmd:"" help:"Track a city."`
	Remove CitiesRemoveCmd `cmd:"" help:"Stop tracking a city."`
}

type CitiesListCmd struct {
	JSON bool `name:"json" help:"Print as JSON."`
}

func (c *CitiesListCmd) Run(ctx context.Context, g *Globals) error {
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	cities := a.cities.LoadCities(ctx)
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cities)
	}

	if len(cities) == 0 {
		fmt.Println("no tracked cities; defaults are seeded on first serve or refresh")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCOUNTRY\tREGION")
	for _, city := range cities {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", city.Name, city.Country, display.RegionName(city.Country))
	}
	return tw.Flush()
}

type CitiesAddCmd struct {
	Name    string `arg:"" help:"City name."`
	Country string `arg:"" help:"ISO country code."`
}

// Run edits the stored list with a compare-and-swap update. A running
// server picks the change up from the store: redis announces it, SQLite
// servers see the new row version on their next watch tick.
func (c *CitiesAddCmd) Run(ctx context.Context, g *Globals) error {
	city := models.NormalizeCity(c.Name, c.Country)
	if city.Name == "" || city.Country == "" {
		return tracker.ErrInvalidCity
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	cities, err := a.cities.UpdateCities(ctx, func(current []models.City) ([]models.City, error) {
		if len(current) == 0 {
			current = append(current, models.DefaultCities...)
		}
		if models.ContainsCity(current, city) {
			return nil, fmt.Errorf("%w: %s", tracker.ErrDuplicateCity, city.Key())
		}
		return append(current, city), nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("tracking %s (%d cities)\n", city.Key(), len(cities))
	return nil
}

type CitiesRemoveCmd struct {
	Name    string `arg:"" help:"City name, as listed."`
	Country string `arg:"" help:"ISO country code, as listed."`
}

func (c *CitiesRemoveCmd) Run(ctx context.Context, g *Globals) error {
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	removed := false
	cities, err := a.cities.UpdateCities(ctx, func(current []models.City) ([]models.City, error) {
		removed = false
		next := make([]models.City, 0, len(current))
		for _, city := range current {
			if !removed && city.Name == c.Name && city.Country == c.Country {
				removed = true
				continue
			}
			next = append(next, city)
		}
		return next, nil
	})
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("%s,%s is not tracked\n", c.Name, c.Country)
		return nil
	}
	fmt.Printf("removed %s,%s (%d cities)\n", c.Name, c.Country, len(cities))
	return nil
}

type RefreshCmd struct {
	Timeout time.Duration `default:"1m" help:"Give up waiting for the batch after this long."`
}

// Run starts a tracker, waits for its first batch and prints the state.
func (c *RefreshCmd) Run(ctx context.Context, g *Globals) error {
	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.newTracker(g)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		t.Run(runCtx)
		close(stopped)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	var final *tracker.State
	for s := range t.Subscribe(runCtx) {
		if s.Generation > 0 && !s.IsLoading {
			final = &s
			break
		}
	}
	if final == nil {
		return errors.New("refresh: timed out waiting for weather")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(final); err != nil {
		return err
	}
	if final.Error != "" {
		return errors.New(final.Error)
	}
	return nil
}
