package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/weathertracker/internal/httputil"
	"github.com/lox/weathertracker/internal/ingest"
	"github.com/lox/weathertracker/internal/store"
	"github.com/lox/weathertracker/internal/tracker"
)

// Globals are shared by every command.
type Globals struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file.'"`

	APIKey      string        `name:"api-key" env:"OWM_API_KEY" help:"OpenWeatherMap API key."`
	BaseURL     string        `name:"base-url" env:"OWM_BASE_URL" default:"${owm_base_url}" help:"OpenWeatherMap API root."`
	DB          string        `name:"db" env:"WEATHERTRACKER_DB" default:"data/weathertracker.db" type:"path" help:"Path to SQLite database."`
	RedisAddr   string        `name:"redis-addr" env:"REDIS_ADDR" help:"Keep tracked cities in redis at this address instead of SQLite."`
	RedisKey    string        `name:"redis-key" env:"REDIS_KEY" default:"${redis_key}" help:"Redis key holding the tracked cities."`
	HTTPTimeout time.Duration `name:"http-timeout" default:"30s" help:"Timeout for provider requests."`
	Concurrency int           `name:"concurrency" default:"4" help:"Maximum concurrent provider requests per batch."`

	WatchInterval time.Duration `name:"watch-interval" default:"2s" help:"How often to check SQLite for city changes made by other processes."`
}

type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the tracker and its HTTP API."`
	Cities  CitiesCmd  `cmd:"" help:"Manage tracked cities."`
	Refresh RefreshCmd `cmd:"" help:"Fetch weather for every tracked city once and print the state."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("weathertracker"),
		kong.Description("Tracks current weather for a list of cities."),
		kong.UsageOnError(),
		kong.Vars{
			"owm_base_url": ingest.DefaultBaseURL,
			"redis_key":    store.DefaultRedisKey,
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

// app is the wired dependency graph shared by the commands.
type app struct {
	store   *store.Store
	cities  tracker.CityStore
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

// openApp opens the SQLite database and, when configured, the redis city
// store. SQLite always holds the audit tables.
func openApp(ctx context.Context, g *Globals) (*app, error) {
	if dir := filepath.Dir(g.DB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := store.Open(g.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{closers: []func() error{db.Close}}

	a.store = store.New(db)
	a.store.SetWatchInterval(g.WatchInterval)
	if err := a.store.Migrate(); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.cities = a.store

	if g.RedisAddr != "" {
		rs, err := store.NewRedisCityStore(ctx, &redis.Options{Addr: g.RedisAddr}, g.RedisKey)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		a.cities = rs
		log.Printf("tracked cities stored in redis %s key %s", g.RedisAddr, g.RedisKey)
	}

	return a, nil
}

// newTracker wires the provider, orchestrator and audit recorders.
func (a *app) newTracker(g *Globals) (*tracker.Tracker, error) {
	if g.APIKey == "" {
		return nil, fmt.Errorf("OWM_API_KEY environment variable or --api-key required")
	}

	client := ingest.NewOWMClient(g.APIKey, g.BaseURL, httputil.NewClient(g.HTTPTimeout))
	orch := ingest.NewOrchestrator(client)
	orch.SetConcurrency(g.Concurrency)
	orch.SetPayloadRecorder(a.store)

	t := tracker.New(a.cities, orch)
	t.SetRunRecorder(a.store)
	return t, nil
}
