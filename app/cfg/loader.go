package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	StoreBackend string `long:"store" env:"STORE_BACKEND" default:"sqlite" choice:"sqlite" choice:"badger" choice:"redis" choice:"memory" description:"Durable storage backend"`
	DBPath       string `long:"db-path" env:"DB_PATH" default:"./data/tag-comb.db" description:"SQLite database file"`
	BadgerDir    string `long:"badger-dir" env:"BADGER_DIR" default:"./data/badger" description:"Badger data directory"`
	RedisURL     string `long:"redis-url" env:"REDIS_URL" default:"redis://localhost:6379/0" description:"Redis connection URL"`
	Mirror       string `long:"mirror" env:"MIRROR_BACKEND" default:"memory" choice:"memory" choice:"file" description:"Synchronous mirror backend"`
	MirrorPath   string `long:"mirror-path" env:"MIRROR_PATH" default:"./data/mirror.json" description:"Mirror file used when --mirror=file"`
	Namespace    string `long:"namespace" env:"STORE_NAMESPACE" default:"tagcomb" description:"Key prefix for stored records"`

	// Page handling
	ProfilesDir string `long:"profiles-dir" env:"PROFILES_DIR" default:"./profiles" description:"Directory containing site profile files"`
	Profile     string `long:"profile" env:"PROFILE" default:"ao3" description:"Default site profile"`
	DebounceMS  int    `long:"debounce" env:"DEBOUNCE_MS" default:"250" description:"Content change coalescing window in milliseconds"`

	// HTTP configuration
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Parser parses the global options together with any registered commands.
// The configuration is built before a command executes, so commands can
// call Get.
type Parser struct {
	*flags.Parser
	raw rawCfg
}

func NewParser() *Parser {
	loadDotEnv()

	p := &Parser{}
	p.Parser = flags.NewParser(&p.raw, flags.Default)
	p.CommandHandler = func(command flags.Commander, args []string) error {
		if _, err := p.build(); err != nil {
			return err
		}
		if command == nil {
			return nil
		}
		return command.Execute(args)
	}
	return p
}

func (p *Parser) build() (*Cfg, error) {
	if p.raw.DebounceMS < 0 {
		return nil, fmt.Errorf("debounce must not be negative: %d", p.raw.DebounceMS)
	}

	cfg := &Cfg{
		StoreBackend: p.raw.StoreBackend,
		DBPath:       p.raw.DBPath,
		BadgerDir:    p.raw.BadgerDir,
		RedisURL:     p.raw.RedisURL,
		Mirror:       p.raw.Mirror,
		MirrorPath:   p.raw.MirrorPath,
		Namespace:    p.raw.Namespace,
		ProfilesDir:  p.raw.ProfilesDir,
		Profile:      p.raw.Profile,
		Debounce:     time.Duration(p.raw.DebounceMS) * time.Millisecond,
		Port:         p.raw.Port,
		BaseUrl:      p.raw.BaseUrl,
		APIAccessKey: p.raw.APIAccessKey,
		Timezone:     p.raw.Timezone,
		Debug:        p.raw.Debug,
		Version:      GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	globalCfg = cfg

	return cfg, nil
}

// Load parses global options from the process arguments, ignoring
// commands. It returns nil when help was requested.
func Load() (*Cfg, error) {
	loadDotEnv()

	p := &Parser{}
	p.Parser = flags.NewParser(&p.raw, flags.Default|flags.IgnoreUnknown)

	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return p.build()
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(); err != nil {
		slog.Warn("Failed to load .env file", "error", err)
	}
}

func applyTimezone(timezone string) error {
	if timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return err
	}
	time.Local = loc
	return nil
}
