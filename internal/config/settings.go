package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ytget/clipqueue/internal/model"
	"github.com/ytget/clipqueue/internal/platform"
)

// EnvPrefix prefixes every environment variable read by Settings
const EnvPrefix = "CLIPQ_"

// Store drivers
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Delete modes
const (
	DeleteSoft = "soft"
	DeleteHard = "hard"
)

// Default values
const (
	DefaultMaxParallel    = 2
	MinMaxParallel        = 1
	MaxMaxParallel        = 10
	DefaultOnDuplicate    = model.DuplicateCreateNew
	DefaultOutputVideo    = "video"
	DefaultOutputAudio    = "audio"
	DefaultStoreDriver    = DriverMemory
	DefaultRedisKeyPrefix = "clipq"
	DefaultEventsChannel  = "clipq:events"
	DefaultControlChannel = "clipq:control"
	DefaultLogLevel       = "info"
	FallbackDownloadDir   = "/tmp/downloads"
)

// Settings is the process configuration. It is loaded from CLIPQ_* variables,
// after an optional .env file.
type Settings struct {
	DownloadDir           string                `env:"DOWNLOAD_DIR"`
	OnDuplicate           model.DuplicatePolicy `env:"ON_DUPLICATE" envDefault:"create_new"`
	DeleteMode            string                `env:"DELETE_MODE" envDefault:"soft"`
	DefaultOutput         string                `env:"DEFAULT_OUTPUT" envDefault:"video"`
	DownloadAutomatically bool                  `env:"DOWNLOAD_AUTOMATICALLY" envDefault:"true"`
	RecoverQueued         bool                  `env:"RECOVER_QUEUED" envDefault:"true"`
	MaxParallel           int                   `env:"MAX_PARALLEL" envDefault:"2"`

	VideoTool string `env:"VIDEO_TOOL" envDefault:"yt-dlp"`
	ImageTool string `env:"IMAGE_TOOL" envDefault:"gallery-dl"`
	// Browsers overrides cookie store detection: "label=arg,label=arg"
	Browsers string `env:"BROWSERS"`

	StoreDriver    string `env:"STORE" envDefault:"memory"`
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"clipq"`
	DatabaseURL    string `env:"DATABASE_URL"`
	EventsChannel  string `env:"EVENTS_CHANNEL"`
	// ControlChannel makes run accept scheduler commands over Redis pub/sub
	ControlChannel string `env:"CONTROL_CHANNEL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// Sanitize applies defaults and clamps to values loaded from env
func (s *Settings) Sanitize() {
	if strings.TrimSpace(s.DownloadDir) == "" {
		dir, err := platform.GetHomeDownloadsDir()
		if err != nil {
			dir = FallbackDownloadDir
		}
		s.DownloadDir = dir
	}
	s.OnDuplicate = model.ParseDuplicatePolicy(string(s.OnDuplicate))
	s.MaxParallel = ClampMaxParallel(s.MaxParallel)

	switch strings.ToLower(strings.TrimSpace(s.DeleteMode)) {
	case DeleteHard:
		s.DeleteMode = DeleteHard
	default:
		s.DeleteMode = DeleteSoft
	}

	switch strings.ToLower(strings.TrimSpace(s.DefaultOutput)) {
	case DefaultOutputAudio:
		s.DefaultOutput = DefaultOutputAudio
	default:
		s.DefaultOutput = DefaultOutputVideo
	}

	switch strings.ToLower(strings.TrimSpace(s.StoreDriver)) {
	case DriverRedis:
		s.StoreDriver = DriverRedis
	case DriverPostgres:
		s.StoreDriver = DriverPostgres
	default:
		s.StoreDriver = DefaultStoreDriver
	}

	if s.RedisKeyPrefix == "" {
		s.RedisKeyPrefix = DefaultRedisKeyPrefix
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
}

// Validate reports settings that cannot work together
func (s *Settings) Validate() error {
	if s.StoreDriver == DriverPostgres && s.DatabaseURL == "" {
		return fmt.Errorf("%w: %sDATABASE_URL is required for the postgres store", model.ErrConfig, EnvPrefix)
	}
	if s.StoreDriver == DriverRedis && s.RedisAddr == "" {
		return fmt.Errorf("%w: %sREDIS_ADDR is required for the redis store", model.ErrConfig, EnvPrefix)
	}
	return nil
}

// ClampMaxParallel keeps the parallel limit within 1..10, mapping unset to the default
func ClampMaxParallel(n int) int {
	if n == 0 {
		return DefaultMaxParallel
	}
	if n < MinMaxParallel {
		return MinMaxParallel
	}
	if n > MaxMaxParallel {
		return MaxMaxParallel
	}
	return n
}

// DefaultAudio reports whether jobs without a preference fetch audio only
func (s *Settings) DefaultAudio() bool {
	return s.DefaultOutput == DefaultOutputAudio
}

// CredentialOverride returns the configured browser list, if any
func (s *Settings) CredentialOverride() []model.CredentialProfile {
	return platform.ParseBrowserList(s.Browsers)
}

// Provider yields the current settings. Load is called again on every
// settings refresh, so implementations may pick up changes.
type Provider interface {
	Load() (Settings, error)
}

// EnvProvider reads settings from the process environment
type EnvProvider struct {
	// DotEnv lists .env files to load first; missing files are ignored
	DotEnv []string
}

// Load implements Provider
func (p EnvProvider) Load() (Settings, error) {
	if err := loadDotEnv(p.DotEnv...); err != nil {
		return Settings{}, err
	}
	return parse(nil)
}

// StaticProvider returns fixed settings; intended for tests and embedding
type StaticProvider struct {
	mu       sync.Mutex
	Settings Settings
}

// Load implements Provider
func (p *StaticProvider) Load() (Settings, error) {
	p.mu.Lock()
	s := p.Settings
	p.mu.Unlock()
	s.Sanitize()
	return s, nil
}

// Set replaces the settings returned by later Load calls
func (p *StaticProvider) Set(s Settings) {
	p.mu.Lock()
	p.Settings = s
	p.mu.Unlock()
}

// FromMap parses settings from an explicit variable map instead of the
// process environment. Keys carry the CLIPQ_ prefix.
func FromMap(vars map[string]string) (Settings, error) {
	return parse(vars)
}

func parse(vars map[string]string) (Settings, error) {
	var s Settings
	opts := env.Options{Prefix: EnvPrefix}
	if vars != nil {
		opts.Environment = vars
	}
	if err := env.ParseWithOptions(&s, opts); err != nil {
		return s, fmt.Errorf("%w: parse settings: %v", model.ErrConfig, err)
	}
	s.Sanitize()
	return s, nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) {
				return fmt.Errorf("%w: load %s: %v", model.ErrConfig, f, err)
			}
		}
	}
	return nil
}
