// Package config loads the harvester configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"harvester/internal/harvest"
	"harvester/internal/jobs"
	"harvester/internal/proxy"
	"harvester/internal/schedule"
)

const (
	defaultPort                  = 8080
	defaultDataDir               = "data"
	defaultLogLevel              = "info"
	defaultTickInterval          = 20 * time.Second
	defaultMaxConcurrentHarvests = 4
	maxConcurrentHarvests        = 16
	defaultConnectTimeout        = 60 * time.Second
	defaultTransferRetries       = 5
	defaultTransferRetryDelay    = time.Minute
	defaultApplicationID         = "harvester"
	defaultHTTPRetries           = 6
	defaultHTTPRetryDelay        = 10 * time.Second
	defaultHTTPTimeout           = 60 * time.Second
	defaultS3Region              = "us-east-1"
	defaultS3ChunkSize           = 8 << 20
	defaultQueue                 = "harvester.jobs"
)

// Backend kinds.
const (
	StoreFS      = "fs"
	StoreS3      = "s3"
	RegistryFile = "file"
	RegistryAMQP = "amqp"
)

// Config describes runtime configuration for the service.
type Config struct {
	Port                  int              `yaml:"port"`
	DataDir               string           `yaml:"data_dir"`
	LogLevel              string           `yaml:"log_level"`
	TickInterval          time.Duration    `yaml:"tick_interval"`
	MaxConcurrentHarvests int              `yaml:"max_concurrent_harvests"`
	Timezone              string           `yaml:"timezone"`
	ConnectTimeout        time.Duration    `yaml:"connect_timeout"`
	Transfer              Transfer         `yaml:"transfer"`
	HTTP                  HTTP             `yaml:"http"`
	ContentStore          ContentStore     `yaml:"content_store"`
	JobRegistry           JobRegistry      `yaml:"job_registry"`
	Proxy                 proxy.Settings   `yaml:"proxy"`
	Sources               []harvest.Source `yaml:"sources"`
}

type Transfer struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	ApplicationID string        `yaml:"application_id"`
}

type HTTP struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

type ContentStore struct {
	Kind string `yaml:"kind"`
	S3   S3     `yaml:"s3"`
}

type S3 struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	SessionToken string `yaml:"session_token"`
	ChunkSize    int64  `yaml:"chunk_size"`
}

type JobRegistry struct {
	Kind string `yaml:"kind"`
	AMQP AMQP   `yaml:"amqp"`
}

type AMQP struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// Default returns a configuration that runs with local storage and no sources.
func Default() Config {
	return Config{
		Port:                  defaultPort,
		DataDir:               defaultDataDir,
		LogLevel:              defaultLogLevel,
		TickInterval:          defaultTickInterval,
		MaxConcurrentHarvests: defaultMaxConcurrentHarvests,
		ConnectTimeout:        defaultConnectTimeout,
		Transfer: Transfer{
			MaxRetries:    defaultTransferRetries,
			RetryDelay:    defaultTransferRetryDelay,
			ApplicationID: defaultApplicationID,
		},
		HTTP: HTTP{
			MaxRetries: defaultHTTPRetries,
			RetryDelay: defaultHTTPRetryDelay,
			Timeout:    defaultHTTPTimeout,
		},
		ContentStore: ContentStore{Kind: StoreFS, S3: S3{Region: defaultS3Region, ChunkSize: defaultS3ChunkSize}},
		JobRegistry:  JobRegistry{Kind: RegistryFile, AMQP: AMQP{Queue: defaultQueue}},
	}
}

// Load reads YAML config from the provided path and applies environment
// overrides. If the file does not exist or is empty, defaults are used.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	normalize(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv lets deployments inject secrets and endpoints without editing
// the file.
func applyEnv(cfg *Config, getenv func(string) string) error {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Proxy.Hostname, "PROXY_HOSTNAME")
	setString(&cfg.Proxy.Username, "PROXY_USERNAME")
	setString(&cfg.Proxy.Password, "PROXY_PASSWORD")
	if v := strings.TrimSpace(getenv("PROXY_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PROXY_PORT: %q (must be a number)", v)
		}
		cfg.Proxy.Port = port
	}
	if v := strings.TrimSpace(getenv("NON_PROXY_HOSTS")); v != "" {
		cfg.Proxy.NonProxyHosts = splitList(v)
	}
	setString(&cfg.Timezone, "TIMEZONE")
	if v := strings.TrimSpace(getenv("AMQP_URL")); v != "" {
		cfg.JobRegistry.AMQP.URL = v
		cfg.JobRegistry.Kind = RegistryAMQP
	}
	if v := strings.TrimSpace(getenv("S3_BUCKET")); v != "" {
		cfg.ContentStore.S3.Bucket = v
		cfg.ContentStore.Kind = StoreS3
	}
	setString(&cfg.ContentStore.S3.Endpoint, "S3_ENDPOINT")
	setString(&cfg.ContentStore.S3.AccessKey, "AWS_ACCESS_KEY_ID")
	setString(&cfg.ContentStore.S3.SecretKey, "AWS_SECRET_ACCESS_KEY")
	setString(&cfg.ContentStore.S3.Region, "AWS_REGION")
	return nil
}

// splitList accepts "a,b" as well as the "a|b" form used by JVM-style
// non-proxy host settings.
func splitList(v string) []string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.TrimPrefix(p, "*"))
		}
	}
	return out
}

func normalize(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Transfer.ApplicationID == "" {
		cfg.Transfer.ApplicationID = defaultApplicationID
	}
	if cfg.HTTP.Timeout <= 0 {
		cfg.HTTP.Timeout = defaultHTTPTimeout
	}
	cfg.ContentStore.Kind = strings.ToLower(strings.TrimSpace(cfg.ContentStore.Kind))
	if cfg.ContentStore.Kind == "" {
		cfg.ContentStore.Kind = StoreFS
	}
	if cfg.ContentStore.S3.Region == "" {
		cfg.ContentStore.S3.Region = defaultS3Region
	}
	if cfg.ContentStore.S3.ChunkSize <= 0 {
		cfg.ContentStore.S3.ChunkSize = defaultS3ChunkSize
	}
	cfg.JobRegistry.Kind = strings.ToLower(strings.TrimSpace(cfg.JobRegistry.Kind))
	if cfg.JobRegistry.Kind == "" {
		cfg.JobRegistry.Kind = RegistryFile
	}
	if cfg.JobRegistry.AMQP.Queue == "" {
		cfg.JobRegistry.AMQP.Queue = defaultQueue
	}
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		src.ID = strings.TrimSpace(src.ID)
		src.Kind = harvest.Kind(strings.ToLower(string(src.Kind)))
		if src.Kind == harvest.KindHTTP && src.ListHandler == "" {
			src.ListHandler = harvest.ListStandard
		}
	}
}

func (c Config) validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("invalid tick_interval: %s (must be > 0)", c.TickInterval)
	}
	// validate concurrency explicitly: values outside 1..16 are not allowed
	if c.MaxConcurrentHarvests < 1 || c.MaxConcurrentHarvests > maxConcurrentHarvests {
		return fmt.Errorf("invalid max_concurrent_harvests: %d (must be 1..%d)", c.MaxConcurrentHarvests, maxConcurrentHarvests)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Transfer.MaxRetries < 0 || c.Transfer.RetryDelay < 0 {
		return errors.New("invalid transfer retry policy (must be >= 0)")
	}
	if c.HTTP.MaxRetries < 0 || c.HTTP.RetryDelay < 0 {
		return errors.New("invalid http retry policy (must be >= 0)")
	}
	switch c.ContentStore.Kind {
	case StoreFS:
	case StoreS3:
		if c.ContentStore.S3.Bucket == "" {
			return errors.New("invalid content_store.s3.bucket: empty (must be set for s3)")
		}
	default:
		return fmt.Errorf("invalid content_store.kind: %q (must be fs or s3)", c.ContentStore.Kind)
	}
	switch c.JobRegistry.Kind {
	case RegistryFile:
	case RegistryAMQP:
		if c.JobRegistry.AMQP.URL == "" {
			return errors.New("invalid job_registry.amqp.url: empty (must be set for amqp)")
		}
	default:
		return fmt.Errorf("invalid job_registry.kind: %q (must be file or amqp)", c.JobRegistry.Kind)
	}
	return c.validateSources()
}

func (c Config) validateSources() error {
	eval := schedule.NewEvaluator(nil)
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("invalid sources[%d].id: empty", i)
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("invalid sources[%d].id: %q (must be unique)", i, src.ID)
		}
		seen[src.ID] = struct{}{}
		if !src.Kind.Valid() {
			return fmt.Errorf("invalid source %s kind: %q (must be ftp, sftp or http)", src.ID, src.Kind)
		}
		if !eval.Validate(src.Schedule) {
			return fmt.Errorf("invalid source %s schedule: %q", src.ID, src.Schedule)
		}
		if err := jobs.ValidateTemplate(src.Transfile); err != nil {
			return fmt.Errorf("invalid source %s transfile: %w", src.ID, err)
		}
		switch src.Kind {
		case harvest.KindHTTP:
			if src.URL == "" {
				return fmt.Errorf("invalid source %s url: empty", src.ID)
			}
			if src.ListHandler != harvest.ListStandard && src.ListHandler != harvest.ListPaginated {
				return fmt.Errorf("invalid source %s list_handler: %q (must be standard or paginated)", src.ID, src.ListHandler)
			}
		default:
			if src.Host == "" {
				return fmt.Errorf("invalid source %s host: empty", src.ID)
			}
		}
	}
	return nil
}

// Location resolves the configured time zone; empty means the host zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Level returns the parsed log level.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
