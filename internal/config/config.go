package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Source    Endpoint  `yaml:"source"`
	Target    Endpoint  `yaml:"target"`
	Replicate Replicate `yaml:"replicate"`
	Queue     Queue     `yaml:"queue"`
	LogLevel  string    `yaml:"log_level"`
}

// Endpoint represents one S3-compatible service and bucket
type Endpoint struct {
	EndpointURL string `yaml:"endpoint_url"`
	AccessKey   string `yaml:"access_key"`
	Secret      string `yaml:"secret"`
	Bucket      string `yaml:"bucket"`
	Region      string `yaml:"region"`
}

// Replicate represents replication-specific configuration
type Replicate struct {
	Prefixes       string        `yaml:"prefixes"`
	EnableState    bool          `yaml:"enable_state"`
	StateFile      string        `yaml:"state_file"`
	Threads        int           `yaml:"threads"`
	Client         string        `yaml:"client"`
	Retries        int           `yaml:"retries"`
	RetryBackoffMs int           `yaml:"retry_backoff_ms"`
	ClaimTTL       time.Duration `yaml:"claim_ttl"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	ShowProgress   bool          `yaml:"show_progress"`
}

// Queue selects the work queue backend; an empty URL keeps it in process
type Queue struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// Default returns the configuration used when neither file nor flags set a value
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Replicate: Replicate{
			Prefixes:       "/",
			StateFile:      "state.db",
			Threads:        runtime.NumCPU(),
			Client:         "minio",
			Retries:        3,
			RetryBackoffMs: 500,
		},
		Queue: Queue{
			Name: "bucketreplicator",
		},
	}
}

// RegisterFlags declares every command line flag on flags
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()

	flags.String("source-endpoint-url", "", "Source endpoint URL")
	flags.String("source-access-key", "", "Source endpoint access key")
	flags.String("source-secret", "", "Source endpoint secret")
	flags.String("source-bucket", "", "Source bucket (required)")
	flags.String("source-region", "", "Source region")

	flags.String("target-endpoint-url", "", "Target endpoint URL")
	flags.String("target-access-key", "", "Target endpoint access key")
	flags.String("target-secret", "", "Target endpoint secret")
	flags.String("target-bucket", "", "Target bucket (required)")
	flags.String("target-region", "", "Target region")

	flags.String("prefixes", d.Replicate.Prefixes, "Comma separated prefixes, one lister each")
	flags.Bool("enable-state", false, "Persist already copied keys in the state file")
	flags.String("state-file", d.Replicate.StateFile, "State file of already copied keys")
	flags.Int("threads", d.Replicate.Threads, "Number of copy workers")
	flags.String("client", d.Replicate.Client, "Storage client implementation (minio/s3)")
	flags.Int("retries", d.Replicate.Retries, "Maximum attempts per key")
	flags.Int("retry-backoff-ms", d.Replicate.RetryBackoffMs, "Initial retry backoff in milliseconds")
	flags.Duration("claim-ttl", 0, "Per-key claim lease; 0 disables claims")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.Bool("show-progress", false, "Show progress display on a terminal")

	flags.String("queue-url", "", "AMQP broker URL for a shared work queue")
	flags.String("queue-name", d.Queue.Name, "AMQP queue name")

	flags.String("log-level", d.LogLevel, "Log level (debug/info/warn/error)")
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	strs := map[string]*string{
		"source-endpoint-url": &cfg.Source.EndpointURL,
		"source-access-key":   &cfg.Source.AccessKey,
		"source-secret":       &cfg.Source.Secret,
		"source-bucket":       &cfg.Source.Bucket,
		"source-region":       &cfg.Source.Region,
		"target-endpoint-url": &cfg.Target.EndpointURL,
		"target-access-key":   &cfg.Target.AccessKey,
		"target-secret":       &cfg.Target.Secret,
		"target-bucket":       &cfg.Target.Bucket,
		"target-region":       &cfg.Target.Region,
		"prefixes":            &cfg.Replicate.Prefixes,
		"state-file":          &cfg.Replicate.StateFile,
		"client":              &cfg.Replicate.Client,
		"metrics-addr":        &cfg.Replicate.MetricsAddr,
		"queue-url":           &cfg.Queue.URL,
		"queue-name":          &cfg.Queue.Name,
		"log-level":           &cfg.LogLevel,
	}
	for name, dst := range strs {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	ints := map[string]*int{
		"threads":          &cfg.Replicate.Threads,
		"retries":          &cfg.Replicate.Retries,
		"retry-backoff-ms": &cfg.Replicate.RetryBackoffMs,
	}
	for name, dst := range ints {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	bools := map[string]*bool{
		"enable-state":  &cfg.Replicate.EnableState,
		"show-progress": &cfg.Replicate.ShowProgress,
	}
	for name, dst := range bools {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	if flags.Changed("claim-ttl") {
		v, err := flags.GetDuration("claim-ttl")
		if err != nil {
			return err
		}
		cfg.Replicate.ClaimTTL = v
	}

	return nil
}

// Validate checks required values; it runs before any network activity
func (c *Config) Validate() error {
	required := []struct {
		value string
		flag  string
	}{
		{c.Source.EndpointURL, "source-endpoint-url"},
		{c.Source.AccessKey, "source-access-key"},
		{c.Source.Secret, "source-secret"},
		{c.Source.Bucket, "source-bucket"},
		{c.Target.EndpointURL, "target-endpoint-url"},
		{c.Target.AccessKey, "target-access-key"},
		{c.Target.Secret, "target-secret"},
		{c.Target.Bucket, "target-bucket"},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: --%s is required", ErrInvalidConfig, r.flag)
		}
	}

	if c.Replicate.Threads <= 0 {
		return fmt.Errorf("%w: threads must be positive", ErrInvalidConfig)
	}
	if c.Replicate.Retries <= 0 {
		return fmt.Errorf("%w: retries must be positive", ErrInvalidConfig)
	}
	if c.Replicate.RetryBackoffMs < 0 {
		return fmt.Errorf("%w: retry backoff cannot be negative", ErrInvalidConfig)
	}
	if c.Replicate.ClaimTTL < 0 {
		return fmt.Errorf("%w: claim ttl cannot be negative", ErrInvalidConfig)
	}
	if c.Replicate.EnableState && c.Replicate.StateFile == "" {
		return fmt.Errorf("%w: state file is required when state is enabled", ErrInvalidConfig)
	}
	switch c.Replicate.Client {
	case "minio", "s3":
	default:
		return fmt.Errorf("%w: unknown client %q", ErrInvalidConfig, c.Replicate.Client)
	}
	if c.Queue.URL != "" && c.Queue.Name == "" {
		return fmt.Errorf("%w: queue name is required with a queue url", ErrInvalidConfig)
	}

	return nil
}

// RetryBackoff returns the initial backoff as a duration
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Replicate.RetryBackoffMs) * time.Millisecond
}
