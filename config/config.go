package config

import (
	"encoding/json"
	"fmt"
	"github.com/go-ozzo/ozzo-validation/v3"
	"github.com/go-ozzo/ozzo-validation/v3/is"
	"go.uber.org/zap"
	"io/ioutil"
	"path/filepath"
	"time"
)

type XQueueConfig struct {
	QueueName string `json:"queue_name"`
	URL       string `json:"url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TimeoutMs int    `json:"timeout_ms"`
}

func (c *XQueueConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c *XQueueConfig) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.QueueName, validation.Required),
		validation.Field(&c.URL, validation.Required, is.URL),
		validation.Field(&c.Username, validation.Required),
		validation.Field(&c.Password, validation.Required),
		validation.Field(&c.TimeoutMs, validation.Required, validation.Min(minTimeout)),
	)
}

const (
	ProviderNone  = ""
	ProviderS3    = "s3"
	ProviderMinIO = "minio"
)

// ArtifactsConfig describes where correct results are uploaded as CSV.
// An empty provider disables uploads.
type ArtifactsConfig struct {
	Provider    string `json:"provider"`
	Bucket      string `json:"bucket"`
	Prefix      string `json:"prefix"`
	Region      string `json:"region"`
	Endpoint    string `json:"endpoint"`
	AccessKey   string `json:"access_key"`
	SecretKey   string `json:"secret_key"`
	Secure      bool   `json:"secure"`
	URLExpiryMs int    `json:"url_expiry_ms"`
}

func (c *ArtifactsConfig) Enabled() bool {
	return c.Provider != ProviderNone
}

// Credentials returns the upload target as grader options, the layer merged
// between backend defaults and the submission payload.
func (c *ArtifactsConfig) Credentials() map[string]interface{} {
	if !c.Enabled() {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"artifact_provider": c.Provider,
		"s3_bucket":         c.Bucket,
		"s3_prefix":         c.Prefix,
		"s3_region":         c.Region,
		"s3_endpoint":       c.Endpoint,
		"aws_access_key":    c.AccessKey,
		"aws_secret_key":    c.SecretKey,
		"s3_secure":         c.Secure,
		"url_expiry_ms":     c.URLExpiryMs,
	}
}

func (c *ArtifactsConfig) Validate() error {
	var bucketRules, endpointRules []validation.Rule
	if c.Enabled() {
		bucketRules = append(bucketRules, validation.Required)
	}
	if c.Provider == ProviderMinIO {
		endpointRules = append(endpointRules, validation.Required)
	}
	return validation.ValidateStruct(
		c,
		validation.Field(&c.Provider, validation.In(ProviderNone, ProviderS3, ProviderMinIO)),
		validation.Field(&c.Bucket, bucketRules...),
		validation.Field(&c.Endpoint, endpointRules...),
		validation.Field(&c.URLExpiryMs, validation.Min(0)),
	)
}

const (
	minPollInterval = 100
	minTimeout      = 100

	defaultPollInterval = 5000
	defaultTimeout      = 30000
	defaultBackend      = "sqlite"
)

type Config struct {
	LoggerConfig zap.Config `json:"logger"`

	XQueue XQueueConfig `json:"xqueue"`

	PollIntervalMs int `json:"poll_interval_ms"`

	DefaultBackend string                            `json:"default_backend"`
	Backends       map[string]map[string]interface{} `json:"backends"`

	Artifacts ArtifactsConfig `json:"artifacts"`

	MetricsAddr string `json:"metrics_addr"`
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// BackendDefaults returns a copy of the process-wide options for a backend.
func (c *Config) BackendDefaults(name string) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range c.Backends[name] {
		out[k] = v
	}
	return out
}

func (c *Config) Validate() error {
	if err := c.XQueue.Validate(); err != nil {
		return fmt.Errorf("xqueue: %w", err)
	}
	if err := c.Artifacts.Validate(); err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}
	return validation.ValidateStruct(
		c,
		validation.Field(&c.PollIntervalMs, validation.Required, validation.Min(minPollInterval)),
		validation.Field(&c.DefaultBackend, validation.Required),
		validation.Field(&c.MetricsAddr, is.DialString),
	)
}

func Default() Config {
	return Config{
		LoggerConfig: zap.NewProductionConfig(),
		XQueue: XQueueConfig{
			TimeoutMs: defaultTimeout,
		},
		PollIntervalMs: defaultPollInterval,
		DefaultBackend: defaultBackend,
		Backends:       map[string]map[string]interface{}{},
	}
}

func (c *Config) LoadFromFile(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}

	switch ext := filepath.Ext(path); ext {
	case ".json":
		if err := c.loadFromJSON(data); err != nil {
			return err
		}
		return c.Validate()
	default:
		return fmt.Errorf("unknown configuration file extension: %s", ext)
	}
}

func (c *Config) loadFromJSON(data []byte) error {
	return json.Unmarshal(data, c)
}

const DefaultConfigFile = "config.json"

func (c *Config) LoadDefault() error {
	return c.LoadFromFile(DefaultConfigFile)
}
