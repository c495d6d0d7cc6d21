package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/elmanelman/sql-judge/engine"
	"github.com/go-ozzo/ozzo-validation/v3"
	"github.com/go-ozzo/ozzo-validation/v3/is"
	"go.uber.org/zap"
)

func logicalName(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := engine.ParseLogicalName(s)
	return err
}

// listenAddress accepts host:port with an optional host.
func listenAddress(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, port, err := net.SplitHostPort(s); err != nil || port == "" {
		return errors.Newf("invalid listen address %q", s)
	}
	return nil
}

type RegistryConfig struct {
	DBMS        string `json:"dbms"`
	DSN         string `json:"dsn"`
	TablePrefix string `json:"table_prefix"`
}

func (c *RegistryConfig) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.DBMS, validation.Required, validation.By(logicalName)),
		validation.Field(&c.DSN, validation.Required),
	)
}

const (
	minFetchPeriod   = 100
	minReviewerCount = 1
	minBatchSize     = 1
)

type PollerConfig struct {
	Enabled       bool `json:"enabled"`
	FetchPeriod   int  `json:"fetch_period"`
	ReviewerCount int  `json:"reviewer_count"`
	BatchSize     int  `json:"batch_size"`
}

func (c *PollerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(
		c,
		validation.Field(&c.FetchPeriod, validation.Required, validation.Min(minFetchPeriod)),
		validation.Field(&c.ReviewerCount, validation.Min(minReviewerCount)),
		validation.Field(&c.BatchSize, validation.Min(minBatchSize)),
	)
}

func (c *PollerConfig) FetchInterval() time.Duration {
	return time.Duration(c.FetchPeriod) * time.Millisecond
}

type LockConfig struct {
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	TTLSeconds    int    `json:"ttl_seconds"`
	RetryPeriod   int    `json:"retry_period"`
	KeyPrefix     string `json:"key_prefix"`
}

func (c *LockConfig) Validate() error {
	if c.RedisAddr == "" {
		return nil
	}
	return validation.ValidateStruct(
		c,
		validation.Field(&c.RedisAddr, is.DialString),
		validation.Field(&c.RedisDB, validation.Min(0)),
		validation.Field(&c.TTLSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryPeriod, validation.Required, validation.Min(1)),
	)
}

func (c *LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c *LockConfig) Retry() time.Duration {
	return time.Duration(c.RetryPeriod) * time.Millisecond
}

type MetricsConfig struct {
	Address string `json:"address"`
}

func (c *MetricsConfig) Validate() error {
	return validation.ValidateStruct(
		c,
		validation.Field(&c.Address, validation.By(listenAddress)),
	)
}

type JudgeConfig struct {
	LoggerConfig zap.Config `json:"logger"`

	Registry          RegistryConfig    `json:"registry"`
	ConnectionStrings map[string]string `json:"connection_strings"`
	Concurrency       int               `json:"concurrency"`

	Poller  PollerConfig  `json:"poller"`
	Lock    LockConfig    `json:"lock"`
	Metrics MetricsConfig `json:"metrics"`
}

// Default returns the configuration values a config file overrides.
func Default() JudgeConfig {
	return JudgeConfig{
		LoggerConfig: zap.NewProductionConfig(),
		Registry:     RegistryConfig{TablePrefix: "mdl_"},
		Concurrency:  4,
		Poller: PollerConfig{
			FetchPeriod:   1000,
			ReviewerCount: 2,
			BatchSize:     20,
		},
		Lock: LockConfig{
			TTLSeconds:  300,
			RetryPeriod: 200,
			KeyPrefix:   "sqljudge:lock:",
		},
	}
}

func (c *JudgeConfig) Validate() error {
	if err := c.Registry.Validate(); err != nil {
		return errors.Wrap(err, "registry")
	}
	for dbms, dsn := range c.ConnectionStrings {
		if err := logicalName(dbms); err != nil {
			return errors.Wrap(err, "connection_strings")
		}
		if dsn == "" {
			return errors.Newf("connection_strings: empty connection string for %s", dbms)
		}
	}
	if err := c.Poller.Validate(); err != nil {
		return errors.Wrap(err, "poller")
	}
	if err := c.Lock.Validate(); err != nil {
		return errors.Wrap(err, "lock")
	}
	if err := c.Metrics.Validate(); err != nil {
		return errors.Wrap(err, "metrics")
	}
	return validation.ValidateStruct(
		c,
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1)),
	)
}

func (c *JudgeConfig) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
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

func (c *JudgeConfig) loadFromJSON(data []byte) error {
	return json.Unmarshal(data, c)
}
