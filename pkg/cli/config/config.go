package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	domainConfig "github.com/secmon-lab/kotodama/pkg/domain/model/config"
	"github.com/secmon-lab/kotodama/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// AppConfig holds the policy configuration file flag
type AppConfig struct {
	path string
}

// Flags returns CLI flags for the configuration file
func (a *AppConfig) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the TOML policy configuration file",
			Sources:     cli.EnvVars("KOTODAMA_CONFIG"),
			Destination: &a.path,
		},
	}
}

// Configure loads the policy. Without a configuration file the default policy is used.
func (a *AppConfig) Configure() (*domainConfig.Policy, error) {
	if a.path == "" {
		return domainConfig.DefaultPolicy(), nil
	}

	file, err := LoadPolicyFile(a.path)
	if err != nil {
		return nil, err
	}
	logging.Default().Info("Loaded policy configuration", "path", a.path)
	return file.ToDomainPolicy(), nil
}

// PolicyFile is the TOML representation of the policy. Absent keys keep their defaults.
type PolicyFile struct {
	Retrieval   RetrievalSection `toml:"retrieval"`
	Turn        TurnSection      `toml:"turn"`
	Embedding   CallSection      `toml:"embedding"`
	VectorQuery CallSection      `toml:"vector_query"`
	Generation  CallSection      `toml:"generation"`
	Store       CallSection      `toml:"store"`
	Indexing    IndexingSection  `toml:"indexing"`
	Reconcile   ReconcileSection `toml:"reconcile"`
}

// RetrievalSection configures the semantic retriever
type RetrievalSection struct {
	DefaultK          *int  `toml:"default_k"`
	MaxK              *int  `toml:"max_k"`
	RequireOwnerScope *bool `toml:"require_owner_scope"`
	CacheSize         *int  `toml:"cache_size"`
	CacheTTLSec       *int  `toml:"cache_ttl_sec"`
}

// TurnSection configures the conversation orchestrator
type TurnSection struct {
	BestEffortDefault       *bool `toml:"best_effort_default"`
	AppendAttempts          *int  `toml:"append_attempts"`
	SummaryRepairTimeoutSec *int  `toml:"summary_repair_timeout_sec"`
}

// CallSection bounds one kind of external call
type CallSection struct {
	TimeoutMs         *int `toml:"timeout_ms"`
	MaxAttempts       *int `toml:"max_attempts"`
	InitialIntervalMs *int `toml:"initial_interval_ms"`
	MaxIntervalMs     *int `toml:"max_interval_ms"`

	// Only read in the embedding section
	RateLimitRPS   *float64 `toml:"rate_limit_rps"`
	RateLimitBurst *int     `toml:"rate_limit_burst"`
}

// IndexingSection configures batch indexing
type IndexingSection struct {
	Concurrency *int `toml:"concurrency"`
}

// ReconcileSection configures the stale summary worker
type ReconcileSection struct {
	IntervalSec *int `toml:"interval_sec"`
	BatchSize   *int `toml:"batch_size"`
}

// Validate checks value ranges of every key that is set
func (p *PolicyFile) Validate() error {
	policy := p.ToDomainPolicy()

	r := policy.Retrieval
	if r.MaxK < 1 {
		return invalidField("retrieval.max_k", r.MaxK, "must be positive")
	}
	if r.DefaultK < 1 || r.DefaultK > r.MaxK {
		return invalidField("retrieval.default_k", r.DefaultK, "must be between 1 and max_k")
	}
	if r.CacheSize < 0 {
		return invalidField("retrieval.cache_size", r.CacheSize, "must not be negative")
	}
	if r.CacheSize > 0 && r.CacheTTL <= 0 {
		return invalidField("retrieval.cache_ttl_sec", r.CacheTTL.String(), "must be positive when the cache is enabled")
	}

	if policy.Turn.AppendAttempts < 1 {
		return invalidField("turn.append_attempts", policy.Turn.AppendAttempts, "must be positive")
	}
	if policy.Turn.SummaryRepairTimeout <= 0 {
		return invalidField("turn.summary_repair_timeout_sec", policy.Turn.SummaryRepairTimeout.String(), "must be positive")
	}

	calls := map[string]domainConfig.CallPolicy{
		"embedding":    policy.Embedding,
		"vector_query": policy.VectorQuery,
		"generation":   policy.Generation,
		"store":        policy.Store,
	}
	for name, c := range calls {
		if c.Timeout <= 0 {
			return invalidField(name+".timeout_ms", c.Timeout.String(), "must be positive")
		}
		if c.MaxAttempts < 1 {
			return invalidField(name+".max_attempts", c.MaxAttempts, "must be positive")
		}
		if c.InitialInterval < 0 || c.MaxInterval < c.InitialInterval {
			return invalidField(name+".max_interval_ms", c.MaxInterval.String(), "must not be below initial_interval_ms")
		}
	}

	if policy.EmbeddingRateLimit.RequestsPerSecond < 0 {
		return invalidField("embedding.rate_limit_rps", policy.EmbeddingRateLimit.RequestsPerSecond, "must not be negative")
	}
	if policy.EmbeddingRateLimit.RequestsPerSecond > 0 && policy.EmbeddingRateLimit.Burst < 1 {
		return invalidField("embedding.rate_limit_burst", policy.EmbeddingRateLimit.Burst, "must be positive when rate limiting")
	}
	if policy.IndexConcurrency < 1 {
		return invalidField("indexing.concurrency", policy.IndexConcurrency, "must be positive")
	}
	if policy.Reconcile.Interval <= 0 {
		return invalidField("reconcile.interval_sec", policy.Reconcile.Interval.String(), "must be positive")
	}
	if policy.Reconcile.BatchSize < 1 {
		return invalidField("reconcile.batch_size", policy.Reconcile.BatchSize, "must be positive")
	}
	return nil
}

func invalidField(field string, value any, reason string) error {
	return goerr.Wrap(ErrInvalidConfig, reason,
		goerr.V(FieldKey, field),
		goerr.V("value", value))
}

// LoadPolicyFile loads and validates the policy configuration from a TOML file
func LoadPolicyFile(path string) (*PolicyFile, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "config file does not exist", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	var file PolicyFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse TOML config",
			goerr.V(ConfigPathKey, path),
			goerr.V("cause", err.Error()))
	}

	if err := file.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}

	return &file, nil
}

// ToDomainPolicy applies the keys that are set on top of the default policy
func (p *PolicyFile) ToDomainPolicy() *domainConfig.Policy {
	policy := domainConfig.DefaultPolicy()

	setInt(&policy.Retrieval.DefaultK, p.Retrieval.DefaultK)
	setInt(&policy.Retrieval.MaxK, p.Retrieval.MaxK)
	setBool(&policy.Retrieval.RequireOwnerScope, p.Retrieval.RequireOwnerScope)
	setInt(&policy.Retrieval.CacheSize, p.Retrieval.CacheSize)
	setDuration(&policy.Retrieval.CacheTTL, p.Retrieval.CacheTTLSec, time.Second)

	setBool(&policy.Turn.BestEffortDefault, p.Turn.BestEffortDefault)
	setInt(&policy.Turn.AppendAttempts, p.Turn.AppendAttempts)
	setDuration(&policy.Turn.SummaryRepairTimeout, p.Turn.SummaryRepairTimeoutSec, time.Second)

	p.Embedding.apply(&policy.Embedding)
	p.VectorQuery.apply(&policy.VectorQuery)
	p.Generation.apply(&policy.Generation)
	p.Store.apply(&policy.Store)

	if p.Embedding.RateLimitRPS != nil {
		policy.EmbeddingRateLimit.RequestsPerSecond = *p.Embedding.RateLimitRPS
	}
	setInt(&policy.EmbeddingRateLimit.Burst, p.Embedding.RateLimitBurst)

	setInt(&policy.IndexConcurrency, p.Indexing.Concurrency)
	setDuration(&policy.Reconcile.Interval, p.Reconcile.IntervalSec, time.Second)
	setInt(&policy.Reconcile.BatchSize, p.Reconcile.BatchSize)

	return policy
}

func (c CallSection) apply(dst *domainConfig.CallPolicy) {
	setDuration(&dst.Timeout, c.TimeoutMs, time.Millisecond)
	setInt(&dst.MaxAttempts, c.MaxAttempts)
	setDuration(&dst.InitialInterval, c.InitialIntervalMs, time.Millisecond)
	setDuration(&dst.MaxInterval, c.MaxIntervalMs, time.Millisecond)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *int, unit time.Duration) {
	if v != nil {
		*dst = time.Duration(*v) * unit
	}
}
