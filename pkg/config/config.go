// Package config loads service configuration from defaults, an optional
// YAML file, a .env file and the environment, in increasing precedence.
//
// Keys are dotted; the environment spells them upper case with underscores,
// so antifraude.risk_threshold is ANTIFRAUDE_RISK_THRESHOLD.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/gokaycavdar/go-riskguard/pkg/behavior"
	"github.com/gokaycavdar/go-riskguard/pkg/dispatch"
	"github.com/gokaycavdar/go-riskguard/pkg/engine"
	"github.com/gokaycavdar/go-riskguard/pkg/ipintel"
	"github.com/gokaycavdar/go-riskguard/pkg/rules"
	"github.com/gokaycavdar/go-riskguard/pkg/storage"
)

// History backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBunt   = "buntdb"
)

// Config is the full service configuration.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Antifraude AntifraudeConfig `mapstructure:"antifraude"`
	Dispatch   dispatch.Config  `mapstructure:"dispatch"`
	History    HistoryConfig    `mapstructure:"history"`
	Audit      AuditConfig      `mapstructure:"audit"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// TrustedProxies are handed to gin; empty trusts none.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	// AdminKeys guard the admin endpoints. Empty leaves them unmounted.
	AdminKeys []string `mapstructure:"admin_keys"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// AntifraudeConfig holds the decision tunables.
type AntifraudeConfig struct {
	Enabled             bool               `mapstructure:"enabled"`
	LowBand             float64            `mapstructure:"low_band"`
	RiskThreshold       float64            `mapstructure:"risk_threshold"`
	ConfidenceThreshold float64            `mapstructure:"confidence_threshold"`
	MaxAnomalies        int                `mapstructure:"max_anomalies"`
	NeutralScore        float64            `mapstructure:"neutral_score"`
	Weights             map[string]float64 `mapstructure:"weights"`
	PersistRetries      int                `mapstructure:"persist_retries"`
	Rules               rules.Params       `mapstructure:"rules"`
	Behavior            behavior.Config    `mapstructure:"behavior"`
	IP                  IPConfig           `mapstructure:"ip"`
	Blocklist           BlocklistConfig    `mapstructure:"blocklist"`
}

// BlocklistConfig seeds the blocklist at startup. Entries added through the
// admin endpoints live in the history backend alongside these.
type BlocklistConfig struct {
	Devices []string `mapstructure:"devices"`
	IPs     []string `mapstructure:"ips"`
}

// IPConfig configures IP intelligence.
type IPConfig struct {
	// Budget is how long a decision waits for an uncached signal.
	Budget       time.Duration `mapstructure:"budget"`
	CityDB       string        `mapstructure:"city_db"`
	ASNDB        string        `mapstructure:"asn_db"`
	ProxyList    string        `mapstructure:"proxy_list"`
	AbuseList    string        `mapstructure:"abuse_list"`
	IPAPIEnabled bool          `mapstructure:"ipapi_enabled"`
	IPAPIURL     string        `mapstructure:"ipapi_url"`
	IPAPITimeout time.Duration `mapstructure:"ipapi_timeout"`
	CachePath    string        `mapstructure:"cache_path"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// HistoryConfig selects and configures the history store.
type HistoryConfig struct {
	Backend  string              `mapstructure:"backend"`
	BuntPath string              `mapstructure:"bunt_path"`
	Redis    storage.RedisConfig `mapstructure:"redis"`
}

// AuditConfig configures where evaluations are recorded. Without a DSN
// records are kept in memory.
type AuditConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
	NATSURL     string `mapstructure:"nats_url"`
	NATSPrefix  string `mapstructure:"nats_prefix"`
}

// Load reads configuration. path may be empty; a missing .env is ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Antifraude.Rules.NeutralScore = cfg.Antifraude.NeutralScore
	cfg.History.Redis.MaxSamples = cfg.Antifraude.Behavior.MaxSamples

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration Load produces with no file or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.Antifraude.Rules.NeutralScore = cfg.Antifraude.NeutralScore
	cfg.History.Redis.MaxSamples = cfg.Antifraude.Behavior.MaxSamples
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.trusted_proxies", []string{})
	v.SetDefault("http.admin_keys", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tracing.otlp_endpoint", "")

	ec := engine.DefaultConfig()
	v.SetDefault("antifraude.enabled", true)
	v.SetDefault("antifraude.low_band", ec.Thresholds.LowBand)
	v.SetDefault("antifraude.risk_threshold", ec.Thresholds.Risk)
	v.SetDefault("antifraude.confidence_threshold", ec.Thresholds.Confidence)
	v.SetDefault("antifraude.max_anomalies", ec.Thresholds.MaxAnomalies)
	v.SetDefault("antifraude.neutral_score", ec.NeutralScore)
	v.SetDefault("antifraude.persist_retries", 3)
	for f, w := range ec.Weights {
		v.SetDefault("antifraude.weights."+string(f), w)
	}

	p := rules.DefaultParams()
	v.SetDefault("antifraude.rules.cold_start_discount", p.ColdStartDiscount)
	v.SetDefault("antifraude.rules.new_device_penalty", p.NewDevicePenalty)
	v.SetDefault("antifraude.rules.new_ip_penalty", p.NewIPPenalty)
	v.SetDefault("antifraude.rules.vpn_penalty", p.VPNPenalty)
	v.SetDefault("antifraude.rules.reputation_factor", p.ReputationFactor)
	v.SetDefault("antifraude.rules.bad_reputation_threshold", p.BadReputationThreshold)
	v.SetDefault("antifraude.rules.new_location_penalty", p.NewLocationPenalty)
	v.SetDefault("antifraude.rules.location_tolerance_meters", p.LocationToleranceMeters)
	v.SetDefault("antifraude.rules.max_travel_speed_kmh", p.MaxTravelSpeedKmh)
	v.SetDefault("antifraude.rules.min_travel_distance_km", p.MinTravelDistanceKm)
	v.SetDefault("antifraude.rules.far_distance_km", p.FarDistanceKm)

	b := behavior.DefaultConfig()
	v.SetDefault("antifraude.behavior.min_samples", b.MinSamples)
	v.SetDefault("antifraude.behavior.max_samples", b.MaxSamples)
	v.SetDefault("antifraude.behavior.max_z_score", b.MaxZScore)
	v.SetDefault("antifraude.behavior.anomaly_threshold", b.AnomalyThreshold)
	v.SetDefault("antifraude.behavior.regularity_penalty", b.RegularityPenalty)
	v.SetDefault("antifraude.behavior.fast_action_penalty", b.FastActionPenalty)
	v.SetDefault("antifraude.behavior.non_human_penalty", b.NonHumanPenalty)
	v.SetDefault("antifraude.behavior.bot_probability_threshold", b.BotProbabilityThreshold)
	v.SetDefault("antifraude.behavior.population.mean", b.Population.Mean)
	v.SetDefault("antifraude.behavior.population.stddev", b.Population.StdDev)

	v.SetDefault("antifraude.ip.budget", 150*time.Millisecond)
	v.SetDefault("antifraude.ip.city_db", "")
	v.SetDefault("antifraude.ip.asn_db", "")
	v.SetDefault("antifraude.ip.proxy_list", "")
	v.SetDefault("antifraude.ip.abuse_list", "")
	v.SetDefault("antifraude.ip.ipapi_enabled", false)
	v.SetDefault("antifraude.ip.ipapi_url", "https://ipapi.co")
	v.SetDefault("antifraude.ip.ipapi_timeout", 2*time.Second)
	v.SetDefault("antifraude.ip.cache_path", ":memory:")
	v.SetDefault("antifraude.ip.cache_ttl", ipintel.DefaultCacheTTL)

	v.SetDefault("antifraude.blocklist.devices", []string{})
	v.SetDefault("antifraude.blocklist.ips", []string{})

	d := dispatch.DefaultConfig()
	v.SetDefault("dispatch.workers", d.Workers)
	v.SetDefault("dispatch.queue_size", d.QueueSize)
	v.SetDefault("dispatch.initial_backoff", d.InitialBackoff)
	v.SetDefault("dispatch.max_backoff", d.MaxBackoff)
	v.SetDefault("dispatch.job_timeout", d.JobTimeout)

	v.SetDefault("history.backend", BackendMemory)
	v.SetDefault("history.bunt_path", "data/history.db")
	v.SetDefault("history.redis.addr", "localhost:6379")
	v.SetDefault("history.redis.password", "")
	v.SetDefault("history.redis.db", 0)
	v.SetDefault("history.redis.key_prefix", "riskguard:history:")
	v.SetDefault("history.redis.retention", time.Duration(0))

	v.SetDefault("audit.postgres_dsn", "")
	v.SetDefault("audit.nats_url", "")
	v.SetDefault("audit.nats_prefix", "riskguard")
}

// Validate rejects settings the engine cannot work with.
func (c *Config) Validate() error {
	a := c.Antifraude
	var errs []error
	if a.RiskThreshold <= 0 || a.RiskThreshold > 100 {
		errs = append(errs, fmt.Errorf("antifraude.risk_threshold must be in (0,100], got %v", a.RiskThreshold))
	}
	if a.ConfidenceThreshold < a.RiskThreshold || a.ConfidenceThreshold > 100 {
		errs = append(errs, fmt.Errorf("antifraude.confidence_threshold must be in [risk_threshold,100], got %v", a.ConfidenceThreshold))
	}
	if a.LowBand <= 0 || a.LowBand >= a.RiskThreshold {
		errs = append(errs, fmt.Errorf("antifraude.low_band must be in (0,risk_threshold), got %v", a.LowBand))
	}
	if a.MaxAnomalies < 1 {
		errs = append(errs, fmt.Errorf("antifraude.max_anomalies must be positive, got %d", a.MaxAnomalies))
	}
	if a.PersistRetries < 0 {
		errs = append(errs, fmt.Errorf("antifraude.persist_retries must not be negative, got %d", a.PersistRetries))
	}
	var total float64
	for f, w := range a.Weights {
		if w < 0 {
			errs = append(errs, fmt.Errorf("antifraude.weights.%s must not be negative", f))
		}
		total += w
	}
	if total <= 0 {
		errs = append(errs, errors.New("antifraude.weights must not all be zero"))
	}
	for _, ip := range a.Blocklist.IPs {
		if net.ParseIP(strings.TrimSpace(ip)) == nil {
			errs = append(errs, fmt.Errorf("antifraude.blocklist.ips: %q is not an IP address", ip))
		}
	}
	switch c.History.Backend {
	case BackendMemory, BackendRedis, BackendBunt:
	default:
		errs = append(errs, fmt.Errorf("history.backend %q is not one of memory, redis, buntdb", c.History.Backend))
	}
	return errors.Join(errs...)
}

// EngineConfig returns the analyzer configuration.
func (c *Config) EngineConfig() engine.Config {
	a := c.Antifraude
	w := make(engine.Weights, len(a.Weights))
	for f, v := range a.Weights {
		w[rules.Factor(f)] = v
	}
	return engine.Config{
		Thresholds: engine.Thresholds{
			LowBand:      a.LowBand,
			Risk:         a.RiskThreshold,
			Confidence:   a.ConfidenceThreshold,
			MaxAnomalies: a.MaxAnomalies,
		},
		Weights:      w,
		NeutralScore: a.NeutralScore,
	}
}
