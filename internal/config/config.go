package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// AudioConfig holds the normalizer gates. The numeric defaults are policy
// constants carried from the reference deployment, not derived values.
type AudioConfig struct {
	TargetSampleRate int     `yaml:"target_sample_rate"`
	MinDurationSec   float64 `yaml:"min_duration_s"`
	MaxDurationSec   float64 `yaml:"max_duration_s"`
	TrimTopDB        float64 `yaml:"trim_top_db"`
	MinTrimmedSec    float64 `yaml:"min_trimmed_duration_s"`
	MinEnergy        float64 `yaml:"min_energy"`
	MinDynamicRange  float64 `yaml:"min_dynamic_range"`
}

type OracleConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type LedgerConfig struct {
	Path string `yaml:"path"`
}

type MatchConfig struct {
	VerifyThreshold      float64 `yaml:"verify_threshold"`
	SearchThreshold      float64 `yaml:"search_threshold"`
	SearchLimit          int     `yaml:"search_limit"`
	MaxSearchLimit       int     `yaml:"max_search_limit"`
	PersistFailurePolicy string  `yaml:"persist_failure_policy"` // ignore, surface
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Audio       AudioConfig     `yaml:"audio"`
	Oracle      OracleConfig    `yaml:"oracle"`
	Ledger      LedgerConfig    `yaml:"ledger"`
	Match       MatchConfig     `yaml:"match"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxlock-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			TargetSampleRate: 16000,
			MinDurationSec:   1.0,
			MaxDurationSec:   10.0,
			TrimTopDB:        20,
			MinTrimmedSec:    0.5,
			MinEnergy:        0.001,
			MinDynamicRange:  0.1,
		},
		Oracle: OracleConfig{
			Mode:       "mock",
			Dimensions: 192,
			TimeoutMS:  30000,
		},
		Ledger: LedgerConfig{
			Path: "./data/voxlock-recordings.db",
		},
		Match: MatchConfig{
			VerifyThreshold:      0.7,
			SearchThreshold:      0.5,
			SearchLimit:          3,
			MaxSearchLimit:       10,
			PersistFailurePolicy: "ignore",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOXLOCK_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXLOCK_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXLOCK_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXLOCK_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXLOCK_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXLOCK_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXLOCK_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXLOCK_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOXLOCK_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOXLOCK_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOXLOCK_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOXLOCK_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOXLOCK_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOXLOCK_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOXLOCK_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOXLOCK_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Audio.TargetSampleRate, "VOXLOCK_AUDIO_TARGET_SAMPLE_RATE")
	overrideFloat(&cfg.Audio.MinDurationSec, "VOXLOCK_AUDIO_MIN_DURATION_S")
	overrideFloat(&cfg.Audio.MaxDurationSec, "VOXLOCK_AUDIO_MAX_DURATION_S")
	overrideFloat(&cfg.Audio.TrimTopDB, "VOXLOCK_AUDIO_TRIM_TOP_DB")
	overrideFloat(&cfg.Audio.MinTrimmedSec, "VOXLOCK_AUDIO_MIN_TRIMMED_DURATION_S")
	overrideFloat(&cfg.Audio.MinEnergy, "VOXLOCK_AUDIO_MIN_ENERGY")
	overrideFloat(&cfg.Audio.MinDynamicRange, "VOXLOCK_AUDIO_MIN_DYNAMIC_RANGE")
	overrideString(&cfg.Oracle.Mode, "VOXLOCK_ORACLE_MODE")
	overrideString(&cfg.Oracle.Command, "VOXLOCK_ORACLE_COMMAND")
	overrideString(&cfg.Oracle.ModelPath, "VOXLOCK_ORACLE_MODEL_PATH")
	overrideInt(&cfg.Oracle.Dimensions, "VOXLOCK_ORACLE_DIMENSIONS")
	overrideInt(&cfg.Oracle.TimeoutMS, "VOXLOCK_ORACLE_TIMEOUT_MS")
	overrideString(&cfg.Ledger.Path, "VOXLOCK_LEDGER_PATH")
	overrideFloat(&cfg.Match.VerifyThreshold, "VOXLOCK_MATCH_VERIFY_THRESHOLD")
	overrideFloat(&cfg.Match.SearchThreshold, "VOXLOCK_MATCH_SEARCH_THRESHOLD")
	overrideInt(&cfg.Match.SearchLimit, "VOXLOCK_MATCH_SEARCH_LIMIT")
	overrideInt(&cfg.Match.MaxSearchLimit, "VOXLOCK_MATCH_MAX_SEARCH_LIMIT")
	overrideString(&cfg.Match.PersistFailurePolicy, "VOXLOCK_MATCH_PERSIST_FAILURE_POLICY")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Audio.TargetSampleRate <= 0 {
		return errors.New("audio.target_sample_rate must be positive")
	}
	if cfg.Audio.MinDurationSec <= 0 {
		return errors.New("audio.min_duration_s must be positive")
	}
	if cfg.Audio.MaxDurationSec <= cfg.Audio.MinDurationSec {
		return errors.New("audio.max_duration_s must be greater than min_duration_s")
	}
	if cfg.Audio.TrimTopDB <= 0 {
		return errors.New("audio.trim_top_db must be positive")
	}
	if cfg.Audio.MinTrimmedSec <= 0 || cfg.Audio.MinTrimmedSec > cfg.Audio.MinDurationSec {
		return errors.New("audio.min_trimmed_duration_s must be positive and not exceed min_duration_s")
	}
	if cfg.Audio.MinEnergy < 0 {
		return errors.New("audio.min_energy must be >= 0")
	}
	if cfg.Audio.MinDynamicRange < 0 {
		return errors.New("audio.min_dynamic_range must be >= 0")
	}
	switch cfg.Oracle.Mode {
	case "mock", "exec":
	default:
		return errors.New("oracle.mode must be one of mock|exec")
	}
	if cfg.Oracle.Mode == "exec" && cfg.Oracle.Command == "" {
		return errors.New("oracle.command must be set when mode=exec")
	}
	if cfg.Oracle.Dimensions <= 0 {
		return errors.New("oracle.dimensions must be positive")
	}
	if cfg.Oracle.TimeoutMS <= 0 {
		return errors.New("oracle.timeout_ms must be positive")
	}
	if cfg.Ledger.Path == "" {
		return errors.New("ledger.path must not be empty")
	}
	if cfg.Match.VerifyThreshold < 0 || cfg.Match.VerifyThreshold > 1 {
		return errors.New("match.verify_threshold must be within [0, 1]")
	}
	if cfg.Match.SearchThreshold < 0 || cfg.Match.SearchThreshold > 1 {
		return errors.New("match.search_threshold must be within [0, 1]")
	}
	if cfg.Match.SearchLimit <= 0 {
		return errors.New("match.search_limit must be >= 1")
	}
	if cfg.Match.MaxSearchLimit < cfg.Match.SearchLimit {
		return errors.New("match.max_search_limit must be >= search_limit")
	}
	switch cfg.Match.PersistFailurePolicy {
	case "ignore", "surface":
	default:
		return errors.New("match.persist_failure_policy must be one of ignore|surface")
	}
	return nil
}
