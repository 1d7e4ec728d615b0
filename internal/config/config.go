package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Duration is a time.Duration stored in the config file as a string such as
// "30s" or "100ms".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Bare numbers are read as milliseconds.
		var ms int64
		if err2 := json.Unmarshal(b, &ms); err2 != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Chain    struct {
		RPCURL            string  `json:"rpc_url"`
		RegistryAddress   string  `json:"registry_address"`
		ChainID           int64   `json:"chain_id"`
		RequestsPerSecond float64 `json:"requests_per_second"`
		PrivateKey        string  `json:"private_key"`
	} `json:"chain"`
	Gateway struct {
		Primary   string   `json:"primary"`
		Secondary string   `json:"secondary"`
		Timeout   Duration `json:"timeout"`
	} `json:"gateway"`
	Cache struct {
		TTL       Duration `json:"ttl"`
		RedisAddr string   `json:"redis_addr"`
	} `json:"cache"`
	Listing struct {
		BatchSize       int      `json:"batch_size"`
		BatchDelay      Duration `json:"batch_delay"`
		RefreshSchedule string   `json:"refresh_schedule"`
	} `json:"listing"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
}

// Defaults returns the configuration written on first run.
func Defaults() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".stagepass"),
		LogLevel: "info",
	}
	cfg.Chain.RPCURL = "https://sepolia.base.org"
	cfg.Chain.ChainID = 84532
	cfg.Chain.RequestsPerSecond = 10
	cfg.Gateway.Primary = "https://gateway.pinata.cloud"
	cfg.Gateway.Secondary = "https://ipfs.io"
	cfg.Gateway.Timeout = Duration(10 * time.Second)
	cfg.Cache.TTL = Duration(30 * time.Second)
	cfg.Listing.BatchSize = 5
	cfg.Listing.BatchDelay = Duration(100 * time.Millisecond)
	cfg.Listing.RefreshSchedule = "@every 30s"
	cfg.HTTP.Listen = "127.0.0.1:8480"
	return cfg
}

// Load reads the config at path, writing defaults if the file does not
// exist. A .env file next to the config, or in the working directory, is
// loaded first; environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if v := os.Getenv("STAGEPASS_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("STAGEPASS_REGISTRY"); v != "" {
		cfg.Chain.RegistryAddress = v
	}
	if v := os.Getenv("STAGEPASS_PRIVATE_KEY"); v != "" {
		cfg.Chain.PrivateKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}

	return cfg, nil
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		// Existing environment variables are not overwritten.
		_ = godotenv.Load(p)
	}
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	if c.Chain.RegistryAddress == "" {
		errs = append(errs, errors.New("chain.registry_address is required"))
	} else if !common.IsHexAddress(c.Chain.RegistryAddress) {
		errs = append(errs, fmt.Errorf("chain.registry_address %q is not a hex address", c.Chain.RegistryAddress))
	}
	if c.Listing.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("listing.batch_size must be positive, got %d", c.Listing.BatchSize))
	}
	if c.Cache.TTL < 0 || c.Listing.BatchDelay < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug|info|warn|error", c.LogLevel))
	}
	return errors.Join(errs...)
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	m, err := ToMap(cfg)
	if err != nil {
		return err
	}
	return writeMap(path, m)
}

func writeMap(path string, m map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as dotted keys, with secrets masked when mask is
// set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value stored in the config file under a dotted key.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readMap(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores raw under a dotted key. raw is parsed as JSON when it is
// valid JSON and stored as a string otherwise. The file must already exist.
func SetValue(path, key, raw string) error {
	m, err := readMap(path)
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}

	flat := Flatten(m)
	flat[key] = v
	m = Unflatten(flat)

	// Reject values that no longer fit the typed config.
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(data, Defaults()); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeMap(path, m)
}

func readMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}
