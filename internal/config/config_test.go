package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"STAGEPASS_RPC_URL", "STAGEPASS_REGISTRY", "STAGEPASS_PRIVATE_KEY", "REDIS_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults were not written: %v", err)
	}
	if cfg.Cache.TTL.Std() != 30*time.Second {
		t.Errorf("expected cache.ttl=30s, got %v", cfg.Cache.TTL.Std())
	}
	if cfg.Listing.BatchSize != 5 {
		t.Errorf("expected listing.batch_size=5, got %d", cfg.Listing.BatchSize)
	}
	if cfg.Listing.BatchDelay.Std() != 100*time.Millisecond {
		t.Errorf("expected listing.batch_delay=100ms, got %v", cfg.Listing.BatchDelay.Std())
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log_level=info, got %s", cfg.LogLevel)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := Defaults()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.Chain.RPCURL = "https://rpc.example"
	original.Chain.RegistryAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	original.Chain.PrivateKey = "0xfeedbeef"
	original.Gateway.Timeout = Duration(3 * time.Second)
	original.Cache.TTL = Duration(45 * time.Second)
	original.Listing.BatchSize = 8

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.Chain.RegistryAddress != original.Chain.RegistryAddress {
		t.Errorf("RegistryAddress mismatch: %v != %v", loaded.Chain.RegistryAddress, original.Chain.RegistryAddress)
	}
	if loaded.Chain.PrivateKey != original.Chain.PrivateKey {
		t.Errorf("PrivateKey mismatch")
	}
	if loaded.Gateway.Timeout != original.Gateway.Timeout {
		t.Errorf("Gateway.Timeout mismatch: %v != %v", loaded.Gateway.Timeout.Std(), original.Gateway.Timeout.Std())
	}
	if loaded.Cache.TTL != original.Cache.TTL {
		t.Errorf("Cache.TTL mismatch: %v != %v", loaded.Cache.TTL.Std(), original.Cache.TTL.Std())
	}
	if loaded.Listing.BatchSize != 8 {
		t.Errorf("BatchSize mismatch: %d", loaded.Listing.BatchSize)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	t.Setenv("STAGEPASS_RPC_URL", "https://override.example")
	t.Setenv("STAGEPASS_REGISTRY", "0x0000000000000000000000000000000000000001")
	t.Setenv("STAGEPASS_PRIVATE_KEY", "0xkey")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chain.RPCURL != "https://override.example" {
		t.Errorf("rpc_url = %s", cfg.Chain.RPCURL)
	}
	if cfg.Chain.RegistryAddress != "0x0000000000000000000000000000000000000001" {
		t.Errorf("registry = %s", cfg.Chain.RegistryAddress)
	}
	if cfg.Chain.PrivateKey != "0xkey" {
		t.Errorf("private key not overridden")
	}
	if cfg.Cache.RedisAddr != "localhost:6379" {
		t.Errorf("redis_addr = %s", cfg.Cache.RedisAddr)
	}
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	env := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(env, []byte("STAGEPASS_REGISTRY=0x00000000000000000000000000000000000000aa\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv writes into the process environment.
	t.Cleanup(func() { os.Unsetenv("STAGEPASS_REGISTRY") })
	os.Unsetenv("STAGEPASS_REGISTRY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chain.RegistryAddress != "0x00000000000000000000000000000000000000aa" {
		t.Errorf("registry from .env = %q", cfg.Chain.RegistryAddress)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"cache":{"ttl":"soon"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestDuration_NumberIsMilliseconds(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte("250"), &d); err != nil {
		t.Fatal(err)
	}
	if d.Std() != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", d.Std())
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.RegistryAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Chain.RegistryAddress = "not-an-address"
	cfg.Listing.BatchSize = 0
	cfg.LogLevel = "loud"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"registry_address", "batch_size", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	if err := Save(path, Defaults()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Verify no temp file left behind
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestToMap(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = "/tmp/test"

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if m["data_dir"] != "/tmp/test" {
		t.Errorf("expected data_dir=/tmp/test, got %v", m["data_dir"])
	}
	cache, ok := m["cache"].(map[string]any)
	if !ok {
		t.Fatalf("expected cache to be map, got %T", m["cache"])
	}
	if cache["ttl"] != "30s" {
		t.Errorf("expected cache.ttl=30s, got %v", cache["ttl"])
	}
	listing := m["listing"].(map[string]any)
	// JSON numbers are float64
	if listing["batch_size"] != float64(5) {
		t.Errorf("expected listing.batch_size=5, got %v", listing["batch_size"])
	}
}

func TestListValues_Mask(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.PrivateKey = "0xsecret-key-1234"

	flat, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["chain.private_key"] != "0xsecret-key-1234" {
		t.Errorf("expected unmasked key, got %v", flat["chain.private_key"])
	}

	flat, err = ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["chain.private_key"] != "***1234" {
		t.Errorf("expected masked key ***1234, got %v", flat["chain.private_key"])
	}
	if flat["listing.batch_delay"] != "100ms" {
		t.Errorf("expected listing.batch_delay=100ms, got %v", flat["listing.batch_delay"])
	}
}

func TestGetValue_ExistingKey(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg := Defaults()
	cfg.LogLevel = "debug"
	cfg.Chain.ChainID = 8453
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug, got %v", v)
	}

	v, err = GetValue(path, "chain.chain_id")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != float64(8453) {
		t.Errorf("expected chain.chain_id=8453, got %v (%T)", v, v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	expected := "unknown config key: nonexistent.key"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestGetValue_NonexistentFile(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	// Load writes defaults on first access.
	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSetValue_String(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	if err := SetValue(path, "gateway.primary", "https://gw.example"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "gateway.primary")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "https://gw.example" {
		t.Errorf("expected gateway.primary updated, got %v", v)
	}

	// Verify other values are preserved
	v, err = GetValue(path, "gateway.secondary")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "https://ipfs.io" {
		t.Errorf("expected gateway.secondary preserved, got %v", v)
	}
}

func TestSetValue_Numeric(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	if err := SetValue(path, "listing.batch_size", "10"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listing.BatchSize != 10 {
		t.Errorf("expected batch_size=10, got %d", cfg.Listing.BatchSize)
	}
}

func TestSetValue_Duration(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	if err := SetValue(path, "cache.ttl", "1m"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.TTL.Std() != time.Minute {
		t.Errorf("expected cache.ttl=1m, got %v", cfg.Cache.TTL.Std())
	}
}

func TestSetValue_RejectsBadType(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	if err := SetValue(path, "listing.batch_size", "lots"); err == nil {
		t.Fatal("expected error for non-numeric batch size")
	}
	if err := SetValue(path, "cache.ttl", "whenever"); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestSetValue_Boolean(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	if err := SetValue(path, "http.enabled", "true"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := GetValue(path, "http.enabled")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != true {
		t.Errorf("expected http.enabled=true, got %v (%T)", v, v)
	}
}

func TestSetValue_NewNestedKey(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Defaults())

	if err := SetValue(path, "custom.setting", "value"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := GetValue(path, "custom.setting")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "value" {
		t.Errorf("expected custom.setting=value, got %v", v)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.json")

	if err := Save(path, Defaults()); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}
