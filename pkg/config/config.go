package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// HomeEnv overrides the gateway home directory
	HomeEnv = "GATEKEEPER_HOME"

	// DefaultFileName is the configuration file looked up under <home>/conf
	DefaultFileName = "gatekeeper.yaml"

	ProtectionHost    = "host"
	ProtectionKeyring = "keyring"
)

// Config is the gateway configuration
type Config struct {
	Home        string            `yaml:"home"`
	Log         LogConfig         `yaml:"log"`
	Master      MasterConfig      `yaml:"master"`
	KDF         KDFConfig         `yaml:"kdf"`
	Keystore    KeystoreConfig    `yaml:"keystore"`
	Certificate CertificateConfig `yaml:"certificate"`
	Token       TokenConfig       `yaml:"token"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MasterConfig selects how the master secret file is protected
type MasterConfig struct {
	Protection     string `yaml:"protection"`
	KeyringService string `yaml:"keyring_service"`
}

// KDFConfig holds argon2id parameters used when creating new containers.
// Existing containers keep the parameters recorded in their header.
type KDFConfig struct {
	Time      uint32 `yaml:"time"`
	MemoryKiB uint32 `yaml:"memory_kib"`
	Threads   uint8  `yaml:"threads"`
}

// KeystoreConfig controls keystore caching
type KeystoreConfig struct {
	Watch bool `yaml:"watch"`
}

// CertificateConfig controls the self-signed gateway identity
type CertificateConfig struct {
	Validity time.Duration `yaml:"validity"`
	KeyBits  int           `yaml:"key_bits"`
}

// TokenConfig controls the token authority
type TokenConfig struct {
	SigningAlias string        `yaml:"signing_alias"`
	Issuer       string        `yaml:"issuer"`
	TTL          time.Duration `yaml:"ttl"`
}

// MetricsConfig controls the metrics/health listener of `gatekeeper start`
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is present
func Default(home string) *Config {
	return &Config{
		Home: home,
		Log: LogConfig{
			Level: "warn",
		},
		Master: MasterConfig{
			Protection:     ProtectionHost,
			KeyringService: "gatekeeper",
		},
		KDF: KDFConfig{
			Time:      1,
			MemoryKiB: 64 * 1024,
			Threads:   4,
		},
		Certificate: CertificateConfig{
			Validity: 365 * 24 * time.Hour,
			KeyBits:  2048,
		},
		Token: TokenConfig{
			SigningAlias: "gateway-identity",
			Issuer:       "gatekeeper",
			TTL:          30 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

// DefaultHome resolves the gateway home from the environment, falling back to
// ~/.gatekeeper
func DefaultHome() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		return home, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(userHome, ".gatekeeper"), nil
}

// Load reads the configuration for the given home. When path is empty the
// file <home>/conf/gatekeeper.yaml is used if it exists.
func Load(home, path string) (*Config, error) {
	cfg := Default(home)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(home, "conf", DefaultFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// The home passed by the caller wins over the file
	if home != "" {
		cfg.Home = home
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the services cannot use
func (c *Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("home directory must be set")
	}
	switch c.Master.Protection {
	case ProtectionHost, ProtectionKeyring:
	default:
		return fmt.Errorf("master.protection must be %q or %q, got %q", ProtectionHost, ProtectionKeyring, c.Master.Protection)
	}
	if c.KDF.Time == 0 || c.KDF.Threads == 0 {
		return fmt.Errorf("kdf.time and kdf.threads must be positive")
	}
	if c.KDF.MemoryKiB < 8*uint32(c.KDF.Threads) {
		return fmt.Errorf("kdf.memory_kib must be at least 8*threads")
	}
	if c.Certificate.KeyBits < 2048 {
		return fmt.Errorf("certificate.key_bits must be at least 2048")
	}
	if c.Certificate.Validity <= 0 {
		return fmt.Errorf("certificate.validity must be positive")
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("token.ttl must be positive")
	}
	return nil
}

// SecurityDir is the directory holding the master file and the keystores
func (c *Config) SecurityDir() string {
	return filepath.Join(c.Home, "data", "security")
}

// MasterFile is the encrypted master secret location
func (c *Config) MasterFile() string {
	return filepath.Join(c.SecurityDir(), "master")
}

// KeystoreDir holds the gateway keystore and the per-cluster credential stores
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.SecurityDir(), "keystores")
}
