package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	defaultConfigPath = "config/app.yaml"
	defaultDotEnv     = ".env"
)

// Load reads .env (if present), the YAML file (if present) and the environment, in that order.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(dotEnvPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}
	cfg := &AppConfig{}
	cfgPath := resolveConfigPath()
	if st, err := os.Stat(cfgPath); err == nil && !st.IsDir() {
		if err := cleanenv.ReadConfig(cfgPath, cfg); err != nil {
			return nil, err
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	normalizeConfig(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func normalizeConfig(cfg *AppConfig) {
	if cfg == nil {
		return
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.HTTP.ListenAddr = strings.TrimSpace(cfg.HTTP.ListenAddr)
	cfg.GRPC.ListenAddr = strings.TrimSpace(cfg.GRPC.ListenAddr)
	cfg.Database.URL = strings.TrimSpace(cfg.Database.URL)
	cfg.Redis.Addr = strings.TrimSpace(cfg.Redis.Addr)
	cfg.AMQP.URL = strings.TrimSpace(cfg.AMQP.URL)
	cfg.AMQP.Queue = strings.TrimSpace(cfg.AMQP.Queue)
	cfg.Token.Issuer = strings.TrimSpace(cfg.Token.Issuer)
	cfg.Token.KeyID = strings.TrimSpace(cfg.Token.KeyID)
	cfg.Token.PrivateKeyPEM = strings.TrimSpace(cfg.Token.PrivateKeyPEM)
	cfg.Token.PublicKeyPEM = strings.TrimSpace(cfg.Token.PublicKeyPEM)
	cfg.Scheduler.InvalidTokenSweepCron = strings.TrimSpace(cfg.Scheduler.InvalidTokenSweepCron)
	cfg.Admin.EmailAddress = strings.TrimSpace(cfg.Admin.EmailAddress)
	origins := cfg.HTTP.CORSOrigins[:0]
	for _, o := range cfg.HTTP.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.HTTP.CORSOrigins = origins
	proxies := cfg.HTTP.TrustedProxies[:0]
	for _, p := range cfg.HTTP.TrustedProxies {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	cfg.HTTP.TrustedProxies = proxies
	if cfg.AppEnv == "" {
		cfg.AppEnv = "dev"
	}
	if cfg.AMQP.Queue == "" {
		cfg.AMQP.Queue = "tessera.mail"
	}
	if cfg.Params.CacheSize <= 0 {
		cfg.Params.CacheSize = 128
	}
}

// ReadKeys resolves the PEM pair from inline values or files.
func (c TokenConfig) ReadKeys() (privatePEM, publicPEM string, err error) {
	privatePEM, publicPEM = c.PrivateKeyPEM, c.PublicKeyPEM
	if privatePEM == "" && c.PrivateKeyPath != "" {
		raw, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return "", "", fmt.Errorf("read private key: %w", err)
		}
		privatePEM = string(raw)
	}
	if publicPEM == "" && c.PublicKeyPath != "" {
		raw, err := os.ReadFile(c.PublicKeyPath)
		if err != nil {
			return "", "", fmt.Errorf("read public key: %w", err)
		}
		publicPEM = string(raw)
	}
	return privatePEM, publicPEM, nil
}

func dotEnvPath() string {
	if v := strings.TrimSpace(os.Getenv("TESSERA_DOTENV")); v != "" {
		return v
	}
	return defaultDotEnv
}

func resolveConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("TESSERA_CONFIG")); v != "" {
		return v
	}
	return defaultConfigPath
}
