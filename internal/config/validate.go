package config

import (
	"fmt"
	"net/netip"

	"github.com/robfig/cron/v3"
)

// CronParser is the five-field parser shared with the scheduler.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func Validate(cfg *AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.AppEnv {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("unsupported app_env: %s", cfg.AppEnv)
	}
	if cfg.HTTP.ListenAddr == "" {
		return fmt.Errorf("http.listen_addr must be set")
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be positive")
	}
	if cfg.HTTP.RateBurst <= 0 || cfg.HTTP.RatePerSec <= 0 {
		return fmt.Errorf("http.rate_burst and http.rate_per_sec must be positive")
	}
	if _, err := cfg.HTTP.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if cfg.GRPC.Enabled && cfg.GRPC.ListenAddr == "" {
		return fmt.Errorf("grpc.listen_addr must be set when grpc is enabled")
	}
	if cfg.Token.AccessTTL <= 0 || cfg.Token.RefreshTTL <= 0 {
		return fmt.Errorf("token.access_ttl and token.refresh_ttl must be positive")
	}
	if cfg.Token.RefreshTTL < cfg.Token.AccessTTL {
		return fmt.Errorf("token.refresh_ttl must not be shorter than token.access_ttl")
	}
	if cfg.Token.KeyID == "" {
		return fmt.Errorf("token.key_id must be set")
	}
	if !cfg.IsDev() {
		hasPrivate := cfg.Token.PrivateKeyPEM != "" || cfg.Token.PrivateKeyPath != ""
		hasPublic := cfg.Token.PublicKeyPEM != "" || cfg.Token.PublicKeyPath != ""
		if !hasPrivate || !hasPublic {
			return fmt.Errorf("token signing keys must be set outside app_env=dev")
		}
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url must be set outside app_env=dev")
		}
	}
	if cfg.Scheduler.InvalidTokenSweepEnabled {
		if _, err := CronParser.Parse(cfg.Scheduler.InvalidTokenSweepCron); err != nil {
			return fmt.Errorf("scheduler.invalid_token_sweep_cron: %w", err)
		}
	}
	if cfg.Params.CacheTTL <= 0 {
		return fmt.Errorf("parameters.cache_ttl must be positive")
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies; bare addresses become single-host prefixes.
func (c HTTPConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: invalid entry %q", raw)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}
