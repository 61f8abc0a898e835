package config

import "time"

type AppConfig struct {
	AppEnv    string          `yaml:"app_env" env:"TESSERA_ENV" env-default:"dev"`
	LogLevel  string          `yaml:"log_level" env:"TESSERA_LOG_LEVEL" env-default:"info"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Token     TokenConfig     `yaml:"token"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Params    ParamsConfig    `yaml:"parameters"`
	Admin     AdminConfig     `yaml:"admin"`
}

func (c *AppConfig) IsDev() bool {
	return c != nil && c.AppEnv == "dev"
}

type HTTPConfig struct {
	ListenAddr   string        `yaml:"listen_addr" env:"TESSERA_HTTP_ADDR" env-default:":8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"TESSERA_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"TESSERA_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"TESSERA_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" env:"TESSERA_HTTP_MAX_BODY_BYTES" env-default:"1048576"`
	RateBurst    int           `yaml:"rate_burst" env:"TESSERA_HTTP_RATE_BURST" env-default:"20"`
	RatePerSec   int           `yaml:"rate_per_sec" env:"TESSERA_HTTP_RATE_PER_SEC" env-default:"10"`
	CORSOrigins  []string      `yaml:"cors_origins" env:"TESSERA_HTTP_CORS_ORIGINS" env-separator:","`
	// Addresses or CIDRs of proxies whose X-Forwarded-For is honoured.
	TrustedProxies []string `yaml:"trusted_proxies" env:"TESSERA_HTTP_TRUSTED_PROXIES" env-separator:","`
}

type GRPCConfig struct {
	Enabled    bool   `yaml:"enabled" env:"TESSERA_GRPC_ENABLED" env-default:"false"`
	ListenAddr string `yaml:"listen_addr" env:"TESSERA_GRPC_ADDR" env-default:":9090"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url" env:"TESSERA_PG_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"TESSERA_PG_MAX_OPEN_CONNS" env-default:"50"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"TESSERA_PG_MAX_IDLE_CONNS" env-default:"25"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"TESSERA_PG_CONN_MAX_LIFETIME" env-default:"15m"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"TESSERA_PG_AUTO_MIGRATE" env-default:"false"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"TESSERA_REDIS_ADDR"`
	Password string `yaml:"password" env:"TESSERA_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"TESSERA_REDIS_DB" env-default:"0"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type AMQPConfig struct {
	URL   string `yaml:"url" env:"TESSERA_AMQP_URL"`
	Queue string `yaml:"queue" env:"TESSERA_AMQP_MAIL_QUEUE" env-default:"tessera.mail"`
}

func (c AMQPConfig) Enabled() bool { return c.URL != "" }

type TokenConfig struct {
	Issuer         string        `yaml:"issuer" env:"TESSERA_TOKEN_ISSUER" env-default:"tessera"`
	KeyID          string        `yaml:"key_id" env:"TESSERA_TOKEN_KEY_ID" env-default:"tessera-rs256"`
	PrivateKeyPEM  string        `yaml:"private_key" env:"TESSERA_TOKEN_PRIVATE_KEY"`
	PublicKeyPEM   string        `yaml:"public_key" env:"TESSERA_TOKEN_PUBLIC_KEY"`
	PrivateKeyPath string        `yaml:"private_key_path" env:"TESSERA_TOKEN_PRIVATE_KEY_PATH"`
	PublicKeyPath  string        `yaml:"public_key_path" env:"TESSERA_TOKEN_PUBLIC_KEY_PATH"`
	AccessTTL      time.Duration `yaml:"access_ttl" env:"TESSERA_TOKEN_ACCESS_TTL" env-default:"30m"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl" env:"TESSERA_TOKEN_REFRESH_TTL" env-default:"24h"`
	Leeway         time.Duration `yaml:"leeway" env:"TESSERA_TOKEN_LEEWAY" env-default:"0s"`
}

type SchedulerConfig struct {
	InvalidTokenSweepEnabled bool   `yaml:"invalid_token_sweep_enabled" env:"TESSERA_SWEEP_ENABLED" env-default:"true"`
	InvalidTokenSweepCron    string `yaml:"invalid_token_sweep_cron" env:"TESSERA_SWEEP_CRON" env-default:"0 3 * * *"`
}

type ParamsConfig struct {
	CacheSize int           `yaml:"cache_size" env:"TESSERA_PARAMS_CACHE_SIZE" env-default:"128"`
	CacheTTL  time.Duration `yaml:"cache_ttl" env:"TESSERA_PARAMS_CACHE_TTL" env-default:"5m"`
}

// AdminConfig seeds a first administrator into the in-memory store.
type AdminConfig struct {
	EmailAddress string `yaml:"email_address" env:"TESSERA_ADMIN_EMAIL"`
	Password     string `yaml:"password" env:"TESSERA_ADMIN_PASSWORD"`
}
