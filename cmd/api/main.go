package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tessera.org/internal/auth"
	"tessera.org/internal/config"
	"tessera.org/internal/grpcapi"
	"tessera.org/internal/httpapi"
	"tessera.org/internal/mail"
	"tessera.org/internal/migrate"
	"tessera.org/internal/obs"
	"tessera.org/internal/parameter"
	"tessera.org/internal/scheduler"
	"tessera.org/internal/store/memory"
	"tessera.org/internal/store/pg"
	"tessera.org/internal/store/rdb"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	obs.SetOutput(os.Stdout, obs.ParseLevel(cfg.LogLevel))
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Logger().Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// stores groups the persistence ports behind whichever backend is configured.
type stores struct {
	users   auth.UserStore
	roles   auth.RoleStore
	perms   auth.PermissionStore
	tokens  auth.InvalidTokenStore
	params  parameter.Store
	probe   httpapi.ReadyProbe
	closers []func() error
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			obs.Logger().Warn("close_failed", slog.String("error", err.Error()))
		}
	}
}

func openStores(ctx context.Context, cfg *config.AppConfig) (*stores, error) {
	st := &stores{}
	if cfg.Database.URL == "" {
		obs.Logger().Warn("no database configured, using in-memory store")
		mem := memory.New()
		if cfg.Admin.EmailAddress != "" {
			user, err := auth.BootstrapAdmin(ctx, mem.Users(), mem.Roles(), mem.Permissions(), cfg.Admin.EmailAddress, "", cfg.Admin.Password, time.Now())
			if err != nil {
				return nil, fmt.Errorf("bootstrap admin: %w", err)
			}
			obs.Logger().Info("admin_created", slog.String("user_id", user.ID), slog.String("email_address", user.EmailAddress))
		}
		st.users, st.roles, st.perms, st.tokens, st.params = mem.Users(), mem.Roles(), mem.Permissions(), mem.InvalidTokens(), mem.Parameters()
	} else {
		db, err := pg.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, db.Close)
		if cfg.Database.AutoMigrate {
			if err := migrate.NewManager(db.DB(), pg.Migrations, pg.MigrationsDir).Up(ctx); err != nil {
				st.close()
				return nil, err
			}
		}
		st.users, st.roles, st.perms, st.tokens, st.params = db.Users(), db.Roles(), db.Permissions(), db.InvalidTokens(), db.Parameters()
		st.probe.DB = db.DB()
	}

	if cfg.Redis.Enabled() {
		client, err := rdb.NewClient(ctx, cfg.Redis)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, client.Close)
		st.probe.Redis = client
	}
	return st, nil
}

// cacheInvalidTokens puts Redis in front of the invalid token store. ttl must be
// the effective refresh lifetime so cached entries outlive every refresh token.
func (s *stores) cacheInvalidTokens(ttl time.Duration) {
	if s.probe.Redis == nil {
		return
	}
	s.tokens = rdb.NewInvalidTokenCache(s.tokens, s.probe.Redis, ttl)
}

func newMailSender(cfg config.AMQPConfig) (mail.Sender, func() error, error) {
	if !cfg.Enabled() {
		obs.Logger().Warn("no broker configured, mail is only logged")
		return mail.LogSender{}, func() error { return nil }, nil
	}
	pub, err := mail.NewPublisher(cfg.URL, cfg.Queue)
	if err != nil {
		return nil, nil, err
	}
	return pub, pub.Close, nil
}

// storedDuration reads an integer parameter only when it is actually stored.
func storedDuration(ctx context.Context, params *parameter.Service, key parameter.Key, unit time.Duration) (time.Duration, bool) {
	p, err := params.FindByName(ctx, key.Name)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(p.Definition))
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

func newCodec(ctx context.Context, cfg *config.AppConfig, params *parameter.Service) (*auth.Codec, error) {
	accessTTL, refreshTTL := cfg.Token.AccessTTL, cfg.Token.RefreshTTL
	if d, ok := storedDuration(ctx, params, parameter.AuthAccessTokenExpireMinute, time.Minute); ok {
		accessTTL = d
	}
	if d, ok := storedDuration(ctx, params, parameter.AuthRefreshTokenExpireDay, 24*time.Hour); ok {
		refreshTTL = d
	}
	opts := []auth.CodecOption{
		auth.WithKeyID(cfg.Token.KeyID),
		auth.WithIssuer(cfg.Token.Issuer),
		auth.WithAccessTTL(accessTTL),
		auth.WithRefreshTTL(refreshTTL),
		auth.WithLeeway(cfg.Token.Leeway),
	}

	privatePEM, publicPEM, err := cfg.Token.ReadKeys()
	if err != nil {
		return nil, err
	}
	switch {
	case privatePEM != "" || publicPEM != "":
		opts = append(opts, auth.WithRS256Keys(privatePEM, publicPEM))
	case cfg.IsDev():
		key, err := auth.GenerateDevKey()
		if err != nil {
			return nil, err
		}
		obs.Logger().Warn("using ephemeral signing key, tokens will not survive a restart")
		opts = append(opts, auth.WithRSAKey(key))
	default:
		return nil, errors.New("token signing keys are not configured")
	}
	return auth.NewCodec(opts...)
}

func run(ctx context.Context, cfg *config.AppConfig) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	sender, closeSender, err := newMailSender(cfg.AMQP)
	if err != nil {
		return err
	}
	defer closeSender()
	dispatcher := mail.NewDispatcher(sender, 256, 10*time.Second)
	defer dispatcher.Close()

	params := parameter.NewService(st.params, cfg.Params.CacheSize, cfg.Params.CacheTTL)
	codec, err := newCodec(ctx, cfg, params)
	if err != nil {
		return err
	}
	st.cacheInvalidTokens(codec.RefreshTTL())

	ledger := auth.NewLedger(st.tokens, nil)
	svc := httpapi.Services{
		Codec:       codec,
		Ledger:      ledger,
		Authn:       auth.NewAuthenticator(st.users, codec, ledger, nil),
		Roles:       auth.NewRoleService(st.roles, st.perms, nil),
		Users:       auth.NewUserService(st.users, st.roles, dispatcher, params, nil),
		Passwords:   auth.NewPasswordService(st.users, dispatcher, params, nil),
		Permissions: auth.NewPermissionService(st.perms),
	}

	if cfg.Scheduler.InvalidTokenSweepEnabled {
		sched := scheduler.New(0)
		sweeper := scheduler.NewInvalidTokenSweeper(ledger, params, codec.RefreshTTL(), nil)
		if err := sched.Add("invalid_token_sweep", cfg.Scheduler.InvalidTokenSweepCron, sweeper.Sweep); err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = sched.Stop(stopCtx)
		}()
	}

	trusted, err := cfg.HTTP.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	api := httpapi.New(svc, st.probe, httpapi.Options{
		Version:      version,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		RateBurst:    cfg.HTTP.RateBurst,
		RatePerSec:   cfg.HTTP.RatePerSec,
		CORSOrigins:  cfg.HTTP.CORSOrigins,

		TrustedProxies: trusted,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		obs.Logger().Info("http_listening", slog.String("addr", srv.Addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	healthCtx, cancelHealth := context.WithCancel(ctx)
	defer cancelHealth()
	health := grpcapi.NewHealthServer(st.probe, 10*time.Second)
	go health.Run(healthCtx)

	var grpcStop func()
	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", cfg.GRPC.ListenAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gsrv := grpcapi.NewServer(health)
		grpcStop = gsrv.GracefulStop
		go func() {
			obs.Logger().Info("grpc_listening", slog.String("addr", cfg.GRPC.ListenAddr))
			if err := gsrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		obs.Logger().Info("shutting_down")
	case err := <-errCh:
		obs.Logger().Error("server_failed", slog.String("error", err.Error()))
	}

	cancelHealth()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcStop != nil {
		grpcStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	obs.Logger().Info("stopped")
	return nil
}
