package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"tessera.org/internal/auth"
	"tessera.org/internal/config"
	"tessera.org/internal/migrate"
	"tessera.org/internal/obs"
	"tessera.org/internal/store/pg"
)

func main() {
	var (
		dsn     = flag.String("dsn", os.Getenv("TESSERA_PG_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 60*time.Second, "Overall timeout")
		email   = flag.String("email", "", "Admin email address (admin command)")
		name    = flag.String("name", "Administrator", "Admin full name (admin command)")
	)
	flag.Parse()

	if *dsn == "" {
		fail("missing DSN: provide via -dsn or TESSERA_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		fail("usage: migrate [up|down|status|version|admin]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(config.DatabaseConfig{URL: *dsn, MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxLifetime: time.Minute})
	if err != nil {
		fail("open db: %v", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), pg.Migrations, pg.MigrationsDir)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		err = mgr.Status(ctx)
	case "version":
		var v int64
		if v, err = mgr.Version(ctx); err == nil {
			fmt.Println(v)
		}
	case "admin":
		err = bootstrapAdmin(ctx, store, *email, *name, os.Getenv("TESSERA_ADMIN_PASSWORD"))
	default:
		fail("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		fail("migrate %s: %v", flag.Arg(0), err)
	}
}

func bootstrapAdmin(ctx context.Context, store *pg.Store, email, fullName, password string) error {
	user, err := auth.BootstrapAdmin(ctx, store.Users(), store.Roles(), store.Permissions(), email, fullName, password, time.Now())
	if err != nil {
		return err
	}
	obs.Logger().Info("admin_created", slog.String("user_id", user.ID), slog.String("email_address", user.EmailAddress))
	return nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
