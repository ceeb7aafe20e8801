// Command keystonectl performs operator tasks against the keystone database.
//
//	keystonectl create-user -email ops@example.com -name Ops -roles admin
//	keystonectl unlock -email user@example.com
//	keystonectl revoke-sessions -email user@example.com
//	keystonectl grant -role admin -permission users:write
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BradenHooton/keystone/internal/cache"
	"github.com/BradenHooton/keystone/internal/config"
	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/repositories"
	"github.com/BradenHooton/keystone/internal/services"
	pkgauth "github.com/BradenHooton/keystone/pkg/auth"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context) error {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != config.StoreDriverPostgres {
		return fmt.Errorf("keystonectl requires STORE_DRIVER=postgres")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// grant evicts the role from the shared cache so running API replicas
	// pick up the change on their next issue
	var policyCache cache.PolicyCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		policyCache = cache.NewRedisPolicyCache(client, cache.DefaultKeyPrefix)
	}

	clock := services.SystemClock{}
	store := repositories.NewPostgresStore(db)
	interceptor := services.NewAuditInterceptor(repositories.NewAuditLogRepository(db), pkglogger.NewAuditLogger(logger), logger, clock)
	resolver := services.NewPermissionResolver(store.Permissions(), policyCache, cfg.Redis.PolicyCacheTTL, logger)
	admin := services.NewAdminService(
		store,
		resolver,
		pkgauth.NewBcryptHasher(pkgauth.DefaultBcryptCost),
		interceptor,
		clock,
		logger,
	)

	a := &app{
		admin: admin,
		out:   os.Stdout,
		readPassword: func() ([]byte, error) {
			fmt.Fprint(os.Stderr, "Password: ")
			defer fmt.Fprintln(os.Stderr)
			return term.ReadPassword(int(os.Stdin.Fd()))
		},
	}
	return a.run(ctx, os.Args[1:])
}
