// Command seed grants the admin role to a user. There is no HTTP route for
// role changes, so operators run this against the service database:
//
//	DATABASE_URL=postgres://... go run ./cmd/seed -email ops@kharon.app -create
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/internal/repository"
	"github.com/Kharon-pay-mini/user-management-server/internal/repository/postgres"
	"github.com/Kharon-pay-mini/user-management-server/migrations"
	"github.com/Kharon-pay-mini/user-management-server/pkg/config"
	"github.com/Kharon-pay-mini/user-management-server/pkg/database"
	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
	"github.com/Kharon-pay-mini/user-management-server/pkg/logger"
)

type seedConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	email := flag.String("email", "", "email of the user to promote")
	create := flag.Bool("create", false, "create the user when no account exists")
	flag.Parse()

	if *email == "" {
		return errors.New("-email is required")
	}

	var cfg seedConfig
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.NewWithFormat("user-management-seed", cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgCfg := database.DefaultPostgresConfig(cfg.DatabaseURL)
	pgCfg.MaxConns = 2
	pool, err := database.NewPostgresPool(ctx, &pgCfg, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	user, err := grantAdmin(ctx, postgres.NewUserRepository(pool), *email, *create)
	if err != nil {
		return err
	}

	log.Info("admin role granted",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return nil
}

// grantAdmin promotes the account registered under email, optionally
// creating it first. Promoting an existing admin is a no-op.
func grantAdmin(ctx context.Context, users repository.UserRepository, email string, create bool) (*domain.User, error) {
	email = domain.NormalizeEmail(email)

	user, err := users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrNotFound) && create:
		user = domain.NewUser(email, nil)
		if err := users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("create user %s: %w", email, err)
		}
	case errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("no user with email %s (pass -create to add one)", email)
	case err != nil:
		return nil, fmt.Errorf("look up %s: %w", email, err)
	}

	if user.IsAdmin() {
		return user, nil
	}

	if err := users.SetRole(ctx, user.ID, domain.RoleAdmin); err != nil {
		return nil, fmt.Errorf("set role for %s: %w", email, err)
	}
	user.Role = domain.RoleAdmin
	return user, nil
}
