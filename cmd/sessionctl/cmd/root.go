package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"taskboard-auth/backend/internal/apperr"
	"taskboard-auth/backend/internal/audit"
	auditrepo "taskboard-auth/backend/internal/audit/repository"
	"taskboard-auth/backend/internal/config"
	"taskboard-auth/backend/internal/db"
	"taskboard-auth/backend/internal/logging"
	sessionrepo "taskboard-auth/backend/internal/session/repository"
	"taskboard-auth/backend/internal/session/revocation"
	sessionservice "taskboard-auth/backend/internal/session/service"
	userdomain "taskboard-auth/backend/internal/user/domain"
	userrepo "taskboard-auth/backend/internal/user/repository"
)

// UserLookup resolves the --user flag.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// Env is what every subcommand operates on.
type Env struct {
	Users    UserLookup
	Sessions *sessionservice.Manager
	Audit    auditrepo.Repository
	Close    func()
}

// Opener builds the Env for one command run.
type Opener func(ctx context.Context) (*Env, error)

// NewRootCmd returns the sessionctl command tree using open to reach the stores.
func NewRootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Inspect and revoke taskboard sessions",
		Long:          `Operator tool for listing, revoking and limiting user sessions and reading the audit trail.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSessionsCmd(open), newAuditCmd(open))
	return root
}

// Execute runs sessionctl against the configured Postgres and Redis.
func Execute() {
	if err := NewRootCmd(openFromConfig).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sessionctl:", err)
		os.Exit(1)
	}
}

func openFromConfig(ctx context.Context) (*Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	conn, err := db.Open(cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		conn.Close()
		rdb.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel, "sessionctl", cfg.Env)
	users := userrepo.NewPostgresRepository(conn)
	auditRepo := auditrepo.NewPostgresRepository(conn)
	mgr := sessionservice.NewManager(
		sessionrepo.NewPostgresRepository(conn), users,
		revocation.NewRedisCache(rdb, cfg.SessionTTL()),
		sessionservice.WithAudit(audit.NewLogger(auditRepo, logger)),
		sessionservice.WithStoreTimeout(cfg.StoreTimeoutDuration()),
		sessionservice.WithLogger(logger),
	)
	return &Env{
		Users:    users,
		Sessions: mgr,
		Audit:    auditRepo,
		Close: func() {
			rdb.Close()
			conn.Close()
		},
	}, nil
}

// withEnv opens the Env, runs fn and closes it.
func withEnv(cmd *cobra.Command, open Opener, fn func(ctx context.Context, env *Env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := open(ctx)
	if err != nil {
		return err
	}
	if env.Close != nil {
		defer env.Close()
	}
	return fn(ctx, env)
}

// resolveUser accepts a user ID or an email.
func resolveUser(ctx context.Context, users UserLookup, ref string) (*userdomain.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("--user is required")
	}
	var (
		u   *userdomain.User
		err error
	)
	if strings.Contains(ref, "@") {
		u, err = users.GetByEmail(ctx, userdomain.NormalizeEmail(ref))
	} else {
		u, err = users.GetByID(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if !u.Usable() {
		return nil, apperr.New(apperr.NotFound, "user "+ref+" not found")
	}
	return u, nil
}
