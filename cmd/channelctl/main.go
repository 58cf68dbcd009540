package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/cache"
	"github.com/spec-kit/channel-service/internal/config"
	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/internal/observability"
	"github.com/spec-kit/channel-service/internal/persistence"
	"github.com/spec-kit/channel-service/internal/repository"
	"github.com/spec-kit/channel-service/internal/service"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ctl holds the connections a command needs. The caller must defer Close.
type ctl struct {
	cfg      *config.Config
	logger   *zap.Logger
	pg       *persistence.Postgres
	redis    *persistence.Redis
	sessions *auth.SessionResolver
	accounts *service.AccountService
}

func newCtl(ctx context.Context) (*ctl, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting postgres: %w", err)
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	identities := repository.NewIdentityRepository(pg.PoolHandle())
	sessions := auth.NewSessionResolver(
		identities,
		cache.NewSessionCache(redis.Client, cfg.Auth.SessionCacheTTL),
		logger,
		cfg.Auth.LastAccessWriteTimeout,
	)

	return &ctl{
		cfg:      cfg,
		logger:   logger,
		pg:       pg,
		redis:    redis,
		sessions: sessions,
		accounts: service.NewAccountService(*cfg, service.AccountDependencies{
			IdentityRepo: identities,
			Sessions:     sessions,
		}, logger),
	}, nil
}

func (c *ctl) Close() {
	c.sessions.Wait()
	c.redis.Close()
	c.pg.Close()
	_ = c.logger.Sync()
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(cmd.Context(), timeout)
}

var rootCmd = &cobra.Command{
	Use:          "channelctl",
	Short:        "Administer the channel service",
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		c, err := newCtl(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := persistence.RunMigrations(ctx, c.pg.PoolHandle(), c.logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		names, _ := persistence.MigrationNames()
		fmt.Printf("Applied %d migrations\n", len(names))
		return nil
	},
}

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Register a new identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		ctx, cancel := commandContext(cmd)
		defer cancel()

		c, err := newCtl(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		identity, err := c.accounts.Register(ctx, service.RegisterInput{Name: name, Email: email, Password: password})
		if err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
		fmt.Printf("Created identity %s (%s)\n", identity.Name, identity.ID)
		return nil
	},
}

var grantRoleCmd = &cobra.Command{
	Use:   "grant-role <identity> <role>",
	Short: "Grant a role without an authenticated caller",
	Long:  "Grant a role to an identity found by id or name. Used to bootstrap the first Root.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := domain.ParseRole(args[1])
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()

		c, err := newCtl(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		identity, err := c.accounts.BootstrapRole(ctx, args[0], role)
		if err != nil {
			return fmt.Errorf("granting %s: %w", role, err)
		}
		fmt.Printf("%s now holds %s\n", identity.Name, formatRoles(identity.Roles))
		return nil
	},
}

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token <login>",
	Short: "Issue an access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		lifetime, _ := cmd.Flags().GetInt("lifetime")

		ctx, cancel := commandContext(cmd)
		defer cancel()

		c, err := newCtl(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		token, _, err := c.accounts.IssueToken(ctx, args[0], password, lifetime)
		if err != nil {
			return fmt.Errorf("issuing token: %w", err)
		}
		fmt.Println(token.Token)
		if token.NeverExpires() {
			fmt.Fprintln(os.Stderr, "expires: never")
		} else {
			fmt.Fprintf(os.Stderr, "expires: %s\n", token.Expire.Format(time.RFC3339))
		}
		return nil
	},
}

func formatRoles(roles []domain.Role) string {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.String())
	}
	return strings.Join(names, ", ")
}

func init() {
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Overall command timeout")

	rootCmd.AddCommand(migrateCmd)

	rootCmd.AddCommand(createUserCmd)
	createUserCmd.Flags().String("name", "", "Display name (4-64 characters)")
	createUserCmd.Flags().String("email", "", "Email address")
	createUserCmd.Flags().String("password", "", "Password (4-128 characters)")
	_ = createUserCmd.MarkFlagRequired("name")
	_ = createUserCmd.MarkFlagRequired("email")
	_ = createUserCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(grantRoleCmd)

	rootCmd.AddCommand(issueTokenCmd)
	issueTokenCmd.Flags().String("password", "", "Password")
	issueTokenCmd.Flags().IntP("lifetime", "l", 60, "Token lifetime in minutes, 0 never expires")
	_ = issueTokenCmd.MarkFlagRequired("password")
}
