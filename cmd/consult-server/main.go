package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelink/consult/internal/config"
	"github.com/carelink/consult/internal/domain/account"
	"github.com/carelink/consult/internal/domain/triage"
	"github.com/carelink/consult/internal/platform/auth"
	"github.com/carelink/consult/internal/platform/db"
	"github.com/carelink/consult/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "consult-server",
		Short:        "Consultation routing and triage server",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(triageCmd())
	root.AddCommand(accountCmd())
	return root
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API and realtime server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a token run as admin")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, cleanup, err := buildApp(ctx, cfg, logger)
	defer cleanup()
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}

	e := a.newServer()
	a.relayEvents(ctx)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("driver", cfg.StoreDriver).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	a.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// migrationsFS returns the directory on disk when dir is set, otherwise the
// migrations embedded in the binary.
func migrationsFS(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
		dir, _ := cmd.Flags().GetString("dir")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for migrations")
		}

		ctx := context.Background()
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2, MinConns: 1})
		if err != nil {
			return err
		}
		defer pool.Close()

		return fn(ctx, db.NewMigrator(pool, migrationsFS(dir)))
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func triageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Urgency classification tools",
	}

	classifyCmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify intake data and print the assessment as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := triage.Input{}
			in.Symptoms, _ = cmd.Flags().GetString("symptoms")
			in.Temperature, _ = cmd.Flags().GetString("temperature")
			in.OxygenSaturation, _ = cmd.Flags().GetString("spo2")
			if cmd.Flags().Changed("pain") {
				pain, _ := cmd.Flags().GetInt("pain")
				in.PainScore = &pain
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(triage.Score(in))
		},
	}
	classifyCmd.Flags().String("symptoms", "", "Free-text symptom description")
	classifyCmd.Flags().Int("pain", 0, "Pain score 0-10")
	classifyCmd.Flags().String("temperature", "", "Body temperature in Celsius")
	classifyCmd.Flags().String("spo2", "", "Oxygen saturation in percent")
	cmd.AddCommand(classifyCmd)

	return cmd
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts and access tokens",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account in the database and print an access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.DriverPostgres || cfg.DatabaseURL == "" {
				return fmt.Errorf("account create needs STORE_DRIVER=%s and DATABASE_URL", config.DriverPostgres)
			}

			a, err := accountFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2, MinConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := account.NewService(account.NewRepoPG(pool)).CreateAccount(ctx, a); err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			return printToken(cmd.OutOrStdout(), jwtConfig(cfg), a.ID, a.Name, a.Role, ttl)
		},
	}
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("email", "", "Email address")
	createCmd.Flags().String("role", string(auth.RolePatient), "Account role")
	createCmd.Flags().Int("capacity", account.DefaultMaxCapacity, "Maximum concurrent cases")
	createCmd.Flags().String("availability", string(account.AvailabilityOffline), "Initial availability")
	createCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	cmd.AddCommand(createCmd)

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			rawID, _ := cmd.Flags().GetString("id")
			id, err := uuid.Parse(rawID)
			if err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}
			rawRole, _ := cmd.Flags().GetString("role")
			role, err := auth.ParseRole(rawRole)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			return printToken(cmd.OutOrStdout(), jwtConfig(cfg), id, name, role, ttl)
		},
	}
	tokenCmd.Flags().String("id", "", "Account id")
	tokenCmd.Flags().String("name", "", "Display name")
	tokenCmd.Flags().String("role", string(auth.RolePatient), "Account role")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	cmd.AddCommand(tokenCmd)

	return cmd
}

func accountFromFlags(cmd *cobra.Command) (*account.Account, error) {
	name, _ := cmd.Flags().GetString("name")
	email, _ := cmd.Flags().GetString("email")
	rawRole, _ := cmd.Flags().GetString("role")
	capacity, _ := cmd.Flags().GetInt("capacity")
	rawAvailability, _ := cmd.Flags().GetString("availability")

	role, err := auth.ParseRole(rawRole)
	if err != nil {
		return nil, err
	}
	availability, err := account.ParseAvailability(rawAvailability)
	if err != nil {
		return nil, err
	}
	return &account.Account{
		Name:         name,
		Email:        email,
		Role:         role,
		MaxCapacity:  capacity,
		Availability: availability,
	}, nil
}

func printToken(w io.Writer, cfg auth.JWTConfig, id uuid.UUID, name string, role auth.Role, ttl time.Duration) error {
	if len(cfg.SigningKey) == 0 {
		return fmt.Errorf("AUTH_SIGNING_KEY is required to issue tokens")
	}
	tok, err := auth.IssueToken(cfg, id, name, []auth.Role{role}, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintf(w, "account: %s\nrole:    %s\ntoken:   %s\n", id, role, tok)
	return nil
}
