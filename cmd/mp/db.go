package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/motorpool/internal/config"
	"github.com/zulandar/motorpool/internal/db"
	"golang.org/x/term"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the motorpool database",
		Long:  "Creates the database if needed, applies all migrations and seeds the bootstrap account.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config from %s\n", configPath)

	if err := ensureDatabase(cmd, cfg); err != nil {
		return err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
	}
	if err := migrateAndSeed(cmd, gormDB, cfg); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nMotorpool database initialized successfully.")
	return nil
}

// ensureDatabase creates the server-side database. SQLite creates its file on
// connect.
func ensureDatabase(cmd *cobra.Command, cfg *config.Config) error {
	if cfg.Database.Driver == "sqlite" {
		return nil
	}
	adminDB, err := db.ConnectAdmin(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s at %s:%d: %w", cfg.Database.Driver, cfg.Database.Host, cfg.Database.Port, err)
	}
	if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Database %s ready\n", cfg.Database.Name)
	return nil
}

func migrateAndSeed(cmd *cobra.Command, gormDB *gorm.DB, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	if err := db.Migrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Applied %d migrations (%d tables)\n", len(db.Migrations()), len(db.AllModels()))

	seeded, err := db.SeedBootstrapUser(gormDB, cfg.Bootstrap)
	if err != nil {
		return err
	}
	if seeded {
		fmt.Fprintf(out, "Bootstrap account %s ready (%s)\n", cfg.Bootstrap.Registration, cfg.Bootstrap.Role)
	}
	return nil
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := db.Migrate(gormDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations up to date.")
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-initialize the motorpool database",
		Long: `Drops every motorpool table (or the whole database on MySQL and
PostgreSQL), then migrates and seeds again. All requests, vehicles and
accounts are lost.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !skipConfirm {
		if f, ok := cmd.InOrStdin().(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
			return fmt.Errorf("refusing to reset without --yes: stdin is not a terminal")
		}
		if !confirmReset(cmd, cfg.Database.Name) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if cfg.Database.Driver == "sqlite" {
		gormDB, err := db.Connect(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", cfg.Database.Path, err)
		}
		tables := append(db.AllModels(), "migrations")
		if err := gormDB.Migrator().DropTable(tables...); err != nil {
			return fmt.Errorf("drop tables: %w", err)
		}
		fmt.Fprintf(out, "Dropped %d tables\n", len(tables))
		if err := migrateAndSeed(cmd, gormDB, cfg); err != nil {
			return err
		}
		fmt.Fprintln(out, "\nMotorpool database reset and re-initialized successfully.")
		return nil
	}

	adminDB, err := db.ConnectAdmin(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s at %s:%d: %w", cfg.Database.Driver, cfg.Database.Host, cfg.Database.Port, err)
	}
	if err := db.DropDatabase(adminDB, cfg.Database.Name); err != nil {
		return err
	}
	fmt.Fprintf(out, "Dropped database %s\n", cfg.Database.Name)
	if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
		return err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.Name, err)
	}
	if err := migrateAndSeed(cmd, gormDB, cfg); err != nil {
		return err
	}
	fmt.Fprintln(out, "\nMotorpool database reset and re-initialized successfully.")
	return nil
}

func confirmReset(cmd *cobra.Command, dbName string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	fmt.Fprintf(out, "WARNING: This will permanently delete all data in database %q.\n", dbName)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}
