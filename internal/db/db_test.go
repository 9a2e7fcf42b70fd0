package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/motorpool/internal/config"
	"github.com/zulandar/motorpool/internal/models"
	"gorm.io/gorm"
)

func TestDSN_MySQL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		db   string
		want []string
	}{
		{
			name: "default local",
			cfg:  config.DatabaseConfig{Driver: "mysql", Host: "127.0.0.1", Port: 3306, User: "root"},
			db:   "motorpool",
			want: []string{"root@tcp(127.0.0.1:3306)/motorpool", "parseTime=true"},
		},
		{
			name: "password and custom port",
			cfg:  config.DatabaseConfig{Driver: "mysql", Host: "10.0.0.5", Port: 3307, User: "fleet", Password: "pw"},
			db:   "fleet_prod",
			want: []string{"fleet:pw@tcp(10.0.0.5:3307)/fleet_prod"},
		},
		{
			name: "admin connection",
			cfg:  config.DatabaseConfig{Driver: "mysql", Host: "db.internal", Port: 3306, User: "root"},
			db:   "",
			want: []string{"root@tcp(db.internal:3306)/?"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg, tt.db)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("DSN() = %q, want to contain %q", got, w)
				}
			}
		})
	}
}

func TestDSN_Postgres(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "postgres", Host: "pg", Port: 5432, User: "fleet", Password: "pw"}
	got := DSN(cfg, "motorpool")
	for _, w := range []string{"host=pg", "port=5432", "user=fleet", "password=pw", "dbname=motorpool", "sslmode=disable"} {
		if !strings.Contains(got, w) {
			t.Errorf("DSN() = %q, want to contain %q", got, w)
		}
	}
	if admin := DSN(cfg, ""); !strings.Contains(admin, "dbname=postgres") {
		t.Errorf("admin DSN = %q, want maintenance database", admin)
	}
}

func TestDSN_SQLite(t *testing.T) {
	got := DSN(config.DatabaseConfig{Driver: "sqlite", Path: "/var/lib/motorpool.db"}, "ignored")
	if got != "/var/lib/motorpool.db" {
		t.Errorf("DSN() = %q, want file path", got)
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("Connect(oracle) error = %v, want unsupported driver", err)
	}
}

func TestConnectAdmin_SQLite(t *testing.T) {
	if _, err := ConnectAdmin(config.DatabaseConfig{Driver: "sqlite"}); err == nil {
		t.Error("expected error for sqlite admin connection")
	}
}

func openMigrateTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func TestMigrate_CreatesTables(t *testing.T) {
	db := openMigrateTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	for _, m := range AllModels() {
		if !db.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
	if !db.Migrator().HasIndex(&models.Request{}, "idx_requests_status_created") {
		t.Error("status/created index not created")
	}

	// Idempotent.
	if err := Migrate(db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestMigrations_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for _, m := range Migrations() {
		if seen[m.ID] {
			t.Errorf("duplicate migration ID %q", m.ID)
		}
		seen[m.ID] = true
		if m.Rollback == nil {
			t.Errorf("migration %q has no rollback", m.ID)
		}
	}
}

func TestSeedBootstrapUser(t *testing.T) {
	db := openMigrateTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	seeded, err := SeedBootstrapUser(db, config.BootstrapConfig{})
	if err != nil || seeded {
		t.Fatalf("empty bootstrap: seeded=%v err=%v", seeded, err)
	}

	b := config.BootstrapConfig{CPF: "12345678901", Registration: "A100", Name: "Chief", Role: "inspector"}
	if _, err := SeedBootstrapUser(db, b); err != nil {
		t.Fatalf("SeedBootstrapUser: %v", err)
	}
	b.Name = "Chief Inspector"
	if _, err := SeedBootstrapUser(db, b); err != nil {
		t.Fatalf("SeedBootstrapUser (update): %v", err)
	}

	var users []models.User
	if err := db.Find(&users).Error; err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 {
		t.Fatalf("users = %d, want 1", len(users))
	}
	if users[0].Name != "Chief Inspector" {
		t.Errorf("Name = %q, want updated name", users[0].Name)
	}
}

func TestSeedBootstrapUser_MissingRegistration(t *testing.T) {
	db := openMigrateTestDB(t)
	_, err := SeedBootstrapUser(db, config.BootstrapConfig{CPF: "12345678901"})
	if err == nil || !strings.Contains(err.Error(), "registration is required") {
		t.Errorf("error = %v, want registration required", err)
	}
}

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm translated", fmt.Errorf("wrap: %w", gorm.ErrDuplicatedKey), true},
		{"mysql 1062", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true},
		{"mysql other", &mysql.MySQLError{Number: 1045, Message: "Access denied"}, false},
		{"sqlite text", errors.New("UNIQUE constraint failed: vehicles.prefix"), true},
		{"other", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDuplicateKey(tt.err); got != tt.want {
				t.Errorf("IsDuplicateKey(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
