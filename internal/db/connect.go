package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/motorpool/internal/config"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// mysqlDuplicateEntry is the MySQL error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// DSN builds the driver-specific data source name for cfg. An empty name
// connects to the server without selecting a database (mysql and postgres).
func DSN(cfg config.DatabaseConfig, name string) string {
	switch cfg.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s sslmode=disable", cfg.Host, cfg.Port, cfg.User)
		if cfg.Password != "" {
			dsn += " password=" + cfg.Password
		}
		if name == "" {
			name = "postgres"
		}
		return dsn + " dbname=" + name
	case "sqlite":
		return cfg.Path
	default:
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		mc.DBName = name
		mc.ParseTime = true
		return mc.FormatDSN()
	}
}

func dialector(cfg config.DatabaseConfig, name string) (gorm.Dialector, error) {
	dsn := DSN(cfg, name)
	switch cfg.Driver {
	case "mysql", "":
		return gormmysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
}

// Connect opens a GORM connection to the configured database.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	d, err := dialector(cfg, cfg.Name)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s %s: %w", cfg.Driver, target(cfg), err)
	}
	if cfg.Driver == "sqlite" {
		// One writer at a time; transactions then serialize the same way a
		// row lock would on a server database.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return db, nil
}

// ConnectAdmin opens a connection to the database server without selecting
// the application database, used for CREATE DATABASE operations.
func ConnectAdmin(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Driver == "sqlite" {
		return nil, fmt.Errorf("db: sqlite has no server to administer")
	}
	d, err := dialector(cfg, "")
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return db, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	if adminDB.Dialector.Name() == "postgres" {
		var count int64
		if err := adminDB.Raw("SELECT COUNT(*) FROM pg_database WHERE datname = ?", name).Scan(&count).Error; err != nil {
			return fmt.Errorf("db: check database %s: %w", name, err)
		}
		if count > 0 {
			return nil
		}
		if err := adminDB.Exec(fmt.Sprintf(`CREATE DATABASE "%s"`, name)).Error; err != nil {
			return fmt.Errorf("db: create database %s: %w", name, err)
		}
		return nil
	}
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}

// DropDatabase drops the named database if it exists.
func DropDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name)
	if adminDB.Dialector.Name() == "postgres" {
		sql = fmt.Sprintf(`DROP DATABASE IF EXISTS "%s"`, name)
	}
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: drop database %s: %w", name, err)
	}
	return nil
}

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func target(cfg config.DatabaseConfig) string {
	if cfg.Driver == "sqlite" {
		return cfg.Path
	}
	return fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Name)
}
