package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/motorpool/internal/config"
	"github.com/zulandar/motorpool/internal/db"
	"github.com/zulandar/motorpool/internal/models"
	"gorm.io/gorm"
)

func openSessionTestDB(t *testing.T, path string) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&models.SessionRecord{}))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func TestNewSQLStore_RequiresDB(t *testing.T) {
	_, err := NewSQLStore(nil)
	assert.Error(t, err)
}

func TestSQLStore_SetGetDelete(t *testing.T) {
	store, err := NewSQLStore(openSessionTestDB(t, ":memory:"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, &Session{UserID: "u1", ChatID: "c1", State: RequestTerms{}}))
	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StepRequestTerms, got.Step())
	assert.Equal(t, "c1", got.ChatID)

	// Last write wins.
	require.NoError(t, store.Set(ctx, &Session{UserID: "u1", ChatID: "c1", State: RequestTime{Date: "2026-10-20"}}))
	got, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, RequestTime{Date: "2026-10-20"}, got.State)

	require.NoError(t, store.Delete(ctx, "u1"))
	_, err = store.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is fine.
	require.NoError(t, store.Delete(ctx, "u1"))
}

func TestSQLStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	first, err := NewSQLStore(openSessionTestDB(t, path))
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, &Session{
		UserID:      "u9",
		ChatID:      "c9",
		RequestCode: "SOL012",
		State:       EndOdometer{Code: "SOL012", Start: 4200},
	}))

	second, err := NewSQLStore(openSessionTestDB(t, path))
	require.NoError(t, err)
	got, err := second.Get(ctx, "u9")
	require.NoError(t, err)
	assert.Equal(t, EndOdometer{Code: "SOL012", Start: 4200}, got.State)
	assert.Equal(t, "SOL012", got.RequestCode)
}

func TestSQLStore_CorruptRow(t *testing.T) {
	gdb := openSessionTestDB(t, ":memory:")
	store, err := NewSQLStore(gdb)
	require.NoError(t, err)
	require.NoError(t, gdb.Create(&models.SessionRecord{UserID: "u2", Step: "warp_drive", Payload: "{}"}).Error)

	_, err = store.Get(context.Background(), "u2")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSQLStore_SetRequiresUserID(t *testing.T) {
	store, err := NewSQLStore(openSessionTestDB(t, ":memory:"))
	require.NoError(t, err)
	assert.Error(t, store.Set(context.Background(), &Session{State: LoginCPF{}}))
}
