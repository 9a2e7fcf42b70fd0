package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/motorpool/internal/config"
	"github.com/zulandar/motorpool/internal/db"
	"github.com/zulandar/motorpool/internal/events"
	"github.com/zulandar/motorpool/internal/session"
	"go.uber.org/zap"
)

func TestNewTransport_UnknownPlatform(t *testing.T) {
	_, err := newTransport(config.ChatConfig{Platform: "irc"}, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), `unknown chat platform "irc"`) {
		t.Errorf("err = %v", err)
	}
}

func TestNewTransport_MissingTokens(t *testing.T) {
	for _, platform := range []string{"telegram", "slack", "discord"} {
		tr, err := newTransport(config.ChatConfig{Platform: platform}, zap.NewNop())
		if err == nil {
			t.Errorf("%s: expected error without tokens", platform)
		}
		if tr != nil {
			t.Errorf("%s: transport = %v, want nil interface", platform, tr)
		}
	}
}

func TestNewSessionStore_SQL(t *testing.T) {
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "s.db")})
	if err != nil {
		t.Fatal(err)
	}
	store, err := newSessionStore(config.SessionsConfig{Backend: "sql"}, gdb)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*session.SQLStore); !ok {
		t.Errorf("store = %T, want *session.SQLStore", store)
	}
}

func TestNewPublisher_NoURLIsNop(t *testing.T) {
	pub, err := newPublisher(config.EventsConfig{}, zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pub.(events.Nop); !ok {
		t.Errorf("publisher = %T, want events.Nop", pub)
	}
}
