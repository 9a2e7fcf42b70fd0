package main

import (
	"strings"
	"testing"
	"time"

	"github.com/zulandar/motorpool/internal/models"
	"gopkg.in/guregu/null.v4"
)

func seedRequests(t *testing.T, cfgPath string) {
	t.Helper()
	_, gormDB, err := connectFromConfig(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	reqs := []models.Request{
		{Code: "SOL001", Seq: 1, RequesterID: "u-1", RequesterName: "Rita", Reason: "Routine patrol",
			NeedAt: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), Status: models.StatusFinalized,
			VehiclePrefix: "VTR006", InspectorName: "Ines",
			StartOdometer: null.IntFrom(45010), EndOdometer: null.IntFrom(45100)},
		{Code: "SOL002", Seq: 2, RequesterID: "u-2", RequesterName: "Otto", Reason: "Court hearing",
			NeedAt: time.Date(2026, 3, 11, 8, 30, 0, 0, time.UTC), Status: models.StatusAwaitingInspection},
	}
	for i := range reqs {
		if err := gormDB.Create(&reqs[i]).Error; err != nil {
			t.Fatal(err)
		}
	}
}

func TestRequestList(t *testing.T) {
	cfg := initDB(t)

	out, err := run(t, "", "request", "list", "-c", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No requests found.") {
		t.Errorf("empty list = %s", out)
	}

	seedRequests(t, cfg)
	out, err = run(t, "", "request", "list", "-c", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Index(out, "SOL002") > strings.Index(out, "SOL001") {
		t.Errorf("list not newest first:\n%s", out)
	}

	out, err = run(t, "", "request", "list", "-c", cfg, "--status", "finalized")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "SOL002") || !strings.Contains(out, "10/03/2026 10:00") {
		t.Errorf("filtered list = %s", out)
	}
}

func TestRequestShow(t *testing.T) {
	cfg := initDB(t)
	seedRequests(t, cfg)

	out, err := run(t, "", "request", "show", "-c", cfg, "sol001")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"SOL001", "finalized (Finalized)", "Distance:    90 km", "Authorizer:  -"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "", "request", "show", "-c", cfg, "SOL404"); err == nil {
		t.Error("expected not found error")
	}
}

func TestConnectFromConfig_UsesDriver(t *testing.T) {
	path := writeTestConfig(t)
	cfg, gormDB, err := connectFromConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Driver != "sqlite" || gormDB.Dialector.Name() != "sqlite" {
		t.Errorf("driver = %s / %s", cfg.Database.Driver, gormDB.Dialector.Name())
	}
}
