package fleet

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/motorpool/internal/config"
	"github.com/zulandar/motorpool/internal/db"
	"github.com/zulandar/motorpool/internal/models"
	"gorm.io/gorm"
)

func openFleetTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	return gdb
}

func addVehicle(t *testing.T, gdb *gorm.DB, prefix, status string) models.Vehicle {
	t.Helper()
	v := models.Vehicle{Prefix: prefix, Name: "Patrol " + prefix, Model: "Hilux", Plate: "ABC-1234", Odometer: 45000, Status: status}
	require.NoError(t, gdb.Create(&v).Error)
	return v
}

func addRequest(t *testing.T, gdb *gorm.DB, code, status, inspector string) models.Request {
	t.Helper()
	r := models.Request{
		Code:        code,
		Seq:         int(time.Now().UnixNano() % 100000),
		RequesterID: "req-1",
		NeedAt:      time.Now().Add(time.Hour),
		Reason:      "patrol shift",
		Status:      status,
		InspectorID: inspector,
	}
	require.NoError(t, gdb.Create(&r).Error)
	return r
}

func TestValidation(t *testing.T) {
	p, err := NormalizePrefix("  vtr006 ")
	require.NoError(t, err)
	assert.Equal(t, "VTR006", p)
	_, err = NormalizePrefix("vt")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = ValidateName("Car")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = ValidateModel("X1")
	assert.ErrorIs(t, err, ErrInvalid)

	for in, want := range map[string]string{"abc1234": "ABC-1234", "ABC-1234": "ABC-1234", " qwe 9876 ": "QWE-9876"} {
		got, err := NormalizePlate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"AB-1234", "ABCD1234", "ABC12345", "1BC-1234"} {
		_, err := NormalizePlate(bad)
		assert.ErrorIs(t, err, ErrInvalid, bad)
	}

	for in, want := range map[string]int64{"45.000": 45000, " 45150 ": 45150, "1.234.567": 1234567, "0": 0} {
		km, err := ParseOdometer(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, km, in)
	}
	for _, bad := range []string{"-5", "many", "", "45150,5", "45150.5", "4 5 1 5 0", "45,150", "4.5150", ".450", "45150."} {
		_, err := ParseOdometer(bad)
		assert.ErrorIs(t, err, ErrInvalid, bad)
	}
}

func TestRegister(t *testing.T) {
	gdb := openFleetTestDB(t)
	s, err := NewStore(gdb)
	require.NoError(t, err)
	ctx := context.Background()

	v, err := s.Register(ctx, models.Vehicle{Prefix: "vtr006", Name: "Patrol Six", Model: "Hilux", Plate: "abc1234", Odometer: 100})
	require.NoError(t, err)
	assert.Equal(t, "VTR006", v.Prefix)
	assert.Equal(t, "ABC-1234", v.Plate)
	assert.Equal(t, models.VehicleAvailable, v.Status)

	_, err = s.Register(ctx, models.Vehicle{Prefix: "VTR006", Name: "Patrol Copy", Model: "Hilux", Plate: "abc1234"})
	assert.ErrorIs(t, err, ErrDuplicatePrefix)

	_, err = s.Register(ctx, models.Vehicle{Prefix: "VTR007", Name: "Patrol Seven", Model: "Hilux", Plate: "abc1234", Status: models.VehicleReserved})
	assert.ErrorIs(t, err, ErrInvalid)

	taken, err := s.PrefixTaken(ctx, "VTR006")
	require.NoError(t, err)
	assert.True(t, taken)

	got, err := s.GetByPrefix(ctx, "vtr006")
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)

	_, err = s.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAvailable(t *testing.T) {
	gdb := openFleetTestDB(t)
	addVehicle(t, gdb, "VTR002", models.VehicleAvailable)
	addVehicle(t, gdb, "VTR001", models.VehicleAvailable)
	addVehicle(t, gdb, "VTR003", models.VehicleUnderMaintenance)
	s, err := NewStore(gdb)
	require.NoError(t, err)

	vs, err := s.ListAvailable(context.Background())
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, "VTR001", vs[0].Prefix)

	all, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSetStatus(t *testing.T) {
	gdb := openFleetTestDB(t)
	s, err := NewStore(gdb)
	require.NoError(t, err)
	ctx := context.Background()

	free := addVehicle(t, gdb, "VTR001", models.VehicleAvailable)
	held := addVehicle(t, gdb, "VTR002", models.VehicleReserved)

	before, err := s.SetStatus(ctx, free.ID, models.VehicleUnderMaintenance)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleAvailable, before.Status)

	_, err = s.SetStatus(ctx, free.ID, models.VehicleUnderMaintenance)
	assert.ErrorIs(t, err, ErrSameStatus)

	_, err = s.SetStatus(ctx, free.ID, models.VehicleReserved)
	assert.ErrorIs(t, err, ErrManagedStatus)

	_, err = s.SetStatus(ctx, held.ID, models.VehicleAvailable)
	assert.ErrorIs(t, err, ErrActiveRequest)

	_, err = s.SetStatus(ctx, free.ID, "flying")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.SetStatus(ctx, 999, models.VehicleOnHold)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetStatus_ActiveRequestBlocksChange(t *testing.T) {
	gdb := openFleetTestDB(t)
	s, err := NewStore(gdb)
	require.NoError(t, err)

	v := addVehicle(t, gdb, "VTR001", models.VehicleOnHold)
	r := addRequest(t, gdb, "SOL001", models.StatusAuthorized, "ins-1")
	require.NoError(t, gdb.Model(&r).Update("vehicle_id", v.ID).Error)

	_, err = s.SetStatus(context.Background(), v.ID, models.VehicleAvailable)
	assert.ErrorIs(t, err, ErrActiveRequest)
}

func TestReserve(t *testing.T) {
	gdb := openFleetTestDB(t)
	a, err := NewAllocator(gdb)
	require.NoError(t, err)
	ctx := context.Background()

	v := addVehicle(t, gdb, "VTR006", models.VehicleAvailable)
	addRequest(t, gdb, "SOL007", models.StatusInInspection, "ins-1")

	res, err := a.Reserve(ctx, ReserveOpts{Code: "SOL007", VehicleID: v.ID, InspectorID: "ins-1"})
	require.NoError(t, err)
	assert.Equal(t, models.VehicleReserved, res.Vehicle.Status)
	assert.Equal(t, models.StatusAwaitingAuthorization, res.Request.Status)
	assert.Equal(t, "VTR006", res.Request.VehiclePrefix)
	require.NotNil(t, res.Request.VehicleID)
	assert.Equal(t, v.ID, *res.Request.VehicleID)
	assert.NotNil(t, res.Request.InspectedAt)

	var stored models.Vehicle
	require.NoError(t, gdb.First(&stored, v.ID).Error)
	assert.Equal(t, models.VehicleReserved, stored.Status)
}

func TestReserve_Rejections(t *testing.T) {
	gdb := openFleetTestDB(t)
	a, err := NewAllocator(gdb)
	require.NoError(t, err)
	ctx := context.Background()

	busy := addVehicle(t, gdb, "VTR001", models.VehicleUnderMaintenance)
	free := addVehicle(t, gdb, "VTR002", models.VehicleAvailable)
	addRequest(t, gdb, "SOL001", models.StatusInInspection, "ins-1")
	addRequest(t, gdb, "SOL002", models.StatusAwaitingInspection, "")

	_, err = a.Reserve(ctx, ReserveOpts{Code: "SOL001", VehicleID: busy.ID, InspectorID: "ins-1"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = a.Reserve(ctx, ReserveOpts{Code: "SOL001", VehicleID: free.ID, InspectorID: "ins-2"})
	assert.ErrorIs(t, err, ErrConflict, "another inspector holds the request")

	_, err = a.Reserve(ctx, ReserveOpts{Code: "SOL002", VehicleID: free.ID, InspectorID: "ins-1"})
	assert.ErrorIs(t, err, ErrConflict, "request not yet claimed")

	_, err = a.Reserve(ctx, ReserveOpts{Code: "SOL001", VehicleID: 999, InspectorID: "ins-1"})
	assert.ErrorIs(t, err, ErrNotFound)

	// Rolled back: the vehicle is still free after the conflicts.
	var stored models.Vehicle
	require.NoError(t, gdb.First(&stored, free.ID).Error)
	assert.Equal(t, models.VehicleAvailable, stored.Status)
}

func TestReserve_ConcurrentSameVehicle(t *testing.T) {
	gdb := openFleetTestDB(t)
	a, err := NewAllocator(gdb)
	require.NoError(t, err)

	v := addVehicle(t, gdb, "VTR006", models.VehicleAvailable)
	const n = 8
	for i := 0; i < n; i++ {
		addRequest(t, gdb, fmt.Sprintf("SOL%03d", i+1), models.StatusInInspection, fmt.Sprintf("ins-%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = a.Reserve(context.Background(), ReserveOpts{
				Code:        fmt.Sprintf("SOL%03d", i+1),
				VehicleID:   v.ID,
				InspectorID: fmt.Sprintf("ins-%d", i),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, 1, wins)

	var holders int64
	require.NoError(t, gdb.Model(&models.Request{}).
		Where("vehicle_id = ? AND status IN ?", v.ID, ActiveRequestStatuses).
		Count(&holders).Error)
	assert.Equal(t, int64(1), holders)
}

func TestReserve_ConcurrentSameRequest(t *testing.T) {
	gdb := openFleetTestDB(t)
	a, err := NewAllocator(gdb)
	require.NoError(t, err)

	addRequest(t, gdb, "SOL007", models.StatusInInspection, "ins-1")
	var ids []uint
	for i := 0; i < 4; i++ {
		ids = append(ids, addVehicle(t, gdb, fmt.Sprintf("VTR%03d", i+1), models.VehicleAvailable).ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			_, errs[i] = a.Reserve(context.Background(), ReserveOpts{Code: "SOL007", VehicleID: id, InspectorID: "ins-1"})
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrConflict)
	}
	assert.Equal(t, 1, wins)

	var reserved int64
	require.NoError(t, gdb.Model(&models.Vehicle{}).Where("status = ?", models.VehicleReserved).Count(&reserved).Error)
	assert.Equal(t, int64(1), reserved, "losing reservations roll back")
}

func TestReleaseOccupyReturn(t *testing.T) {
	gdb := openFleetTestDB(t)
	v := addVehicle(t, gdb, "VTR001", models.VehicleReserved)

	require.NoError(t, gdb.Transaction(func(tx *gorm.DB) error {
		return Occupy(tx, v.ID, 45100)
	}))
	var got models.Vehicle
	require.NoError(t, gdb.First(&got, v.ID).Error)
	assert.Equal(t, models.VehicleInUse, got.Status)
	assert.Equal(t, int64(45100), got.Odometer)

	err := gdb.Transaction(func(tx *gorm.DB) error { return Occupy(tx, v.ID, 1) })
	assert.ErrorIs(t, err, ErrUnavailable)

	require.NoError(t, gdb.Transaction(func(tx *gorm.DB) error {
		return Return(tx, v.ID, 45250)
	}))
	require.NoError(t, gdb.First(&got, v.ID).Error)
	assert.Equal(t, models.VehicleAvailable, got.Status)
	assert.Equal(t, int64(45250), got.Odometer)

	changed, err := Release(gdb, v.ID, models.VehicleReserved)
	require.NoError(t, err)
	assert.False(t, changed, "only reserved vehicles are released")
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Under maintenance", StatusLabel(models.VehicleUnderMaintenance))
	assert.Equal(t, "Unknown", StatusLabel("flying"))
	for _, s := range ManualStatuses {
		assert.False(t, managed(s), s)
	}
}
