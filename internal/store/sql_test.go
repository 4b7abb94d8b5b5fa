package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/trimmer-monitor/internal/vision"
)

func openTestSQLite(t *testing.T) *SQL {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "trimmer.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testMachine = MachineConfig{
	MachineID: 7,
	Name:      "Trimmer 7",
	Detection: vision.DetectionConfig{
		Region:    vision.Region{X: 10, Y: 20, W: 30, H: 40},
		Threshold: 90,
		MinArea:   250,
	},
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "postgres", DSN: "x"})
	assert.Error(t, err)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: "  "})
	assert.Error(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trimmer.db")
	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: path})
		require.NoError(t, err, "open %d", i)
		require.NoError(t, s.Close())
	}
}

func TestLoadConfigNotFound(t *testing.T) {
	s := openTestSQLite(t)
	_, err := s.LoadConfig(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertAndLoadConfig(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertMachine(ctx, testMachine))

	got, err := s.LoadConfig(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, testMachine, got)
}

func TestLoadConfigNullColumnsUseDefaults(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `INSERT INTO secondary_machines (machineID) VALUES (3)`)
	require.NoError(t, err)

	got, err := s.LoadConfig(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, vision.DefaultConfig, got.Detection)
	assert.Equal(t, "3", got.Name)
}

func TestSaveConfig(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertMachine(ctx, testMachine))

	next := vision.DetectionConfig{
		Region:    vision.Region{X: 1, Y: 2, W: 3, H: 4},
		Threshold: 200,
		MinArea:   0,
	}
	require.NoError(t, s.SaveConfig(ctx, 7, next))
	// Saving identical values still matches the row.
	require.NoError(t, s.SaveConfig(ctx, 7, next))

	got, err := s.LoadConfig(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, next, got.Detection)
	assert.Equal(t, "Trimmer 7", got.Name)
}

func TestSaveConfigNotFound(t *testing.T) {
	s := openTestSQLite(t)
	err := s.SaveConfig(context.Background(), 42, vision.DefaultConfig)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveLot(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	lot, err := s.ActiveLot(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, lot)

	require.NoError(t, s.AssignLot(ctx, 7, "L-100"))
	lot, err = s.ActiveLot(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "L-100", lot)

	require.NoError(t, s.AssignLot(ctx, 7, "L-200"))
	lot, err = s.ActiveLot(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "L-200", lot)

	// Other machines are unaffected.
	lot, err = s.ActiveLot(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, lot)

	require.NoError(t, s.AssignLot(ctx, 7, ""))
	lot, err = s.ActiveLot(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, lot)
}

func TestLogEvent(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	area := 1234
	id1, err := s.LogEvent(ctx, EventRecord{MachineID: 7, CycleID: 1700000000000, Type: "placed_in", Lot: "L-1", Area: &area})
	require.NoError(t, err)
	id2, err := s.LogEvent(ctx, EventRecord{MachineID: 7, Type: "STARTUP", Detail: "boot"})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	var (
		typ     string
		cycleID sql.NullInt64
		lot     sql.NullString
		a       sql.NullInt64
		details sql.NullString
	)
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT type, cycle_id, reqLot, area, details FROM trimmer_events WHERE id = ?`, id1,
	).Scan(&typ, &cycleID, &lot, &a, &details))
	assert.Equal(t, "placed_in", typ)
	assert.Equal(t, int64(1700000000000), cycleID.Int64)
	assert.Equal(t, "L-1", lot.String)
	assert.Equal(t, int64(1234), a.Int64)

	var blob map[string]any
	require.NoError(t, json.Unmarshal([]byte(details.String), &blob))
	assert.Equal(t, "L-1", blob["reqLot"])
	assert.Equal(t, float64(1234), blob["area"])

	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT cycle_id, reqLot, area, details FROM trimmer_events WHERE id = ?`, id2,
	).Scan(&cycleID, &lot, &a, &details))
	assert.False(t, cycleID.Valid)
	assert.False(t, lot.Valid)
	assert.False(t, a.Valid)
	assert.Equal(t, "boot", details.String)
}

func TestLogTelemetryTouchesLastSeen(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertMachine(ctx, testMachine))

	require.NoError(t, s.LogTelemetry(ctx, Telemetry{
		MachineID: 7, CyclesLastHour: 12, UptimeSeconds: 3600, Status: StatusOnline,
	}))

	var (
		cph    int
		status string
		code   sql.NullString
	)
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT cycles_last_hour, status, error_code FROM trimmer_telemetry WHERE machine_id = 7`,
	).Scan(&cph, &status, &code))
	assert.Equal(t, 12, cph)
	assert.Equal(t, StatusOnline, status)
	assert.False(t, code.Valid)

	var lastSeen sql.NullString
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT last_seen FROM secondary_machines WHERE machineID = 7`,
	).Scan(&lastSeen))
	assert.True(t, lastSeen.Valid)
}

func TestRegisterDevice(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertMachine(ctx, testMachine))

	require.NoError(t, s.RegisterDevice(ctx, Device{MachineID: 7, DeviceID: "pi-trim-7", IP: "10.0.0.7"}))

	var dev, ip string
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT device_id, ip_address FROM secondary_machines WHERE machineID = 7`,
	).Scan(&dev, &ip))
	assert.Equal(t, "pi-trim-7", dev)
	assert.Equal(t, "10.0.0.7", ip)

	err := s.RegisterDevice(ctx, Device{MachineID: 8, DeviceID: "pi-x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDetailsJSON(t *testing.T) {
	assert.Equal(t, "", detailsJSON(nil, "", ""))
	assert.Equal(t, "cycle_time_sec:4.20", detailsJSON(nil, "", "cycle_time_sec:4.20"))

	area := 5
	assert.JSONEq(t, `{"area":5,"reqLot":"L","details":"x"}`, detailsJSON(&area, "L", "x"))
	assert.JSONEq(t, `{"reqLot":"L"}`, detailsJSON(nil, "L", ""))
}

func TestMySQLDSN(t *testing.T) {
	_, err := openMySQL("not a dsn", DefaultTimeout)
	assert.Error(t, err)

	db, err := openMySQL("trim:secret@tcp(127.0.0.1:3306)/plant", DefaultTimeout)
	require.NoError(t, err)
	db.Close()

	red := redactDSN("trim:secret@tcp(127.0.0.1:3306)/plant")
	assert.NotContains(t, red, "secret")
	assert.Contains(t, red, "127.0.0.1:3306")
	assert.Equal(t, "/tmp/x.db", Describe(Options{Driver: DriverSQLite, DSN: "/tmp/x.db"}))
}
