package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/vision"
)

// DefaultTimeout bounds every database call.
const DefaultTimeout = 3 * time.Second

// Supported drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Options configures Open.
type Options struct {
	Driver  string
	DSN     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// SQL implements Store on database/sql. The same queries run against the
// plant MySQL server and the local SQLite file.
type SQL struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
	log     *slog.Logger
}

// Open connects to the database and checks it is reachable. SQLite
// databases are migrated to the latest schema.
func Open(ctx context.Context, opts Options) (*SQL, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var (
		db  *sql.DB
		err error
	)
	switch opts.Driver {
	case DriverMySQL:
		db, err = openMySQL(opts.DSN, opts.Timeout)
	case DriverSQLite:
		db, err = openSQLite(opts.DSN, opts.Logger)
	default:
		return nil, fmt.Errorf("unsupported driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	s := &SQL{db: db, driver: opts.Driver, timeout: opts.Timeout, log: opts.Logger}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info("store connected", "driver", opts.Driver, "dsn", Describe(opts))
	return s, nil
}

// Describe returns a loggable form of the connection target.
func Describe(opts Options) string {
	if opts.Driver == DriverMySQL {
		return redactDSN(opts.DSN)
	}
	return opts.DSN
}

func (s *SQL) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Ping checks the connection.
func (s *SQL) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.driver, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *SQL) Close() error {
	return s.db.Close()
}

// LoadConfig reads the vision columns of a machine row. NULL columns take
// the values in vision.DefaultConfig.
func (s *SQL) LoadConfig(ctx context.Context, machineID int) (MachineConfig, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var (
		name                          sql.NullString
		x, y, w, h, threshold, minArea sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT machineName, roi_x, roi_y, roi_w, roi_h, threshold, min_area
		FROM secondary_machines
		WHERE machineID = ?`, machineID,
	).Scan(&name, &x, &y, &w, &h, &threshold, &minArea)
	if errors.Is(err, sql.ErrNoRows) {
		return MachineConfig{}, fmt.Errorf("load config for machine %d: %w", machineID, ErrNotFound)
	}
	if err != nil {
		return MachineConfig{}, fmt.Errorf("load config for machine %d: %w", machineID, err)
	}

	def := vision.DefaultConfig
	cfg := MachineConfig{
		MachineID: machineID,
		Name:      name.String,
		Detection: vision.DetectionConfig{
			Region: vision.Region{
				X: intOr(x, def.Region.X),
				Y: intOr(y, def.Region.Y),
				W: intOr(w, def.Region.W),
				H: intOr(h, def.Region.H),
			},
			Threshold: intOr(threshold, def.Threshold),
			MinArea:   intOr(minArea, def.MinArea),
		},
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprint(machineID)
	}
	return cfg, nil
}

func intOr(v sql.NullInt64, def int) int {
	if !v.Valid {
		return def
	}
	return int(v.Int64)
}

// SaveConfig writes the vision columns of a machine row.
func (s *SQL) SaveConfig(ctx context.Context, machineID int, cfg vision.DetectionConfig) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE secondary_machines
		SET roi_x = ?, roi_y = ?, roi_w = ?, roi_h = ?, threshold = ?, min_area = ?
		WHERE machineID = ?`,
		cfg.Region.X, cfg.Region.Y, cfg.Region.W, cfg.Region.H, cfg.Threshold, cfg.MinArea, machineID,
	)
	if err != nil {
		return fmt.Errorf("save config for machine %d: %w", machineID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save config for machine %d: %w", machineID, err)
	}
	if n == 0 {
		return fmt.Errorf("save config for machine %d: %w", machineID, ErrNotFound)
	}
	return nil
}

// ActiveLot returns the lot currently WORKING on the machine.
func (s *SQL) ActiveLot(ctx context.Context, machineID int) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var lot string
	err := s.db.QueryRowContext(ctx, `
		SELECT reqLot FROM secondary_assignments
		WHERE machineID = ? AND assignment_status = 'WORKING'
		LIMIT 1`, machineID,
	).Scan(&lot)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("active lot for machine %d: %w", machineID, err)
	}
	return lot, nil
}

// LogEvent inserts a row into trimmer_events.
func (s *SQL) LogEvent(ctx context.Context, rec EventRecord) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var cycleID, lot, area, details any
	if rec.CycleID != 0 {
		cycleID = rec.CycleID
	}
	if rec.Lot != "" {
		lot = rec.Lot
	}
	if rec.Area != nil {
		area = *rec.Area
	}
	if d := detailsJSON(rec.Area, rec.Lot, rec.Detail); d != "" {
		details = d
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trimmer_events (trimmer_id, machine_id, type, cycle_id, reqLot, area, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.MachineID, rec.MachineID, rec.Type, cycleID, lot, area, details,
	)
	if err != nil {
		return 0, fmt.Errorf("log %s event: %w", rec.Type, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("log %s event: %w", rec.Type, err)
	}
	return id, nil
}

// LogTelemetry inserts a telemetry row and refreshes last_seen.
func (s *SQL) LogTelemetry(ctx context.Context, t Telemetry) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("log telemetry: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trimmer_telemetry
		(trimmer_id, machine_id, cycles_last_hour, uptime_seconds, status, error_code, error_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.MachineID, t.MachineID, t.CyclesLastHour, t.UptimeSeconds, t.Status,
		nullString(t.ErrorCode), nullString(t.ErrorText),
	); err != nil {
		return fmt.Errorf("log telemetry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE secondary_machines SET last_seen = CURRENT_TIMESTAMP WHERE machineID = ?`,
		t.MachineID,
	); err != nil {
		return fmt.Errorf("log telemetry: touch last_seen: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("log telemetry: commit: %w", err)
	}
	return nil
}

// RegisterDevice records which Pi is attached to the machine.
func (s *SQL) RegisterDevice(ctx context.Context, d Device) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE secondary_machines
		SET device_id = ?, ip_address = ?, last_seen = CURRENT_TIMESTAMP
		WHERE machineID = ?`,
		d.DeviceID, d.IP, d.MachineID,
	)
	if err != nil {
		return fmt.Errorf("register device %s: %w", d.DeviceID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("register device %s: %w", d.DeviceID, ErrNotFound)
	}
	return nil
}

// UpsertMachine creates or replaces a machine row. Used to provision a
// standalone SQLite database.
func (s *SQL) UpsertMachine(ctx context.Context, cfg MachineConfig) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	d := cfg.Detection
	_, err := s.db.ExecContext(ctx, `
		REPLACE INTO secondary_machines
		(machineID, machineName, roi_x, roi_y, roi_w, roi_h, threshold, min_area)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.MachineID, cfg.Name, d.Region.X, d.Region.Y, d.Region.W, d.Region.H, d.Threshold, d.MinArea,
	)
	if err != nil {
		return fmt.Errorf("upsert machine %d: %w", cfg.MachineID, err)
	}
	return nil
}

// AssignLot marks lot as the WORKING assignment for the machine, finishing
// any previous one.
func (s *SQL) AssignLot(ctx context.Context, machineID int, lot string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("assign lot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE secondary_assignments SET assignment_status = 'DONE'
		WHERE machineID = ? AND assignment_status = 'WORKING'`, machineID,
	); err != nil {
		return fmt.Errorf("assign lot: %w", err)
	}
	if lot != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO secondary_assignments (machineID, reqLot, assignment_status)
			VALUES (?, ?, 'WORKING')`, machineID, lot,
		); err != nil {
			return fmt.Errorf("assign lot: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("assign lot: commit: %w", err)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
