package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Run Types
// =============================================================================

// RunKind distinguishes what the run did.
type RunKind string

const (
	RunKindBuild RunKind = "build"
	RunKindUp    RunKind = "up"
	RunKindDown  RunKind = "down"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one recorded build or launch.
type Run struct {
	ID        string
	Project   string
	Kind      RunKind
	ImageRef  string
	Status    RunStatus
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Services  []ServiceRun
}

// ServiceRun records the outcome for one service within a run.
type ServiceRun struct {
	Service     string
	State       string
	ContainerID string
	ExitCode    int
	Position    int
}

// =============================================================================
// Store
// =============================================================================

// Store persists runs in SQLite.
type Store struct {
	db *sqlx.DB
}

// NewStore opens the ledger database and runs migrations.
func NewStore(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewLedgerError("NewStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewLedgerError("NewStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewLedgerError("NewStore", "", err.Error(), ErrMigrationFailed)
	}

	return &Store{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Row Types
// =============================================================================

type runRow struct {
	ID        string `db:"id"`
	Project   string `db:"project"`
	Kind      string `db:"kind"`
	ImageRef  string `db:"image_ref"`
	Status    string `db:"status"`
	Error     string `db:"error"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

type serviceRunRow struct {
	RunID       string `db:"run_id"`
	Service     string `db:"service"`
	State       string `db:"state"`
	ContainerID string `db:"container_id"`
	ExitCode    int    `db:"exit_code"`
	Position    int    `db:"position"`
}

func (r runRow) toRun() Run {
	createdAt, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return Run{
		ID:        r.ID,
		Project:   r.Project,
		Kind:      RunKind(r.Kind),
		ImageRef:  r.ImageRef,
		Status:    RunStatus(r.Status),
		Error:     r.Error,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

// =============================================================================
// Run Operations
// =============================================================================

// CreateRun records a new pending run and returns it.
func (s *Store) CreateRun(ctx context.Context, project string, kind RunKind, imageRef string) (*Run, error) {
	now := time.Now().UTC()
	run := &Run{
		ID:        uuid.NewString(),
		Project:   project,
		Kind:      kind,
		ImageRef:  imageRef,
		Status:    RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, project, kind, image_ref, status, error, created_at, updated_at)
		VALUES (:id, :project, :kind, :image_ref, :status, :error, :created_at, :updated_at)`,
		runRow{
			ID:        run.ID,
			Project:   run.Project,
			Kind:      string(run.Kind),
			ImageRef:  run.ImageRef,
			Status:    string(run.Status),
			CreatedAt: now.Format(time.RFC3339Nano),
			UpdatedAt: now.Format(time.RFC3339Nano),
		})
	if err != nil {
		return nil, NewLedgerError("CreateRun", run.ID, err.Error(), err)
	}

	return run, nil
}

// SetRunStatus updates a run's status, recording the failure message when
// there is one.
func (s *Store) SetRunStatus(ctx context.Context, id string, status RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return NewLedgerError("SetRunStatus", id, err.Error(), err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return NewLedgerError("SetRunStatus", id, "run not found", ErrNotFound)
	}
	return nil
}

// RecordService upserts one service outcome for a run.
func (s *Store) RecordService(ctx context.Context, runID string, sr ServiceRun) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO service_runs (run_id, service, state, container_id, exit_code, position)
		VALUES (:run_id, :service, :state, :container_id, :exit_code, :position)
		ON CONFLICT (run_id, service) DO UPDATE SET
			state = excluded.state,
			container_id = excluded.container_id,
			exit_code = excluded.exit_code,
			position = excluded.position`,
		serviceRunRow{
			RunID:       runID,
			Service:     sr.Service,
			State:       sr.State,
			ContainerID: sr.ContainerID,
			ExitCode:    sr.ExitCode,
			Position:    sr.Position,
		})
	if err != nil {
		return NewLedgerError("RecordService", runID, err.Error(), err)
	}
	return nil
}

// GetRun loads a run with its service outcomes, ordered by launch position.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewLedgerError("GetRun", id, "run not found", ErrNotFound)
		}
		return nil, NewLedgerError("GetRun", id, err.Error(), err)
	}

	run := row.toRun()

	var serviceRows []serviceRunRow
	err = s.db.SelectContext(ctx, &serviceRows, `
		SELECT * FROM service_runs WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, NewLedgerError("GetRun", id, err.Error(), err)
	}
	for _, sr := range serviceRows {
		run.Services = append(run.Services, ServiceRun{
			Service:     sr.Service,
			State:       sr.State,
			ContainerID: sr.ContainerID,
			ExitCode:    sr.ExitCode,
			Position:    sr.Position,
		})
	}

	return &run, nil
}

// ListRuns returns runs newest first, optionally filtered by project.
// limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, project string, limit int) ([]Run, error) {
	query := `SELECT * FROM runs`
	var args []any
	if project != "" {
		query += ` WHERE project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewLedgerError("ListRuns", "", err.Error(), err)
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toRun())
	}
	return runs, nil
}
