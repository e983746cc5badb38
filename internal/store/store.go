// Package store persists employees, counterparties, organization links and
// import runs in PostgreSQL. It implements the storage interfaces of package core.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loliloopp/PassDesk-sub001/internal/config"
	"github.com/loliloopp/PassDesk-sub001/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOwnerNotFound is returned by LoadScope for an unknown owner counterparty.
var ErrOwnerNotFound = errors.New("owner counterparty not found")

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a connection pool sized from cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("connected to database", "database", poolConfig.ConnConfig.Database)
	return pool, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(databaseURL string, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrationURL(databaseURL))
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}

// migrationURL rewrites a postgres:// URL to the pgx5:// scheme the migrate driver registers.
func migrationURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// Store is the Postgres implementation of core.EmployeeFinder,
// core.CounterpartyDirectory, core.BatchRunner and core.RunRecorder.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New wraps an open pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger.With("component", "store")}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

const employeeColumns = `id, last_name, first_name, middle_name, inn, snils, kig, kig_end_date, citizenship, birth_date, position`

// FindByTaxIDs returns the stored employees whose tax ID is in taxIDs, keyed by tax ID.
func (s *Store) FindByTaxIDs(ctx context.Context, taxIDs []string) (map[string]core.PersistedEmployee, error) {
	return findByTaxIDs(ctx, s.pool, taxIDs)
}

func findByTaxIDs(ctx context.Context, db DBTX, taxIDs []string) (map[string]core.PersistedEmployee, error) {
	out := make(map[string]core.PersistedEmployee, len(taxIDs))
	if len(taxIDs) == 0 {
		return out, nil
	}

	rows, err := db.Query(ctx, `SELECT `+employeeColumns+` FROM employees WHERE inn = ANY($1)`, taxIDs)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out[emp.TaxID] = emp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return out, nil
}

func scanEmployee(row pgx.Row) (core.PersistedEmployee, error) {
	var (
		emp           core.PersistedEmployee
		kigEnd, birth pgtype.Date
	)
	err := row.Scan(&emp.ID, &emp.LastName, &emp.FirstName, &emp.MiddleName, &emp.TaxID,
		&emp.InsuranceID, &emp.WorkerCardID, &kigEnd, &emp.Citizenship, &birth, &emp.Position)
	if err != nil {
		return core.PersistedEmployee{}, err
	}
	emp.WorkerCardExpiry = fromPgDate(kigEnd)
	emp.BirthDate = fromPgDate(birth)
	return emp, nil
}

// LoadScope loads the owner counterparty and the sub-contractors registered under it.
func (s *Store) LoadScope(ctx context.Context, ownerID string) (core.OrgScope, error) {
	var scope core.OrgScope

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, inn, kpp FROM counterparties WHERE id = $1`, ownerID,
	).Scan(&scope.Own.ID, &scope.Own.Name, &scope.Own.TaxID, &scope.Own.SubCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.OrgScope{}, fmt.Errorf("%w: %s", ErrOwnerNotFound, ownerID)
	}
	if err != nil {
		return core.OrgScope{}, fmt.Errorf("query owner counterparty: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, inn, kpp FROM counterparties WHERE parent_id = $1 ORDER BY name, id`, ownerID)
	if err != nil {
		return core.OrgScope{}, fmt.Errorf("query sub-contractors: %w", err)
	}
	scope.Subcontractors, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Counterparty, error) {
		var c core.Counterparty
		err := row.Scan(&c.ID, &c.Name, &c.TaxID, &c.SubCode)
		return c, err
	})
	if err != nil {
		return core.OrgScope{}, fmt.Errorf("scan sub-contractors: %w", err)
	}
	return scope, nil
}

// RunBatch runs fn inside one transaction and commits when fn returns nil.
// Every write made through the EmployeeWriter is isolated by its own savepoint.
func (s *Store) RunBatch(ctx context.Context, fn func(w core.EmployeeWriter) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	if err := fn(&batchWriter{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RecordRun writes the audit row of one execution.
func (s *Store) RecordRun(ctx context.Context, run core.ImportRun) error {
	rowErrors := run.Outcome.Errors
	if rowErrors == nil {
		rowErrors = []core.RowError{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_runs
			(session_id, owner_id, file_name, status, created, updated, skipped, failed, warnings, errors, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.SessionID, run.OwnerID, run.FileName, run.Status,
		run.Outcome.Created, run.Outcome.Updated, run.Outcome.Skipped,
		run.Outcome.Failed(), run.Outcome.Warnings(), rowErrors,
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert import run: %w", err)
	}
	return nil
}

func toPgDate(d *core.Date) pgtype.Date {
	if d == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.Time, Valid: true}
}

func fromPgDate(d pgtype.Date) *core.Date {
	if !d.Valid {
		return nil
	}
	date := core.DateOf(d.Time)
	return &date
}
