package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
)

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@localhost:5432/db?sslmode=disable", "pgx5://u:p@localhost:5432/db?sslmode=disable"},
		{"postgresql://u@db/app", "pgx5://u@db/app"},
		{"pgx5://u@db/app", "pgx5://u@db/app"},
	}
	for _, tt := range tests {
		if got := migrationURL(tt.in); got != tt.want {
			t.Errorf("migrationURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDescribe(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:    "23505",
		Message: "duplicate key value violates unique constraint \"employees_inn_key\"",
		Detail:  "Key (inn)=(500100732259) already exists.",
	}

	err := describe(fmt.Errorf("exec: %w", pgErr))
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	require.Equal(t, "23505", rowErr.Code)
	require.Contains(t, err.Error(), "already exists")
	require.ErrorIs(t, err, pgErr)

	plain := errors.New("conn closed")
	require.Same(t, plain, describe(plain))
}

func TestPgDateRoundTrip(t *testing.T) {
	require.Nil(t, fromPgDate(toPgDate(nil)))

	d := core.NewDate(1990, time.March, 15)
	got := fromPgDate(toPgDate(&d))
	require.NotNil(t, got)
	require.Equal(t, "1990-03-15", got.String())
}

// The tests below need a disposable Postgres database.
// Set TEST_DATABASE_URL to run them.

func testStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	require.NoError(t, Migrate(url, logger))

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(),
		`TRUNCATE import_runs, employee_counterparty_mapping, employees, counterparties`)
	require.NoError(t, err)

	return New(pool, logger), pool
}

func seedCounterparty(t *testing.T, pool *pgxpool.Pool, name, inn, kpp, parentID string) string {
	t.Helper()
	var parent any
	if parentID != "" {
		parent = parentID
	}
	var id string
	err := pool.QueryRow(context.Background(),
		`INSERT INTO counterparties (name, inn, kpp, parent_id) VALUES ($1, $2, $3, $4) RETURNING id`,
		name, inn, kpp, parent,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func record(row int, inn, last string) core.ImportRecord {
	birth := core.NewDate(1990, time.March, 15)
	return core.ImportRecord{
		RowIndex:   row,
		LastName:   last,
		FirstName:  "Иван",
		MiddleName: "Петрович",
		TaxID:      inn,
		BirthDate:  &birth,
		Position:   "Монтажник",
		OrgTaxID:   "7701234567",
	}
}

func TestStore_LoadScope(t *testing.T) {
	s, pool := testStore(t)
	ctx := context.Background()

	own := seedCounterparty(t, pool, "СтройМонтаж", "7701234567", "770101001", "")
	seedCounterparty(t, pool, "Бетон", "5001234567", "", own)
	seedCounterparty(t, pool, "Чужой", "7707654321", "", "")

	scope, err := s.LoadScope(ctx, own)
	require.NoError(t, err)
	require.Equal(t, own, scope.Own.ID)
	require.Len(t, scope.Subcontractors, 1)
	require.Equal(t, "5001234567", scope.Subcontractors[0].TaxID)

	_, err = s.LoadScope(ctx, "missing")
	require.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestStore_UpsertLifecycle(t *testing.T) {
	s, pool := testStore(t)
	ctx := context.Background()
	own := seedCounterparty(t, pool, "СтройМонтаж", "7701234567", "770101001", "")

	rec := record(2, "500100732259", "Иванов")

	var firstID string
	err := s.RunBatch(ctx, func(w core.EmployeeWriter) error {
		id, res, err := w.UpsertEmployee(ctx, rec)
		require.NoError(t, err)
		require.Equal(t, core.UpsertCreated, res)
		firstID = id
		require.NoError(t, w.LinkCounterparty(ctx, id, own))
		require.NoError(t, w.LinkCounterparty(ctx, id, own), "linking twice is a no-op")
		return nil
	})
	require.NoError(t, err)

	found, err := s.FindByTaxIDs(ctx, []string{"500100732259", "000000000000"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "Иванов", found["500100732259"].LastName)
	require.Equal(t, "1990-03-15", found["500100732259"].BirthDate.String())

	err = s.RunBatch(ctx, func(w core.EmployeeWriter) error {
		id, res, err := w.UpsertEmployee(ctx, rec)
		require.NoError(t, err)
		require.Equal(t, core.UpsertUnchanged, res)
		require.Equal(t, firstID, id)

		changed := rec
		changed.Position = ""
		changed.LastName = "Иванова"
		id, res, err = w.UpsertEmployee(ctx, changed)
		require.NoError(t, err)
		require.Equal(t, core.UpsertUpdated, res)
		require.Equal(t, firstID, id)
		return nil
	})
	require.NoError(t, err)

	found, err = s.FindByTaxIDs(ctx, []string{"500100732259"})
	require.NoError(t, err)
	require.Equal(t, "Иванова", found["500100732259"].LastName)
	require.Equal(t, "Монтажник", found["500100732259"].Position, "empty detail keeps the stored value")
}

func TestStore_FailedRowDoesNotAbortBatch(t *testing.T) {
	s, pool := testStore(t)
	ctx := context.Background()
	seedCounterparty(t, pool, "СтройМонтаж", "7701234567", "", "")

	err := s.RunBatch(ctx, func(w core.EmployeeWriter) error {
		_, _, err := w.UpsertEmployee(ctx, record(2, "500100732259", "Иванов"))
		require.NoError(t, err)

		err = w.LinkCounterparty(ctx, "no-such-employee", "no-such-counterparty")
		var rowErr *RowError
		require.ErrorAs(t, err, &rowErr)
		require.Equal(t, "23503", rowErr.Code)

		_, res, err := w.UpsertEmployee(ctx, record(3, "500100732260", "Петров"))
		require.NoError(t, err)
		require.Equal(t, core.UpsertCreated, res)
		return nil
	})
	require.NoError(t, err)

	found, err := s.FindByTaxIDs(ctx, []string{"500100732259", "500100732260"})
	require.NoError(t, err)
	require.Len(t, found, 2)
}

func TestStore_RunBatchRollsBackOnError(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunBatch(ctx, func(w core.EmployeeWriter) error {
		_, _, err := w.UpsertEmployee(ctx, record(2, "500100732259", "Иванов"))
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	found, err := s.FindByTaxIDs(ctx, []string{"500100732259"})
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestStore_EngineRoundTrip(t *testing.T) {
	s, pool := testStore(t)
	ctx := context.Background()
	own := seedCounterparty(t, pool, "СтройМонтаж", "7701234567", "770101001", "")

	engine := core.NewEngine(core.EngineDeps{Directory: s, Finder: s, Runner: s})
	records := []core.ImportRecord{record(2, "500100732259", "Иванов"), record(3, "500100732260", "Петров")}

	outcome, err := engine.ExecuteImport(ctx, core.ExecuteRequest{OwnerID: own, Records: records})
	require.NoError(t, err)
	require.Equal(t, 2, outcome.Created)
	require.Empty(t, outcome.Errors)

	var links int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM employee_counterparty_mapping WHERE counterparty_id = $1`, own).Scan(&links))
	require.Equal(t, 2, links)

	require.NoError(t, s.RecordRun(ctx, core.ImportRun{
		SessionID: "sess-1",
		OwnerID:   own,
		FileName:  "staff.xlsx",
		Outcome:   outcome,
		Duration:  1500 * time.Millisecond,
		Status:    core.RunStatusSucceeded,
	}))

	var created int
	require.NoError(t, pool.QueryRow(ctx, `SELECT created FROM import_runs WHERE session_id = 'sess-1'`).Scan(&created))
	require.Equal(t, 2, created)
}
