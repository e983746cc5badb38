package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
)

// upsertEmployeeSQL inserts a new employee or refreshes an existing one with
// the same tax ID. Identity fields are overwritten; detail fields keep their
// stored value when the incoming one is empty. Nothing is returned when the
// row would not change.
const upsertEmployeeSQL = `
INSERT INTO employees
	(last_name, first_name, middle_name, inn, snils, kig, kig_end_date, citizenship, birth_date, position)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (inn) DO UPDATE SET
	last_name    = excluded.last_name,
	first_name   = excluded.first_name,
	middle_name  = excluded.middle_name,
	snils        = excluded.snils,
	birth_date   = excluded.birth_date,
	kig          = COALESCE(NULLIF(excluded.kig, ''), employees.kig),
	kig_end_date = COALESCE(excluded.kig_end_date, employees.kig_end_date),
	citizenship  = COALESCE(NULLIF(excluded.citizenship, ''), employees.citizenship),
	position     = COALESCE(NULLIF(excluded.position, ''), employees.position),
	updated_at   = now()
WHERE (employees.last_name, employees.first_name, employees.middle_name, employees.snils, employees.birth_date,
       employees.kig, employees.kig_end_date, employees.citizenship, employees.position)
   IS DISTINCT FROM
      (excluded.last_name, excluded.first_name, excluded.middle_name, excluded.snils, excluded.birth_date,
       COALESCE(NULLIF(excluded.kig, ''), employees.kig),
       COALESCE(excluded.kig_end_date, employees.kig_end_date),
       COALESCE(NULLIF(excluded.citizenship, ''), employees.citizenship),
       COALESCE(NULLIF(excluded.position, ''), employees.position))
RETURNING id, (xmax = 0) AS inserted`

// batchWriter writes rows inside the batch transaction, one savepoint per call.
type batchWriter struct {
	tx pgx.Tx
	n  int
}

// savepoint runs fn between SAVEPOINT and RELEASE. When fn fails the savepoint
// is rolled back so the transaction stays usable for the next row.
func (w *batchWriter) savepoint(ctx context.Context, fn func() error) error {
	w.n++
	name := fmt.Sprintf("sp_%d", w.n)

	if _, err := w.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := w.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback savepoint: %w", rbErr))
		}
		return describe(err)
	}

	if _, err := w.tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// UpsertEmployee creates or refreshes the employee keyed by the record's tax ID.
func (w *batchWriter) UpsertEmployee(ctx context.Context, rec core.ImportRecord) (string, core.UpsertResult, error) {
	var (
		id       string
		inserted bool
		result   core.UpsertResult
	)
	taxID := rec.NormalizedTaxID()

	err := w.savepoint(ctx, func() error {
		err := w.tx.QueryRow(ctx, upsertEmployeeSQL,
			core.CleanString(rec.LastName),
			core.CleanString(rec.FirstName),
			core.CleanString(rec.MiddleName),
			taxID,
			core.DigitsOnly(rec.InsuranceID),
			rec.WorkerCardID,
			toPgDate(rec.WorkerCardExpiry),
			rec.Citizenship,
			toPgDate(rec.BirthDate),
			rec.Position,
		).Scan(&id, &inserted)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			result = core.UpsertUnchanged
			return w.tx.QueryRow(ctx, `SELECT id FROM employees WHERE inn = $1`, taxID).Scan(&id)
		case err != nil:
			return err
		case inserted:
			result = core.UpsertCreated
		default:
			result = core.UpsertUpdated
		}
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("upsert employee: %w", err)
	}
	return id, result, nil
}

// LinkCounterparty attaches the employee to a counterparty. Existing links are kept.
func (w *batchWriter) LinkCounterparty(ctx context.Context, employeeID, counterpartyID string) error {
	return w.savepoint(ctx, func() error {
		_, err := w.tx.Exec(ctx, `
			INSERT INTO employee_counterparty_mapping (employee_id, counterparty_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, employeeID, counterpartyID)
		return err
	})
}

// describe shortens Postgres errors to their message and detail so row errors
// stay readable in reports.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	msg := pgErr.Message
	if pgErr.Detail != "" {
		msg += ": " + pgErr.Detail
	}
	return &RowError{Code: pgErr.Code, Message: msg, err: err}
}

// RowError is a database error attached to one row.
type RowError struct {
	Code    string // SQLSTATE
	Message string
	err     error
}

func (e *RowError) Error() string { return e.Message }

func (e *RowError) Unwrap() error { return e.err }
