package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a RecordStore backed by Postgres. Every mutation writes
// a change row into the patient_changes outbox in the same transaction, so
// the change feed never misses a committed write.
func NewPGStore(pool *pgxpool.Pool) RecordStore {
	return &pgStore{pool: pool}
}

const patientCols = `id, name, address, conditions, allergies, is_deleted, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Address, &p.Conditions, &p.Allergies,
		&p.IsDeleted, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (s *pgStore) Put(ctx context.Context, p *Patient) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO patient (id, name, address, conditions, allergies, is_deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.Name, p.Address, p.Conditions, p.Allergies, p.IsDeleted, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return storeErr(err)
	}
	if err := insertChange(ctx, tx, EventInsert, p); err != nil {
		return storeErr(err)
	}
	return storeErr(tx.Commit(ctx))
}

func (s *pgStore) GetByID(ctx context.Context, id string, liveOnly bool) (*Patient, error) {
	query := `SELECT ` + patientCols + ` FROM patient WHERE id = $1`
	if liveOnly {
		query += ` AND is_deleted = false`
	}
	p, err := scanPatient(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return p, nil
}

func (s *pgStore) Scan(ctx context.Context, liveOnly bool, projection []string) ([]*Patient, error) {
	cols := patientCols
	if len(projection) > 0 {
		cols = strings.Join(projection, ", ")
	}
	query := `SELECT ` + cols + ` FROM patient`
	if liveOnly {
		query += ` WHERE is_deleted = false`
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p := &Patient{}
		if len(projection) > 0 {
			if err := rows.Scan(dests(p, projection)...); err != nil {
				return nil, storeErr(err)
			}
		} else {
			if err := rows.Scan(&p.ID, &p.Name, &p.Address, &p.Conditions, &p.Allergies,
				&p.IsDeleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
				return nil, storeErr(err)
			}
		}
		out = append(out, p)
	}
	return out, storeErr(rows.Err())
}

func (s *pgStore) UpdateAttributes(ctx context.Context, id string, attrs map[string]any) (*Patient, error) {
	if len(attrs) == 0 {
		return nil, fmt.Errorf("no attributes to update")
	}

	// Deterministic clause order keeps query plans cacheable.
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	set := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, k := range keys {
		switch k {
		case AttrName, AttrAddress, AttrConditions, AttrAllergies, AttrIsDeleted, AttrUpdatedAt:
		default:
			return nil, fmt.Errorf("attribute %q is not updatable", k)
		}
		set = append(set, fmt.Sprintf("%s = $%d", k, i+1))
		args = append(args, attrs[k])
	}
	args = append(args, id)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`UPDATE patient SET %s WHERE id = $%d RETURNING `+patientCols,
		strings.Join(set, ", "), len(args))
	p, err := scanPatient(tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if err := insertChange(ctx, tx, EventModify, p); err != nil {
		return nil, storeErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr(err)
	}
	return p, nil
}

func insertChange(ctx context.Context, tx pgx.Tx, kind EventKind, p *Patient) error {
	image, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal change image: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO patient_changes (record_id, kind, new_image)
		VALUES ($1,$2,$3)`,
		p.ID, string(kind), image)
	return err
}

func dests(p *Patient, projection []string) []any {
	out := make([]any, 0, len(projection))
	for _, col := range projection {
		switch col {
		case "id":
			out = append(out, &p.ID)
		case "name":
			out = append(out, &p.Name)
		case "address":
			out = append(out, &p.Address)
		case "conditions":
			out = append(out, &p.Conditions)
		case "allergies":
			out = append(out, &p.Allergies)
		case "is_deleted":
			out = append(out, &p.IsDeleted)
		case "created_at":
			out = append(out, &p.CreatedAt)
		case "updated_at":
			out = append(out, &p.UpdatedAt)
		}
	}
	return out
}

// storeErr classifies driver failures. Connection-class and resource-class
// errors become ErrStoreUnavailable so callers can treat them as transient;
// everything else passes through.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		case "08", "53", "57", "58":
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Anything that is not a database-reported error is a transport failure.
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
