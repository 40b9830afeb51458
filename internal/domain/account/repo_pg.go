package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/consult/internal/platform/auth"
	"github.com/carelink/consult/internal/platform/db"
)

const uniqueViolation = "23505"

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &accountRepoPG{pool: pool} }

func (r *accountRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const accountCols = `id, name, email, role, active, availability,
	current_active_cases, max_capacity, specialty, created_at, updated_at`

// nurseEligible is the routing gate shared by the read and reserve paths.
const nurseEligible = `role = 'nurse' AND active AND availability = 'online'
	AND current_active_cases < max_capacity`

func (r *accountRepoPG) scan(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.Active, &a.Availability,
		&a.CurrentActiveCases, &a.MaxCapacity, &a.Specialty, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *accountRepoPG) Create(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO account (id, name, email, role, active, availability, current_active_cases, max_capacity, specialty)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		a.ID, a.Name, a.Email, a.Role, a.Active, a.Availability,
		a.CurrentActiveCases, a.MaxCapacity, a.Specialty,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}

func (r *accountRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM account WHERE id = $1`, id))
}

func (r *accountRepoPG) List(ctx context.Context, role *auth.Role, limit, offset int) ([]*Account, int, error) {
	where, args := "", []interface{}{}
	if role != nil {
		where = " WHERE role = $1"
		args = append(args, *role)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM account`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT `+accountCols+` FROM account%s ORDER BY name, id LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	args = append(args, limit, offset)
	items, err := r.collect(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *accountRepoPG) collect(ctx context.Context, query string, args ...interface{}) ([]*Account, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Account
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *accountRepoPG) SetAvailability(ctx context.Context, id uuid.UUID, availability Availability) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE account SET availability = $2, updated_at = NOW() WHERE id = $1`, id, availability)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepoPG) SetCapacity(ctx context.Context, id uuid.UUID, maxCapacity int, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE account SET max_capacity = $2, active = $3, updated_at = NOW() WHERE id = $1`, id, maxCapacity, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepoPG) FirstAvailableNurse(ctx context.Context) (*Account, error) {
	a, err := r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM account
		WHERE `+nurseEligible+`
		ORDER BY current_active_cases, created_at, id LIMIT 1`))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *accountRepoPG) ListAvailableByRole(ctx context.Context, role auth.Role) ([]*Account, error) {
	return r.collect(ctx, `SELECT `+accountCols+` FROM account
		WHERE role = $1 AND active AND availability = 'online'
		ORDER BY name, id`, role)
}

// ReserveNurse locks the chosen row with SKIP LOCKED so that concurrent
// reservations spread over nurses instead of queueing on one, then re-checks
// the gate in the UPDATE itself.
func (r *accountRepoPG) ReserveNurse(ctx context.Context) (*Account, error) {
	a, err := r.scan(r.conn(ctx).QueryRow(ctx, `
		UPDATE account SET current_active_cases = current_active_cases + 1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM account
			WHERE `+nurseEligible+`
			ORDER BY current_active_cases, created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND current_active_cases < max_capacity
		RETURNING `+accountCols))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *accountRepoPG) IncrementActiveCases(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `
		UPDATE account SET current_active_cases = current_active_cases + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountCols, id))
}

func (r *accountRepoPG) ReleaseCase(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `
		UPDATE account SET current_active_cases = GREATEST(current_active_cases - 1, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING `+accountCols, id))
}
