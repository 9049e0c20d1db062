package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therapia/therapia/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const userCols = `id, email, full_name, role, disabled, created_at, updated_at`

const uniqueViolation = "23505"

func (r *repoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO app_user (id, email, full_name, role)
		VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, u.FullName, u.Role,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM app_user WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM app_user WHERE email = $1`, email))
}

func (r *repoPG) List(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	query := `SELECT ` + userCols + ` FROM app_user`
	countQuery := `SELECT COUNT(*) FROM app_user`
	args := []interface{}{}
	if role != "" {
		query += ` WHERE role = $1`
		countQuery += ` WHERE role = $1`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if role != "" {
		query += ` LIMIT $2 OFFSET $3`
	} else {
		query += ` LIMIT $1 OFFSET $2`
	}
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Disabled,
			&u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, err
		}
		users = append(users, &u)
	}
	return users, total, rows.Err()
}

func (r *repoPG) SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE app_user SET disabled = $2, updated_at = NOW() WHERE id = $1`,
		id, disabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM app_user WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Impact(ctx context.Context, id uuid.UUID) (*DeletionImpact, error) {
	var impact DeletionImpact
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM appointment
			 WHERE (provider_id = $1 OR client_id = $1) AND status <> 'cancelled'),
			(SELECT COUNT(*) FROM scheduling_request
			 WHERE (provider_id = $1 OR client_id = $1) AND status = 'pending'),
			(SELECT COUNT(*) FROM therapist_client
			 WHERE therapist_id = $1 OR client_id = $1)`,
		id,
	).Scan(&impact.ActiveAppointments, &impact.PendingRequests, &impact.Assignments)
	if err != nil {
		return nil, err
	}
	return &impact, nil
}

func (r *repoPG) Assign(ctx context.Context, therapistID, clientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO therapist_client (therapist_id, client_id)
		VALUES ($1, $2)
		ON CONFLICT (therapist_id, client_id) DO NOTHING`,
		therapistID, clientID)
	return err
}

func (r *repoPG) Unassign(ctx context.Context, therapistID, clientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM therapist_client WHERE therapist_id = $1 AND client_id = $2`,
		therapistID, clientID)
	return err
}

func (r *repoPG) ListClients(ctx context.Context, therapistID uuid.UUID) ([]*User, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT u.id, u.email, u.full_name, u.role, u.disabled, u.created_at, u.updated_at
		FROM app_user u
		JOIN therapist_client tc ON tc.client_id = u.id
		WHERE tc.therapist_id = $1
		ORDER BY u.full_name`, therapistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Disabled,
			&u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (r *repoPG) IsAssigned(ctx context.Context, therapistID, clientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM therapist_client
			WHERE therapist_id = $1 AND client_id = $2
		)`, therapistID, clientID).Scan(&exists)
	return exists, err
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Disabled,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
