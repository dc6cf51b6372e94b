package participant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ctms/ctms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const participantCols = `id, screening_number, randomization_number, screening_failure,
	first_name, middle_name, last_name, initials, phone, alternate_phone,
	age, sex, address, education, occupation, income, signature_key,
	created_at, updated_at`

func scanParticipant(row pgx.Row) (*Participant, error) {
	var p Participant
	err := row.Scan(&p.ID, &p.ScreeningNumber, &p.RandomizationNumber, &p.ScreeningFailure,
		&p.FirstName, &p.MiddleName, &p.LastName, &p.Initials, &p.Phone, &p.AlternatePhone,
		&p.Age, &p.Sex, &p.Address, &p.Education, &p.Occupation, &p.Income, &p.SignatureKey,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Participant) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO participant (id, screening_number, screening_failure,
			first_name, middle_name, last_name, initials, phone, alternate_phone,
			age, sex, address, education, occupation, income, signature_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		p.ID, p.ScreeningNumber, p.ScreeningFailure,
		p.FirstName, p.MiddleName, p.LastName, p.Initials, p.Phone, p.AlternatePhone,
		p.Age, p.Sex, p.Address, p.Education, p.Occupation, p.Income, p.SignatureKey)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Participant, error) {
	return scanParticipant(r.conn(ctx).QueryRow(ctx,
		`SELECT `+participantCols+` FROM participant WHERE id = $1`, id))
}

func (r *repoPG) GetByScreeningNumber(ctx context.Context, number int64) (*Participant, error) {
	return scanParticipant(r.conn(ctx).QueryRow(ctx,
		`SELECT `+participantCols+` FROM participant WHERE screening_number = $1`, number))
}

func (r *repoPG) Update(ctx context.Context, p *Participant) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE participant SET first_name=$2, middle_name=$3, last_name=$4,
			initials=$5, phone=$6, alternate_phone=$7, age=$8, sex=$9,
			address=$10, education=$11, occupation=$12, income=$13,
			signature_key=$14, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FirstName, p.MiddleName, p.LastName,
		p.Initials, p.Phone, p.AlternatePhone, p.Age, p.Sex,
		p.Address, p.Education, p.Occupation, p.Income,
		p.SignatureKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Participant, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM participant`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+participantCols+` FROM participant ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Participant, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+participantCols+` FROM participant ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) ClaimRandomizationNumber(ctx context.Context, id uuid.UUID, number int64) (bool, error) {
	// The NULL guard makes the claim atomic: of two concurrent callers only
	// one affects a row, the other sees the winner's committed value on its
	// next read.
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE participant SET randomization_number=$2, updated_at=NOW()
		WHERE id = $1 AND randomization_number IS NULL`, id, number)
	if err != nil {
		return false, fmt.Errorf("claim randomization number: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM participant WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *repoPG) SetScreeningFailure(ctx context.Context, id uuid.UUID, failed bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE participant SET screening_failure=$2, updated_at=NOW()
		WHERE id = $1`, id, failed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
