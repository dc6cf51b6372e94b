package visit

import (
	"context"
	"errors"
	"time"

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

const visitCols = `id, participant_id, visit_number, start_date, due_date,
	scheduled_on, completed_on, randomization_number,
	safety_key, efficacy_key, prescription_key, signature_key,
	echo_key, ecg_key, upt_key,
	questionnaire_variant, hospitalization_events, worsening_events, death,
	created_at, updated_at`

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.ParticipantID, &v.VisitNumber, &v.StartDate, &v.DueDate,
		&v.ScheduledOn, &v.CompletedOn, &v.RandomizationNumber,
		&v.SafetyKey, &v.EfficacyKey, &v.PrescriptionKey, &v.SignatureKey,
		&v.EchoKey, &v.ECGKey, &v.UPTKey,
		&v.QuestionnaireVariant, &v.HospitalizationEvents, &v.WorseningEvents, &v.Death,
		&v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &v, err
}

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visit (id, participant_id, visit_number, start_date, due_date,
			scheduled_on, completed_on, randomization_number,
			safety_key, efficacy_key, prescription_key, signature_key,
			echo_key, ecg_key, upt_key,
			questionnaire_variant, hospitalization_events, worsening_events, death)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		v.ID, v.ParticipantID, v.VisitNumber, v.StartDate, v.DueDate,
		v.ScheduledOn, v.CompletedOn, v.RandomizationNumber,
		v.SafetyKey, v.EfficacyKey, v.PrescriptionKey, v.SignatureKey,
		v.EchoKey, v.ECGKey, v.UPTKey,
		v.QuestionnaireVariant, v.HospitalizationEvents, v.WorseningEvents, v.Death)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, v *Visit) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visit SET start_date=$2, due_date=$3, scheduled_on=$4,
			completed_on=$5, randomization_number=$6,
			safety_key=$7, efficacy_key=$8, prescription_key=$9, signature_key=$10,
			echo_key=$11, ecg_key=$12, upt_key=$13,
			questionnaire_variant=$14, hospitalization_events=$15,
			worsening_events=$16, death=$17, updated_at=NOW()
		WHERE id = $1`,
		v.ID, v.StartDate, v.DueDate, v.ScheduledOn,
		v.CompletedOn, v.RandomizationNumber,
		v.SafetyKey, v.EfficacyKey, v.PrescriptionKey, v.SignatureKey,
		v.EchoKey, v.ECGKey, v.UPTKey,
		v.QuestionnaireVariant, v.HospitalizationEvents,
		v.WorseningEvents, v.Death)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Complete(ctx context.Context, id uuid.UUID, completedOn time.Time, number *int64) (bool, error) {
	// Guarding on completed_on IS NULL serializes racing conclude calls:
	// the loser affects no row and must reload the winner's state.
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visit SET completed_on=$2,
			randomization_number=COALESCE(randomization_number, $3),
			updated_at=NOW()
		WHERE id = $1 AND completed_on IS NULL`, id, completedOn, number)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) ListByParticipant(ctx context.Context, participantID uuid.UUID) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visit WHERE participant_id = $1 ORDER BY visit_number`,
		participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVisits(rows)
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visit ORDER BY participant_id, visit_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVisits(rows)
}

func (r *repoPG) ExistsForParticipant(ctx context.Context, participantID uuid.UUID, visitNumber int) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM visit WHERE participant_id = $1 AND visit_number = $2)`,
		participantID, visitNumber).Scan(&exists)
	return exists, err
}

func (r *repoPG) GetForParticipant(ctx context.Context, participantID uuid.UUID, visitNumber int) (*Visit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visit WHERE participant_id = $1 AND visit_number = $2`,
		participantID, visitNumber))
}

func collectVisits(rows pgx.Rows) ([]*Visit, error) {
	var items []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}
