package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/consult/internal/platform/db"
)

type consultationRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &consultationRepoPG{pool: pool} }

func (r *consultationRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const consultationCols = `id, patient_id, nurse_id, professional_id, kind, status, urgency,
	scheduled_at, started_at, ended_at, duration_minutes, meeting, notes, diagnosis,
	created_at, updated_at`

// urgencyRank mirrors triage.Tier.Rank so the queue can be ordered in SQL.
const urgencyRank = `CASE urgency
	WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1
	ELSE 0 END`

func (r *consultationRepoPG) scan(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.PatientID, &c.NurseID, &c.ProfessionalID, &c.Kind, &c.Status, &c.Urgency,
		&c.ScheduledAt, &c.StartedAt, &c.EndedAt, &c.DurationMinutes, &c.Meeting, &c.Notes, &c.Diagnosis,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *consultationRepoPG) collect(ctx context.Context, query string, args ...interface{}) ([]*Consultation, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Consultation
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *consultationRepoPG) Create(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultation (id, patient_id, nurse_id, professional_id, kind, status, urgency,
			scheduled_at, meeting, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientID, c.NurseID, c.ProfessionalID, c.Kind, c.Status, c.Urgency,
		c.ScheduledAt, c.Meeting, c.Notes,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *consultationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+consultationCols+` FROM consultation WHERE id = $1`, id))
}

func (r *consultationRepoPG) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+consultationCols+` FROM consultation WHERE id = $1 FOR UPDATE`, id))
}

func (r *consultationRepoPG) Update(ctx context.Context, c *Consultation) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE consultation SET nurse_id=$2, professional_id=$3, status=$4, urgency=$5,
			scheduled_at=$6, started_at=$7, ended_at=$8, duration_minutes=$9, meeting=$10,
			notes=$11, diagnosis=$12, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.NurseID, c.ProfessionalID, c.Status, c.Urgency,
		c.ScheduledAt, c.StartedAt, c.EndedAt, c.DurationMinutes, c.Meeting,
		c.Notes, c.Diagnosis,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *consultationRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Consultation, int, error) {
	var conds []string
	var args []interface{}
	idx := 1
	if f.Status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", idx))
		args = append(args, *f.Status)
		idx++
	}
	if f.PatientID != nil {
		conds = append(conds, fmt.Sprintf("patient_id = $%d", idx))
		args = append(args, *f.PatientID)
		idx++
	}
	if f.CaregiverID != nil {
		conds = append(conds, fmt.Sprintf("(nurse_id = $%d OR professional_id = $%d)", idx, idx))
		args = append(args, *f.CaregiverID)
		idx++
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consultation`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT `+consultationCols+` FROM consultation%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, where, idx, idx+1)
	args = append(args, limit, offset)
	items, err := r.collect(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *consultationRepoPG) ListPending(ctx context.Context, limit, offset int) ([]*Consultation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consultation WHERE status = 'awaiting'`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.collect(ctx, `SELECT `+consultationCols+` FROM consultation
		WHERE status = 'awaiting'
		ORDER BY `+urgencyRank+` DESC, created_at ASC, id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *consultationRepoPG) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{ByStatus: make(map[Status]int), QueueByUrgency: make(map[string]int)}

	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM consultation GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			rows.Close()
			return nil, err
		}
		s.ByStatus[st] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT COALESCE(urgency, '`+UnclassifiedUrgency+`'), COUNT(*)
		FROM consultation WHERE status = 'awaiting' GROUP BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		s.QueueByUrgency[tier] = n
		s.QueueDepth += n
	}
	return s, rows.Err()
}

const triageCols = `consultation_id, symptoms, temperature, blood_pressure, heart_rate,
	oxygen_saturation, pain_score, medical_history, medications, allergies,
	automatic_urgency, nurse_urgency, score, created_at, updated_at`

func (r *consultationRepoPG) SaveTriage(ctx context.Context, t *TriageRecord) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO triage_record (consultation_id, symptoms, temperature, blood_pressure, heart_rate,
			oxygen_saturation, pain_score, medical_history, medications, allergies,
			automatic_urgency, nurse_urgency, score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (consultation_id) DO UPDATE SET
			symptoms=EXCLUDED.symptoms, temperature=EXCLUDED.temperature,
			blood_pressure=EXCLUDED.blood_pressure, heart_rate=EXCLUDED.heart_rate,
			oxygen_saturation=EXCLUDED.oxygen_saturation, pain_score=EXCLUDED.pain_score,
			medical_history=EXCLUDED.medical_history, medications=EXCLUDED.medications,
			allergies=EXCLUDED.allergies, automatic_urgency=EXCLUDED.automatic_urgency,
			nurse_urgency=EXCLUDED.nurse_urgency, score=EXCLUDED.score, updated_at=NOW()
		RETURNING created_at, updated_at`,
		t.ConsultationID, t.Symptoms, t.Temperature, t.BloodPressure, t.HeartRate,
		t.OxygenSaturation, t.PainScore, t.MedicalHistory, t.Medications, t.Allergies,
		t.AutomaticUrgency, t.NurseUrgency, t.Score,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *consultationRepoPG) GetTriage(ctx context.Context, consultationID uuid.UUID) (*TriageRecord, error) {
	var t TriageRecord
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+triageCols+` FROM triage_record WHERE consultation_id = $1`, consultationID).
		Scan(&t.ConsultationID, &t.Symptoms, &t.Temperature, &t.BloodPressure, &t.HeartRate,
			&t.OxygenSaturation, &t.PainScore, &t.MedicalHistory, &t.Medications, &t.Allergies,
			&t.AutomaticUrgency, &t.NurseUrgency, &t.Score, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *consultationRepoPG) AppendHistory(ctx context.Context, h *StatusChange) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultation_status_history (consultation_id, from_status, to_status, actor_id, note)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, changed_at`,
		h.ConsultationID, h.From, h.To, h.ActorID, h.Note,
	).Scan(&h.ID, &h.ChangedAt)
}

func (r *consultationRepoPG) History(ctx context.Context, consultationID uuid.UUID) ([]*StatusChange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, consultation_id, from_status, to_status, actor_id, note, changed_at
		FROM consultation_status_history WHERE consultation_id = $1 ORDER BY id`, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusChange
	for rows.Next() {
		var h StatusChange
		if err := rows.Scan(&h.ID, &h.ConsultationID, &h.From, &h.To, &h.ActorID, &h.Note, &h.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}

func (r *consultationRepoPG) SaveDocument(ctx context.Context, d *Document) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultation_document (consultation_id, kind, author_id, content)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (consultation_id, kind) DO UPDATE SET
			author_id=EXCLUDED.author_id, content=EXCLUDED.content, updated_at=NOW()
		RETURNING created_at, updated_at`,
		d.ConsultationID, d.Kind, d.AuthorID, []byte(d.Content),
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *consultationRepoPG) Documents(ctx context.Context, consultationID uuid.UUID) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT consultation_id, kind, author_id, content, created_at, updated_at
		FROM consultation_document WHERE consultation_id = $1 ORDER BY kind`, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]*Document, 0)
	for rows.Next() {
		var (
			d       Document
			content []byte
		)
		if err := rows.Scan(&d.ConsultationID, &d.Kind, &d.AuthorID, &content, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Content = content
		items = append(items, &d)
	}
	return items, rows.Err()
}
