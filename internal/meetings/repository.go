package meetings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/novameet/backend/internal/models"
)

// Repository handles meeting persistence. Participants are stored as a JSONB
// array column on the meeting row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meeting repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const meetingColumns = `id, name, user_id, agent_id, status, started_at, ended_at,
	transcript_url, recording_url, summary, start_date, is_paid, participants, created_at, updated_at`

func scanMeeting(row interface{ Scan(dest ...any) error }) (*models.Meeting, error) {
	var m models.Meeting
	var participants []byte
	err := row.Scan(&m.ID, &m.Name, &m.UserID, &m.AgentID, &m.Status, &m.StartedAt, &m.EndedAt,
		&m.TranscriptURL, &m.RecordingURL, &m.Summary, &m.StartDate, &m.IsPaid, &participants,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &m.Participants); err != nil {
			return nil, fmt.Errorf("decode participants: %w", err)
		}
	}
	if m.Participants == nil {
		m.Participants = []models.Participant{}
	}
	return &m, nil
}

// Create inserts a new meeting with its caller-supplied id.
func (r *Repository) Create(ctx context.Context, m *models.Meeting) error {
	participants, err := json.Marshal(m.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	const q = `INSERT INTO meetings (id, name, user_id, agent_id, status, started_at, ended_at,
		transcript_url, recording_url, summary, start_date, is_paid, participants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, q, m.ID, m.Name, m.UserID, m.AgentID, m.Status, m.StartedAt, m.EndedAt,
		m.TranscriptURL, m.RecordingURL, m.Summary, m.StartDate, m.IsPaid, participants).
		Scan(&m.CreatedAt, &m.UpdatedAt)
}

// GetByID returns a meeting by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	return scanMeeting(r.pool.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id))
}

// ListByUser returns the user's meetings, most recently updated first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Meeting, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}

// Save updates the meeting's mutable fields.
func (r *Repository) Save(ctx context.Context, m *models.Meeting) error {
	participants, err := json.Marshal(m.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	const q = `UPDATE meetings SET name = $1, status = $2, started_at = $3, ended_at = $4,
		transcript_url = $5, recording_url = $6, summary = $7, start_date = $8, is_paid = $9,
		participants = $10, updated_at = NOW() WHERE id = $11`
	_, err = r.pool.Exec(ctx, q, m.Name, m.Status, m.StartedAt, m.EndedAt,
		m.TranscriptURL, m.RecordingURL, m.Summary, m.StartDate, m.IsPaid, participants, m.ID)
	return err
}

// Delete removes a meeting owned by the user.
func (r *Repository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM meetings WHERE id = $1 AND user_id = $2`, id, userID)
	return err
}

// AppendParticipant adds p to the meeting's participant list in a single
// statement, so concurrent joins cannot lose an entry or slip a duplicate
// id/email past the check. Returns ErrDuplicateParticipant when the guard
// rejects the row.
func (r *Repository) AppendParticipant(ctx context.Context, id uuid.UUID, p models.Participant) error {
	encoded, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE meetings SET participants = participants || $1::jsonb, updated_at = NOW()
		 WHERE id = $2 AND NOT EXISTS (
			SELECT 1 FROM jsonb_array_elements(participants) elem
			WHERE elem->>'id' = $3 OR elem->>'email' = $4)`,
		encoded, id, p.ID, p.Email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrDuplicateParticipant
	}
	return nil
}

// MarkActive moves a meeting into Active, guarded so a redelivered or late
// event cannot move a meeting backward. Reports whether the transition applied.
func (r *Repository) MarkActive(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE meetings SET status = $1, started_at = $2, updated_at = NOW()
		 WHERE id = $3 AND status IN ($4, $5)`,
		models.StatusActive, startedAt, id, models.StatusUpcoming, models.StatusSchedule)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkProcessing moves an Active meeting into Processing. A meeting in any
// other state is left untouched and the call reports false.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE meetings SET status = $1, ended_at = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		models.StatusProcessing, endedAt, id, models.StatusActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted records the durable recording URL and moves the meeting into
// Completed. Guarded against terminal states so redelivery is harmless.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, recordingURL string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE meetings SET status = $1, recording_url = $2, updated_at = NOW()
		 WHERE id = $3 AND status IN ($4, $5)`,
		models.StatusCompleted, recordingURL, id, models.StatusActive, models.StatusProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetTranscriptURL stores the transcript feed URL.
func (r *Repository) SetTranscriptURL(ctx context.Context, id uuid.UUID, url string) error {
	_, err := r.pool.Exec(ctx, `UPDATE meetings SET transcript_url = $1, updated_at = NOW() WHERE id = $2`, url, id)
	return err
}

// SetSummary stores the transcript summary.
func (r *Repository) SetSummary(ctx context.Context, id uuid.UUID, summary string) error {
	_, err := r.pool.Exec(ctx, `UPDATE meetings SET summary = $1, updated_at = NOW() WHERE id = $2`, summary, id)
	return err
}
