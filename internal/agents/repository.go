package agents

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/novameet/backend/internal/models"
)

// Repository handles agent persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an agent repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new agent.
func (r *Repository) Create(ctx context.Context, a *models.Agent) error {
	const q = `INSERT INTO agents (name, instruction, user_id)
		VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, a.Name, a.Instruction, a.UserID).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// GetByID returns an agent by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	var a models.Agent
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, instruction, user_id, created_at, updated_at FROM agents WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Instruction, &a.UserID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListByUser returns the user's agents.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Agent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, instruction, user_id, created_at, updated_at
		 FROM agents WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Instruction, &a.UserID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// Update changes an agent's name and instruction, scoped to its owner.
func (r *Repository) Update(ctx context.Context, a *models.Agent) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE agents SET name = $1, instruction = $2, updated_at = NOW() WHERE id = $3 AND user_id = $4`,
		a.Name, a.Instruction, a.ID, a.UserID)
	return err
}

// Delete removes an agent owned by the user.
func (r *Repository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1 AND user_id = $2`, id, userID)
	return err
}
