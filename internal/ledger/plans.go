package ledger

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/novameet/backend/internal/models"
)

// PlanRepository reads the plan catalog.
type PlanRepository struct {
	pool *pgxpool.Pool
}

// NewPlanRepository creates a plan repository.
func NewPlanRepository(pool *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{pool: pool}
}

// ListPlans returns all plans, cheapest first.
func (r *PlanRepository) ListPlans(ctx context.Context) ([]models.Plan, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, tokens, meeting_cost, agent_cost, created_at, updated_at
		 FROM plans ORDER BY tokens ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		var p models.Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.Tokens, &p.MeetingCost, &p.AgentCost, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}
