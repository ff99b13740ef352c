package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNoPlan means the user has no active plan reference.
	ErrNoPlan = errors.New("user does not have a plan")
	// ErrPlanNotFound means the referenced plan row is missing.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrUserNotFound means the user row is missing.
	ErrUserNotFound = errors.New("user not found")
)

// DB is the subset of pgxpool.Pool the ledger needs.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Costs reports a user's plan costs and current token balance.
type Costs struct {
	MeetingCost int `json:"meeting_cost"`
	AgentCost   int `json:"agent_cost"`
	Tokens      int `json:"tokens"`
}

// Ledger tracks per-user token balances and per-plan costs.
type Ledger struct {
	db DB
}

// New creates a ledger over the given database.
func New(db DB) *Ledger {
	return &Ledger{db: db}
}

// GetCostAndBalance resolves the user's plan, its costs, and the user's balance.
func (l *Ledger) GetCostAndBalance(ctx context.Context, userID uuid.UUID) (*Costs, error) {
	var planID uuid.UUID
	err := l.db.QueryRow(ctx, `SELECT plan_id FROM user_plans WHERE user_id = $1`, userID).Scan(&planID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoPlan
		}
		return nil, fmt.Errorf("query user plan: %w", err)
	}

	var costs Costs
	err = l.db.QueryRow(ctx, `SELECT meeting_cost, agent_cost FROM plans WHERE id = $1`, planID).
		Scan(&costs.MeetingCost, &costs.AgentCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("query plan: %w", err)
	}

	err = l.db.QueryRow(ctx, `SELECT tokens FROM users WHERE id = $1`, userID).Scan(&costs.Tokens)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user tokens: %w", err)
	}

	return &costs, nil
}

// TrySpend debits amount from the user's balance if sufficient, reporting
// whether the debit happened. The check and decrement are a single
// conditional UPDATE so concurrent debits cannot drive the balance negative.
func (l *Ledger) TrySpend(ctx context.Context, userID uuid.UUID, amount int) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("negative amount: %d", amount)
	}
	tag, err := l.db.Exec(ctx,
		`UPDATE users SET tokens = tokens - $1, updated_at = NOW() WHERE id = $2 AND tokens >= $1`,
		amount, userID)
	if err != nil {
		return false, fmt.Errorf("debit tokens: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
