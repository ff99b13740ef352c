package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/novameet/backend/internal/models"
)

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT id, email, password_hash, full_name, is_admin, tokens,
		COALESCE(google_refresh_token,''), created_at, updated_at
		FROM users WHERE id = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Password, &u.FullName,
		&u.IsAdmin, &u.Tokens, &u.GoogleRefreshToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT id, email, password_hash, full_name, is_admin, tokens,
		COALESCE(google_refresh_token,''), created_at, updated_at
		FROM users WHERE email = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.Password, &u.FullName,
		&u.IsAdmin, &u.Tokens, &u.GoogleRefreshToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user.
func (r *Repository) Create(ctx context.Context, email, passwordHash, fullName string) (*models.User, error) {
	const q = `INSERT INTO users (email, password_hash, full_name)
		VALUES ($1, $2, $3)
		RETURNING id, email, password_hash, full_name, is_admin, tokens,
		COALESCE(google_refresh_token,''), created_at, updated_at`
	var u models.User
	err := r.pool.QueryRow(ctx, q, email, passwordHash, fullName).
		Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.IsAdmin, &u.Tokens,
			&u.GoogleRefreshToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns all users, newest first.
func (r *Repository) List(ctx context.Context) ([]models.User, error) {
	const q = `SELECT id, email, password_hash, full_name, is_admin, tokens,
		COALESCE(google_refresh_token,''), created_at, updated_at
		FROM users ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.IsAdmin, &u.Tokens,
			&u.GoogleRefreshToken, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetGoogleRefreshToken returns the stored Google OAuth refresh token for a user, or empty.
func (r *Repository) GetGoogleRefreshToken(ctx context.Context, userID uuid.UUID) (string, error) {
	const q = `SELECT COALESCE(google_refresh_token,'') FROM users WHERE id = $1`
	var token string
	if err := r.pool.QueryRow(ctx, q, userID).Scan(&token); err != nil {
		return "", err
	}
	return token, nil
}

// SetGoogleRefreshToken stores the Google OAuth refresh token for a user.
func (r *Repository) SetGoogleRefreshToken(ctx context.Context, userID uuid.UUID, token string) error {
	const q = `UPDATE users SET google_refresh_token = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, token, userID)
	return err
}
