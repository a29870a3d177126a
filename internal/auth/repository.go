package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/database"
)

// Repository handles user persistence.
type Repository struct {
	db database.DB
}

// NewRepository creates an auth repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, email, password_hash, full_name, created_at, updated_at`

func scanUser(row pgx.Row, u *models.User) error {
	return row.Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id), &u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email), &u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// Create inserts a new user. A taken email is a ConflictError.
func (r *Repository) Create(ctx context.Context, email, passwordHash, fullName string) (*models.User, error) {
	const q = `INSERT INTO users (email, password_hash, full_name)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns
	var u models.User
	err := scanUser(r.db.QueryRow(ctx, q, email, passwordHash, fullName), &u)
	if database.IsUniqueViolation(err) {
		return nil, &apperrors.ConflictError{Resource: "user", Message: "email already registered", Err: database.ErrUniqueViolation}
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}
