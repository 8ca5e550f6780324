package postgres

import (
	"context"
	"errors"
	"fmt"

	"casino-ewallet/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CasinoAccountRepo reads the casino identity stored on the users table.
type CasinoAccountRepo struct {
	pool Pool
}

func NewCasinoAccountRepo(pool Pool) *CasinoAccountRepo {
	return &CasinoAccountRepo{pool: pool}
}

func (r *CasinoAccountRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.CasinoAccount, error) {
	query := `SELECT id, username, casino_username, casino_client_id FROM users WHERE id = $1`

	a := &domain.CasinoAccount{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(&a.UserID, &a.Username, &a.CasinoUsername, &a.CasinoClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get casino account: %w", err)
	}
	return a, nil
}
