package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type playerRepo struct{}

// NewPlayerRepository returns a pgx-backed PlayerRepository.
func NewPlayerRepository() PlayerRepository {
	return &playerRepo{}
}

func (r *playerRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Player, error) {
	row := db.QueryRow(ctx, `
		SELECT id, client_id, username, currency, player_group, balance, created_at, updated_at
		FROM players WHERE id = $1`, id)
	return scanPlayer(row)
}

func (r *playerRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Player, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, client_id, username, currency, player_group, balance, created_at, updated_at
		FROM players WHERE id = $1 FOR UPDATE`, id)
	return scanPlayer(row)
}

func (r *playerRepo) Create(ctx context.Context, db DBTX, player *domain.Player) error {
	_, err := db.Exec(ctx, `
		INSERT INTO players (id, client_id, username, currency, player_group, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		player.ID,
		player.ClientID,
		player.Username,
		player.Currency,
		player.Group,
		infra.DecimalToNumeric(player.Balance),
		player.CreatedAt,
		player.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

// AdjustBalance uses server-side arithmetic so the row lock is the only
// serialisation point.
func (r *playerRepo) AdjustBalance(ctx context.Context, tx pgx.Tx, playerID uuid.UUID, delta decimal.Decimal) (*domain.Player, error) {
	row := tx.QueryRow(ctx, `
		UPDATE players SET balance = balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING id, client_id, username, currency, player_group, balance, created_at, updated_at`,
		infra.DecimalToNumeric(delta), playerID)
	p, err := scanPlayer(row)
	if err != nil {
		return nil, fmt.Errorf("adjust balance: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("adjust balance: player %s not found", playerID)
	}
	return p, nil
}

func scanPlayer(row pgx.Row) (*domain.Player, error) {
	var p domain.Player
	var balNum pgtype.Numeric
	err := row.Scan(&p.ID, &p.ClientID, &p.Username, &p.Currency, &p.Group, &balNum, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan player: %w", err)
	}

	p.Balance, err = infra.NumericToDecimal(balNum)
	if err != nil {
		return nil, fmt.Errorf("convert balance: %w", err)
	}
	return &p, nil
}
