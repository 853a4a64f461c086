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

const roundColumns = `id, provider, round_id, player_id, client_id, game_id,
		       stake, winnings, status, closed, created_at, updated_at`

type roundRepo struct{}

// NewRoundRepository returns a pgx-backed RoundRepository.
func NewRoundRepository() RoundRepository {
	return &roundRepo{}
}

func (r *roundRepo) FindByRoundID(ctx context.Context, db DBTX, provider domain.Provider, roundID string) (*domain.GameRound, error) {
	row := db.QueryRow(ctx, `
		SELECT `+roundColumns+`
		FROM game_rounds WHERE provider = $1 AND round_id = $2`,
		string(provider), roundID)
	return scanRound(row)
}

func (r *roundRepo) LockByRoundID(ctx context.Context, tx pgx.Tx, provider domain.Provider, roundID string) (*domain.GameRound, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+roundColumns+`
		FROM game_rounds WHERE provider = $1 AND round_id = $2
		FOR UPDATE`,
		string(provider), roundID)
	return scanRound(row)
}

func (r *roundRepo) Open(ctx context.Context, db DBTX, params domain.PlaceBetParams) error {
	_, err := db.Exec(ctx, `
		INSERT INTO game_rounds (provider, round_id, player_id, client_id, game_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, round_id) DO NOTHING`,
		string(params.Provider),
		params.RoundID,
		params.PlayerID,
		params.ClientID,
		params.GameID,
		string(domain.RoundPending),
	)
	if err != nil {
		return fmt.Errorf("open round: %w", err)
	}
	return nil
}

func (r *roundRepo) Update(ctx context.Context, db DBTX, round *domain.GameRound) error {
	_, err := db.Exec(ctx, `
		UPDATE game_rounds
		SET stake = $2, winnings = $3, status = $4, closed = $5, updated_at = now()
		WHERE id = $1`,
		round.ID,
		infra.DecimalToNumeric(round.Stake),
		infra.DecimalToNumeric(round.Winnings),
		string(round.Status),
		round.Closed,
	)
	if err != nil {
		return fmt.Errorf("update round: %w", err)
	}
	return nil
}

func (r *roundRepo) DeleteEmpty(ctx context.Context, db DBTX, id uuid.UUID) error {
	_, err := db.Exec(ctx, `
		DELETE FROM game_rounds g
		WHERE g.id = $1 AND g.closed = false
		  AND NOT EXISTS (
		    SELECT 1 FROM round_bets b WHERE b.provider = g.provider AND b.round_id = g.round_id)
		  AND NOT EXISTS (
		    SELECT 1 FROM round_settlements s WHERE s.provider = g.provider AND s.round_id = g.round_id)`,
		id)
	if err != nil {
		return fmt.Errorf("delete empty round: %w", err)
	}
	return nil
}

func scanRound(row pgx.Row) (*domain.GameRound, error) {
	var g domain.GameRound
	var stakeNum, winNum pgtype.Numeric
	err := row.Scan(
		&g.ID, &g.Provider, &g.RoundID, &g.PlayerID, &g.ClientID, &g.GameID,
		&stakeNum, &winNum, &g.Status, &g.Closed, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan round: %w", err)
	}

	if g.Stake, err = infra.NumericToDecimal(stakeNum); err != nil {
		return nil, fmt.Errorf("convert stake: %w", err)
	}
	if g.Winnings, err = infra.NumericToDecimal(winNum); err != nil {
		return nil, fmt.Errorf("convert winnings: %w", err)
	}
	return &g, nil
}

// --- round_bets ---

const betColumns = `b.id, b.provider, b.round_id, b.transaction_id, b.player_id, b.client_id, b.game_id,
		       b.stake, b.status, g.closed, b.created_at, b.updated_at`

type betRepo struct{}

// NewBetRepository returns a pgx-backed BetRepository.
func NewBetRepository() BetRepository {
	return &betRepo{}
}

func (r *betRepo) FindByTransactionID(ctx context.Context, db DBTX, provider domain.Provider, txID string) (*domain.Bet, error) {
	row := db.QueryRow(ctx, `
		SELECT `+betColumns+`
		FROM round_bets b
		JOIN game_rounds g ON g.provider = b.provider AND g.round_id = b.round_id
		WHERE b.provider = $1 AND b.transaction_id = $2`,
		string(provider), txID)
	return scanBet(row)
}

func (r *betRepo) Insert(ctx context.Context, db DBTX, params domain.PlaceBetParams) (*domain.Bet, error) {
	row := db.QueryRow(ctx, `
		WITH b AS (
		  INSERT INTO round_bets
		    (provider, round_id, transaction_id, player_id, client_id, game_id, stake, status)
		  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		  ON CONFLICT (provider, transaction_id) DO NOTHING
		  RETURNING *
		)
		SELECT `+betColumns+`
		FROM b JOIN game_rounds g ON g.provider = b.provider AND g.round_id = b.round_id`,
		string(params.Provider),
		params.RoundID,
		params.TransactionID,
		params.PlayerID,
		params.ClientID,
		params.GameID,
		infra.DecimalToNumeric(params.Stake),
		string(domain.BetPending),
	)
	bet, err := scanBet(row)
	if err != nil {
		return nil, fmt.Errorf("insert bet: %w", err)
	}
	return bet, nil
}

func (r *betRepo) SetStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.BetStatus) error {
	_, err := db.Exec(ctx, `UPDATE round_bets SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("set bet status: %w", err)
	}
	return nil
}

func (r *betRepo) SettlePending(ctx context.Context, db DBTX, provider domain.Provider, roundID string) error {
	_, err := db.Exec(ctx, `
		UPDATE round_bets SET status = $3, updated_at = now()
		WHERE provider = $1 AND round_id = $2 AND status = $4`,
		string(provider), roundID, string(domain.BetSettled), string(domain.BetPending))
	if err != nil {
		return fmt.Errorf("settle pending bets: %w", err)
	}
	return nil
}

func (r *betRepo) CountActive(ctx context.Context, db DBTX, provider domain.Provider, roundID string) (int, error) {
	var n int
	err := db.QueryRow(ctx, `
		SELECT count(*) FROM round_bets
		WHERE provider = $1 AND round_id = $2 AND status <> $3`,
		string(provider), roundID, string(domain.BetCancelled)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active bets: %w", err)
	}
	return n, nil
}

func (r *betRepo) DeletePending(ctx context.Context, db DBTX, id uuid.UUID) (bool, error) {
	tag, err := db.Exec(ctx, `DELETE FROM round_bets WHERE id = $1 AND status = $2`, id, string(domain.BetPending))
	if err != nil {
		return false, fmt.Errorf("delete pending bet: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanBet(row pgx.Row) (*domain.Bet, error) {
	var b domain.Bet
	var stakeNum pgtype.Numeric
	err := row.Scan(
		&b.ID, &b.Provider, &b.RoundID, &b.TransactionID, &b.PlayerID, &b.ClientID, &b.GameID,
		&stakeNum, &b.Status, &b.RoundClosed, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan bet: %w", err)
	}
	if b.Stake, err = infra.NumericToDecimal(stakeNum); err != nil {
		return nil, fmt.Errorf("convert stake: %w", err)
	}
	return &b, nil
}

// --- round_settlements ---

type settlementRepo struct{}

// NewSettlementRepository returns a pgx-backed SettlementRepository.
func NewSettlementRepository() SettlementRepository {
	return &settlementRepo{}
}

func (r *settlementRepo) ListByRound(ctx context.Context, db DBTX, provider domain.Provider, roundID string) ([]string, error) {
	rows, err := db.Query(ctx, `
		SELECT transaction_id FROM round_settlements
		WHERE provider = $1 AND round_id = $2
		ORDER BY created_at`,
		string(provider), roundID)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	return ids, nil
}

func (r *settlementRepo) Insert(ctx context.Context, db DBTX, provider domain.Provider, roundID, txID string, winnings decimal.Decimal) (bool, error) {
	tag, err := db.Exec(ctx, `
		INSERT INTO round_settlements (provider, transaction_id, round_id, winnings)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, transaction_id) DO NOTHING`,
		string(provider), txID, roundID, infra.DecimalToNumeric(winnings))
	if err != nil {
		return false, fmt.Errorf("insert settlement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
