package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/infra"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const walletEntryColumns = `id, player_id, client_id, kind, amount, balance_before, balance_after,
		       provider, external_transaction_id, round_id, metadata, created_at`

type walletEntryRepo struct{}

// NewWalletEntryRepository returns a pgx-backed WalletEntryRepository.
func NewWalletEntryRepository() WalletEntryRepository {
	return &walletEntryRepo{}
}

func (r *walletEntryRepo) FindExisting(ctx context.Context, db DBTX, key domain.WalletKey) (*domain.WalletEntry, error) {
	row := db.QueryRow(ctx, `
		SELECT `+walletEntryColumns+`
		FROM wallet_entries
		WHERE player_id = $1 AND provider = $2
		  AND external_transaction_id = $3 AND kind = $4`,
		key.PlayerID, string(key.Provider), key.ExternalTransactionID, string(key.Kind))
	return scanWalletEntry(row)
}

func (r *walletEntryRepo) Insert(ctx context.Context, db DBTX, entry *domain.WalletEntry) (*domain.WalletEntry, error) {
	meta := entry.Metadata
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}

	row := db.QueryRow(ctx, `
		INSERT INTO wallet_entries
		  (player_id, client_id, kind, amount, balance_before, balance_after,
		   provider, external_transaction_id, round_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+walletEntryColumns,
		entry.PlayerID,
		entry.ClientID,
		string(entry.Kind),
		infra.DecimalToNumeric(entry.Amount),
		infra.DecimalToNumeric(entry.BalanceBefore),
		infra.DecimalToNumeric(entry.BalanceAfter),
		string(entry.Provider),
		entry.ExternalTransactionID,
		entry.RoundID,
		meta,
	)
	inserted, err := scanWalletEntry(row)
	if err != nil {
		return nil, fmt.Errorf("insert wallet entry: %w", err)
	}
	return inserted, nil
}

func (r *walletEntryRepo) Latest(ctx context.Context, db DBTX, playerID uuid.UUID) (*domain.WalletEntry, error) {
	row := db.QueryRow(ctx, `
		SELECT `+walletEntryColumns+`
		FROM wallet_entries
		WHERE player_id = $1
		ORDER BY seq DESC
		LIMIT 1`, playerID)
	return scanWalletEntry(row)
}

func (r *walletEntryRepo) Count(ctx context.Context, db DBTX, playerID uuid.UUID) (int, error) {
	var n int
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM wallet_entries WHERE player_id = $1`, playerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count wallet entries: %w", err)
	}
	return n, nil
}

func scanWalletEntry(row pgx.Row) (*domain.WalletEntry, error) {
	var e domain.WalletEntry
	var amountNum, beforeNum, afterNum pgtype.Numeric
	err := row.Scan(
		&e.ID, &e.PlayerID, &e.ClientID, &e.Kind,
		&amountNum, &beforeNum, &afterNum,
		&e.Provider, &e.ExternalTransactionID, &e.RoundID, &e.Metadata, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan wallet entry: %w", err)
	}

	if e.Amount, err = infra.NumericToDecimal(amountNum); err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}
	if e.BalanceBefore, err = infra.NumericToDecimal(beforeNum); err != nil {
		return nil, fmt.Errorf("convert balance_before: %w", err)
	}
	if e.BalanceAfter, err = infra.NumericToDecimal(afterNum); err != nil {
		return nil, fmt.Errorf("convert balance_after: %w", err)
	}
	return &e, nil
}
