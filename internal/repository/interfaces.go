package repository

import (
	"context"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// CallbackLogRepository provides access to callback_logs.
type CallbackLogRepository interface {
	// Claim inserts a non-terminal row for key. If a non-terminal row already
	// exists and was last touched more than lease ago, it is taken over.
	// claimed is false when another row holds the key; that row is returned.
	Claim(ctx context.Context, db DBTX, key domain.CallbackKey, request []byte, lease time.Duration) (claimed bool, existing *domain.CallbackLog, err error)

	// Find returns the row for key, or nil.
	Find(ctx context.Context, db DBTX, key domain.CallbackKey) (*domain.CallbackLog, error)

	// Finalize stores the response with its outcome kind and flips terminal.
	// It reports false when the row was already terminal or no longer exists.
	Finalize(ctx context.Context, db DBTX, key domain.CallbackKey, response []byte, outcome domain.ErrorKind) (bool, error)

	// Release expires the lease on a non-terminal row so the next Claim takes
	// it over. Rows are never deleted.
	Release(ctx context.Context, db DBTX, key domain.CallbackKey) error
}

// ProviderClientRepository provides access to provider_clients.
type ProviderClientRepository interface {
	Find(ctx context.Context, db DBTX, provider domain.Provider, clientID int64) (*domain.ProviderClient, error)
}

// PlayerRepository provides access to players.
type PlayerRepository interface {
	// FindByID returns a player by ID.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Player, error)

	// LockForUpdate acquires a row-level lock (SELECT FOR UPDATE) and returns the player.
	LockForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Player, error)

	// Create inserts a new player.
	Create(ctx context.Context, db DBTX, player *domain.Player) error

	// AdjustBalance applies delta with server-side arithmetic and returns the updated row.
	AdjustBalance(ctx context.Context, tx pgx.Tx, playerID uuid.UUID, delta decimal.Decimal) (*domain.Player, error)
}

// WalletEntryRepository provides access to wallet_entries.
type WalletEntryRepository interface {
	// FindExisting checks the idempotency index for a duplicate entry.
	FindExisting(ctx context.Context, db DBTX, key domain.WalletKey) (*domain.WalletEntry, error)

	// Insert appends an entry with its before/after balance snapshot.
	Insert(ctx context.Context, db DBTX, entry *domain.WalletEntry) (*domain.WalletEntry, error)

	// Latest returns the player's most recent entry, or nil for an empty ledger.
	Latest(ctx context.Context, db DBTX, playerID uuid.UUID) (*domain.WalletEntry, error)

	// Count returns the number of entries for the player.
	Count(ctx context.Context, db DBTX, playerID uuid.UUID) (int, error)
}

// RoundRepository provides access to game_rounds.
type RoundRepository interface {
	FindByRoundID(ctx context.Context, db DBTX, provider domain.Provider, roundID string) (*domain.GameRound, error)

	// LockByRoundID locks the round row for the rest of tx.
	LockByRoundID(ctx context.Context, tx pgx.Tx, provider domain.Provider, roundID string) (*domain.GameRound, error)

	// Open creates the round for a first bet. It is a no-op when the round exists.
	Open(ctx context.Context, db DBTX, params domain.PlaceBetParams) error

	// Update persists stake, winnings, status and closed.
	Update(ctx context.Context, db DBTX, round *domain.GameRound) error

	// DeleteEmpty removes an open round that has no bets left.
	DeleteEmpty(ctx context.Context, db DBTX, id uuid.UUID) error
}

// BetRepository provides access to round_bets.
type BetRepository interface {
	// FindByTransactionID returns the bet with its round's closed flag.
	FindByTransactionID(ctx context.Context, db DBTX, provider domain.Provider, txID string) (*domain.Bet, error)

	// Insert records a pending bet. It returns nil when the transaction id is taken.
	Insert(ctx context.Context, db DBTX, params domain.PlaceBetParams) (*domain.Bet, error)

	SetStatus(ctx context.Context, db DBTX, id uuid.UUID, status domain.BetStatus) error

	// SettlePending marks every pending bet of the round settled.
	SettlePending(ctx context.Context, db DBTX, provider domain.Provider, roundID string) error

	// CountActive counts the round's bets that are not cancelled.
	CountActive(ctx context.Context, db DBTX, provider domain.Provider, roundID string) (int, error)

	DeletePending(ctx context.Context, db DBTX, id uuid.UUID) (bool, error)
}

// SettlementRepository provides access to round_settlements.
type SettlementRepository interface {
	// ListByRound returns the win transaction ids applied to the round.
	ListByRound(ctx context.Context, db DBTX, provider domain.Provider, roundID string) ([]string, error)

	// Insert records a win transaction. It reports false when the id is taken.
	Insert(ctx context.Context, db DBTX, provider domain.Provider, roundID, txID string, winnings decimal.Decimal) (bool, error)
}

// SessionRepository provides access to player_sessions.
type SessionRepository interface {
	Create(ctx context.Context, db DBTX, s *domain.Session) error
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Session, error)

	// ConsumeAuthCode marks an unexpired, unused code as used, starts the
	// session lifetime and returns the session. It returns nil for unknown codes.
	ConsumeAuthCode(ctx context.Context, db DBTX, code string, clientID int64, now, expiresAt time.Time) (*domain.Session, error)

	// Revoke sets revoked_at once. It reports false when already revoked.
	Revoke(ctx context.Context, db DBTX, id uuid.UUID, now time.Time) (bool, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the ledger entry).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events for the outbox poller.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxRow, error)

	// MarkPublished stamps publishedAt on the given rows.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}
