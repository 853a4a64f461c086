package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const callbackLogColumns = `id, provider, action, transaction_id, request_payload,
		       response_payload, outcome, terminal, created_at, updated_at`

type callbackLogRepo struct{}

// NewCallbackLogRepository returns a pgx-backed CallbackLogRepository.
func NewCallbackLogRepository() CallbackLogRepository {
	return &callbackLogRepo{}
}

func (r *callbackLogRepo) Claim(ctx context.Context, db DBTX, key domain.CallbackKey, request []byte, lease time.Duration) (bool, *domain.CallbackLog, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO callback_logs (provider, action, transaction_id, request_payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, action, transaction_id) DO NOTHING
		RETURNING `+callbackLogColumns,
		string(key.Provider), string(key.Action), key.TransactionID, request)
	claimed, err := scanCallbackLog(row)
	if err != nil {
		return false, nil, fmt.Errorf("insert callback log: %w", err)
	}
	if claimed != nil {
		return true, claimed, nil
	}

	// A holder that stopped touching its row for longer than the lease is
	// presumed dead.
	row = db.QueryRow(ctx, `
		UPDATE callback_logs
		SET request_payload = $4, updated_at = now()
		WHERE provider = $1 AND action = $2 AND transaction_id = $3
		  AND terminal = false
		  AND updated_at < now() - make_interval(secs => $5)
		RETURNING `+callbackLogColumns,
		string(key.Provider), string(key.Action), key.TransactionID, request, lease.Seconds())
	taken, err := scanCallbackLog(row)
	if err != nil {
		return false, nil, fmt.Errorf("take over callback log: %w", err)
	}
	if taken != nil {
		return true, taken, nil
	}

	existing, err := r.Find(ctx, db, key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *callbackLogRepo) Find(ctx context.Context, db DBTX, key domain.CallbackKey) (*domain.CallbackLog, error) {
	row := db.QueryRow(ctx, `
		SELECT `+callbackLogColumns+`
		FROM callback_logs
		WHERE provider = $1 AND action = $2 AND transaction_id = $3`,
		string(key.Provider), string(key.Action), key.TransactionID)
	l, err := scanCallbackLog(row)
	if err != nil {
		return nil, fmt.Errorf("find callback log: %w", err)
	}
	return l, nil
}

func (r *callbackLogRepo) Finalize(ctx context.Context, db DBTX, key domain.CallbackKey, response []byte, outcome domain.ErrorKind) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE callback_logs
		SET response_payload = $4, outcome = $5, terminal = true, updated_at = now()
		WHERE provider = $1 AND action = $2 AND transaction_id = $3 AND terminal = false`,
		string(key.Provider), string(key.Action), key.TransactionID, response, string(outcome))
	if err != nil {
		return false, fmt.Errorf("finalize callback log: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *callbackLogRepo) Release(ctx context.Context, db DBTX, key domain.CallbackKey) error {
	_, err := db.Exec(ctx, `
		UPDATE callback_logs SET updated_at = to_timestamp(0)
		WHERE provider = $1 AND action = $2 AND transaction_id = $3 AND terminal = false`,
		string(key.Provider), string(key.Action), key.TransactionID)
	if err != nil {
		return fmt.Errorf("release callback log: %w", err)
	}
	return nil
}

func scanCallbackLog(row pgx.Row) (*domain.CallbackLog, error) {
	var l domain.CallbackLog
	err := row.Scan(&l.ID, &l.Provider, &l.Action, &l.TransactionID, &l.RequestPayload,
		&l.ResponsePayload, &l.Outcome, &l.Terminal, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// CallbackLogStore binds the callback log repository to a pool and writes
// the callback.finalized outbox event in the finalizing transaction.
type CallbackLogStore struct {
	pool   *pgxpool.Pool
	logs   CallbackLogRepository
	outbox OutboxRepository
}

// NewCallbackLogStore creates a pool-bound callback log store.
func NewCallbackLogStore(pool *pgxpool.Pool, logs CallbackLogRepository, outbox OutboxRepository) *CallbackLogStore {
	return &CallbackLogStore{pool: pool, logs: logs, outbox: outbox}
}

func (s *CallbackLogStore) Claim(ctx context.Context, key domain.CallbackKey, request []byte, lease time.Duration) (bool, *domain.CallbackLog, error) {
	return s.logs.Claim(ctx, s.pool, key, request, lease)
}

func (s *CallbackLogStore) Find(ctx context.Context, key domain.CallbackKey) (*domain.CallbackLog, error) {
	return s.logs.Find(ctx, s.pool, key)
}

func (s *CallbackLogStore) Finalize(ctx context.Context, key domain.CallbackKey, response []byte, outcome domain.ErrorKind, event domain.OutboxDraft) (bool, error) {
	var finalized bool
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var err error
		finalized, err = s.logs.Finalize(ctx, tx, key, response, outcome)
		if err != nil || !finalized {
			return err
		}
		return s.outbox.Insert(ctx, tx, event)
	})
	if err != nil {
		return false, err
	}
	return finalized, nil
}

func (s *CallbackLogStore) Release(ctx context.Context, key domain.CallbackKey) error {
	return s.logs.Release(ctx, s.pool, key)
}
