package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/jackc/pgx/v5"
)

type providerClientRepo struct{}

// NewProviderClientRepository returns a pgx-backed ProviderClientRepository.
func NewProviderClientRepository() ProviderClientRepository {
	return &providerClientRepo{}
}

func (r *providerClientRepo) Find(ctx context.Context, db DBTX, provider domain.Provider, clientID int64) (*domain.ProviderClient, error) {
	var c domain.ProviderClient
	err := db.QueryRow(ctx, `
		SELECT client_id, provider, secret_key, pass_key, currency, active
		FROM provider_clients
		WHERE provider = $1 AND client_id = $2`,
		string(provider), clientID).
		Scan(&c.ClientID, &c.Provider, &c.SecretKey, &c.PassKey, &c.Currency, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find provider client: %w", err)
	}
	return &c, nil
}

// ClientDirectory binds the provider client repository to a connection.
type ClientDirectory struct {
	db   DBTX
	repo ProviderClientRepository
}

// NewClientDirectory creates a directory reading from db.
func NewClientDirectory(db DBTX) *ClientDirectory {
	return &ClientDirectory{db: db, repo: NewProviderClientRepository()}
}

func (d *ClientDirectory) Find(ctx context.Context, provider domain.Provider, clientID int64) (*domain.ProviderClient, error) {
	return d.repo.Find(ctx, d.db, provider, clientID)
}
