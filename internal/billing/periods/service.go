package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// Accounts looks up when an owner registered.
type Accounts interface {
	RegistrationDate(ctx context.Context, ownerID string) (time.Time, error)
}

// PGAccounts reads billing_accounts. Unknown owners have no registration floor.
type PGAccounts struct {
	pool *pgxpool.Pool
}

// NewAccounts builds the Postgres accounts lookup.
func NewAccounts(pool *pgxpool.Pool) *PGAccounts {
	return &PGAccounts{pool: pool}
}

func (a *PGAccounts) RegistrationDate(ctx context.Context, ownerID string) (time.Time, error) {
	var registered time.Time
	err := a.pool.QueryRow(ctx, `SELECT registered_at FROM billing_accounts WHERE owner_id = $1`, ownerID).Scan(&registered)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("periods: registration date: %w", err)
	}
	return registered, nil
}

// Service computes periods for an owner.
type Service struct {
	accounts Accounts
	clock    func() time.Time
}

// NewService wires the calculator to its inputs. A nil clock uses time.Now.
func NewService(accounts Accounts, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{accounts: accounts, clock: clock}
}

// Periods returns the owner's periods of year.
func (s *Service) Periods(ctx context.Context, ownerID string, year int, granularity Granularity) ([]Period, error) {
	if year < 1900 || year > 9999 {
		return nil, fmt.Errorf("%w: year %d out of range", shared.ErrValidation, year)
	}
	var registration time.Time
	if s.accounts != nil {
		var err error
		registration, err = s.accounts.RegistrationDate(ctx, ownerID)
		if err != nil {
			return nil, err
		}
	}
	return Calculate(year, granularity, s.clock(), registration), nil
}
