package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// PendingEntryStore persists trigger orders awaiting their entry price.
type PendingEntryStore struct {
	client *Client
}

// NewPendingEntryStore creates a PendingEntryStore backed by the given client.
func NewPendingEntryStore(client *Client) *PendingEntryStore {
	return &PendingEntryStore{client: client}
}

var _ domain.PendingEntryStore = (*PendingEntryStore)(nil)

const pendingEntryColumns = `
	id, symbol, exchange, scrip_code, instrument_type, strike_price,
	option_type, expiry, quantity, entry_price, stop_loss,
	target1, target2, target3, trailing_stop, intraday,
	credential_id, status, created_at`

func scanPendingEntry(row pgx.Row) (domain.PendingEntry, error) {
	var pe domain.PendingEntry
	err := row.Scan(
		&pe.ID, &pe.Symbol, &pe.Instrument.Exchange, &pe.Instrument.ScripCode,
		&pe.InstrumentType, &pe.StrikePrice, &pe.OptionType, &pe.Expiry,
		&pe.Quantity, &pe.EntryPrice, &pe.StopLoss,
		&pe.Target1, &pe.Target2, &pe.Target3, &pe.TrailingStop, &pe.Intraday,
		&pe.CredentialID, &pe.Status, &pe.CreatedAt,
	)
	return pe, err
}

// Create inserts a new pending entry.
func (s *PendingEntryStore) Create(ctx context.Context, pe domain.PendingEntry) error {
	query := `
		INSERT INTO pending_entries (
			id, symbol, exchange, scrip_code, instrument_type, strike_price,
			option_type, expiry, quantity, entry_price, stop_loss,
			target1, target2, target3, trailing_stop, intraday,
			credential_id, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19
		)`

	_, err := s.client.pool.Exec(ctx, query,
		pe.ID, pe.Symbol, pe.Instrument.Exchange, pe.Instrument.ScripCode,
		pe.InstrumentType, pe.StrikePrice, pe.OptionType, pe.Expiry,
		pe.Quantity, pe.EntryPrice, pe.StopLoss,
		pe.Target1, pe.Target2, pe.Target3, pe.TrailingStop, pe.Intraday,
		pe.CredentialID, pe.Status, pe.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create pending entry: %w", err)
	}
	return nil
}

// GetByID fetches a single pending entry.
func (s *PendingEntryStore) GetByID(ctx context.Context, id string) (domain.PendingEntry, error) {
	query := `SELECT ` + pendingEntryColumns + ` FROM pending_entries WHERE id = $1`

	pe, err := scanPendingEntry(s.client.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PendingEntry{}, domain.ErrNotFound
		}
		return domain.PendingEntry{}, fmt.Errorf("postgres: get pending entry: %w", err)
	}
	return pe, nil
}

// ListAwaiting returns all awaiting entries for a scrip code.
func (s *PendingEntryStore) ListAwaiting(ctx context.Context, scripCode int) ([]domain.PendingEntry, error) {
	query := `SELECT ` + pendingEntryColumns + `
		FROM pending_entries
		WHERE scrip_code = $1 AND status = $2
		ORDER BY created_at`

	rows, err := s.client.pool.Query(ctx, query, scripCode, domain.StatusAwaitingEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: list awaiting entries: %w", err)
	}
	defer rows.Close()

	return collectPendingEntries(rows)
}

// ListAllAwaiting returns every awaiting entry regardless of scrip.
func (s *PendingEntryStore) ListAllAwaiting(ctx context.Context) ([]domain.PendingEntry, error) {
	query := `SELECT ` + pendingEntryColumns + `
		FROM pending_entries
		WHERE status = $1
		ORDER BY created_at`

	rows, err := s.client.pool.Query(ctx, query, domain.StatusAwaitingEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: list all awaiting entries: %w", err)
	}
	defer rows.Close()

	return collectPendingEntries(rows)
}

func collectPendingEntries(rows pgx.Rows) ([]domain.PendingEntry, error) {
	var out []domain.PendingEntry
	for rows.Next() {
		pe, err := scanPendingEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pending entry: %w", err)
		}
		out = append(out, pe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate pending entries: %w", err)
	}
	return out, nil
}

// Delete removes a pending entry by id.
func (s *PendingEntryStore) Delete(ctx context.Context, id string) error {
	tag, err := s.client.pool.Exec(ctx, "DELETE FROM pending_entries WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete pending entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAll removes every pending entry. Used by the intraday closer.
func (s *PendingEntryStore) DeleteAll(ctx context.Context) error {
	if _, err := s.client.pool.Exec(ctx, "DELETE FROM pending_entries"); err != nil {
		return fmt.Errorf("postgres: delete all pending entries: %w", err)
	}
	return nil
}
