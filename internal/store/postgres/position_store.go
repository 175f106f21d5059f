package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

// PositionStore persists positions and drives their status transitions.
type PositionStore struct {
	client *Client
}

// NewPositionStore creates a PositionStore backed by the given client.
func NewPositionStore(client *Client) *PositionStore {
	return &PositionStore{client: client}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	id, symbol, exchange, scrip_code, instrument_type, strike_price,
	option_type, expiry, quantity, entry_price, stop_loss,
	target1, target2, target3, trailing_stop, intraday,
	credential_id, customer_id, order_id, exit_order_id, exit_reason,
	exit_price, pnl, status, triggered_at, entry_at, exited_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.ID, &p.Symbol, &p.Instrument.Exchange, &p.Instrument.ScripCode,
		&p.InstrumentType, &p.StrikePrice, &p.OptionType, &p.Expiry,
		&p.Quantity, &p.EntryPrice, &p.StopLoss,
		&p.Target1, &p.Target2, &p.Target3, &p.TrailingStop, &p.Intraday,
		&p.CredentialID, &p.CustomerID, &p.OrderID, &p.ExitOrderID, &p.ExitReason,
		&p.ExitPrice, &p.PnL, &p.Status, &p.TriggeredAt, &p.EntryAt, &p.ExitedAt,
	)
	return p, err
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	query := `
		INSERT INTO positions (
			id, symbol, exchange, scrip_code, instrument_type, strike_price,
			option_type, expiry, quantity, entry_price, stop_loss,
			target1, target2, target3, trailing_stop, intraday,
			credential_id, customer_id, order_id, exit_order_id, exit_reason,
			exit_price, pnl, status, triggered_at, entry_at, exited_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
			$22, $23, $24, $25, $26, $27
		)`

	_, err := s.client.pool.Exec(ctx, query,
		p.ID, p.Symbol, p.Instrument.Exchange, p.Instrument.ScripCode,
		p.InstrumentType, p.StrikePrice, p.OptionType, p.Expiry,
		p.Quantity, p.EntryPrice, p.StopLoss,
		p.Target1, p.Target2, p.Target3, p.TrailingStop, p.Intraday,
		p.CredentialID, p.CustomerID, p.OrderID, p.ExitOrderID, p.ExitReason,
		p.ExitPrice, p.PnL, p.Status, p.TriggeredAt, p.EntryAt, p.ExitedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position: %w", err)
	}
	return nil
}

// GetByID fetches a position by its id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	p, err := scanPosition(s.client.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return p, nil
}

// GetByOrderID fetches a position by its entry or exit broker order id.
func (s *PositionStore) GetByOrderID(ctx context.Context, orderID string) (domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE order_id = $1 OR exit_order_id = $1
		LIMIT 1`

	p, err := scanPosition(s.client.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position by order id: %w", err)
	}
	return p, nil
}

// ListByScripAndStatus returns positions for a scrip code in a given status.
func (s *PositionStore) ListByScripAndStatus(ctx context.Context, scripCode int, status domain.TradeStatus) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE scrip_code = $1 AND status = $2
		ORDER BY triggered_at`

	rows, err := s.client.pool.Query(ctx, query, scripCode, status)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by scrip and status: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListByStatus returns all positions in a given status.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.TradeStatus) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE status = $1
		ORDER BY triggered_at`

	rows, err := s.client.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by status: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListIntradayOpen returns intraday positions that still hold stock.
func (s *PositionStore) ListIntradayOpen(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE intraday = TRUE AND status = $1
		ORDER BY triggered_at`

	rows, err := s.client.pool.Query(ctx, query, domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("postgres: list intraday open positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return out, nil
}

// ClaimStatus atomically moves a position from one status to another,
// recording the exit reason. It reports whether this caller won the claim:
// a concurrent claimant that arrives after the row has moved on sees zero
// rows affected and gets false.
func (s *PositionStore) ClaimStatus(ctx context.Context, id string, from, to domain.TradeStatus, exitReason string) (bool, error) {
	query := `
		UPDATE positions
		SET status = $3,
		    exit_reason = CASE WHEN $4 <> '' THEN $4 ELSE exit_reason END
		WHERE id = $1 AND status = $2`

	tag, err := s.client.pool.Exec(ctx, query, id, from, to, exitReason)
	if err != nil {
		return false, fmt.Errorf("postgres: claim position status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatus sets a position's status unconditionally.
func (s *PositionStore) UpdateStatus(ctx context.Context, id string, status domain.TradeStatus) error {
	tag, err := s.client.pool.Exec(ctx,
		"UPDATE positions SET status = $2 WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("postgres: update position status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetStopLoss updates a position's stop loss level.
func (s *PositionStore) SetStopLoss(ctx context.Context, id string, stop float64) error {
	tag, err := s.client.pool.Exec(ctx,
		"UPDATE positions SET stop_loss = $2 WHERE id = $1", id, stop)
	if err != nil {
		return fmt.Errorf("postgres: set stop loss: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetExitOrder records the broker order id of the exit order.
func (s *PositionStore) SetExitOrder(ctx context.Context, id, exitOrderID string) error {
	tag, err := s.client.pool.Exec(ctx,
		"UPDATE positions SET exit_order_id = $2 WHERE id = $1", id, exitOrderID)
	if err != nil {
		return fmt.Errorf("postgres: set exit order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkEntryFilled records the actual fill price and time of the entry order
// and opens the position.
func (s *PositionStore) MarkEntryFilled(ctx context.Context, id string, avgPrice float64, at time.Time) error {
	query := `
		UPDATE positions
		SET status = $2, entry_price = $3, entry_at = $4
		WHERE id = $1`

	tag, err := s.client.pool.Exec(ctx, query, id, domain.StatusOpen, avgPrice, at)
	if err != nil {
		return fmt.Errorf("postgres: mark entry filled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkExited records the exit fill price, realized PnL and exit time.
func (s *PositionStore) MarkExited(ctx context.Context, id string, exitPrice, pnl float64, at time.Time) error {
	query := `
		UPDATE positions
		SET status = $2, exit_price = $3, pnl = $4, exited_at = $5
		WHERE id = $1`

	tag, err := s.client.pool.Exec(ctx, query, id, domain.StatusExitFilled, exitPrice, pnl, at)
	if err != nil {
		return fmt.Errorf("postgres: mark exited: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
