package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/optfolio/opttracker/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Monetary
// columns are NUMERIC read back through ::TEXT casts for exact precision.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// querier abstracts pool vs. transaction for the read helpers.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

const positionSelectCols = `id, account_id, brokerage, symbol, direction, status,
	open_date, close_date, total_quantity, remaining_quantity,
	average_price::TEXT, total_realized_pnl::TEXT, total_realized_pnl_pct::TEXT,
	group_id, version, created_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var direction, status string
	var avgPrice, pnl, pnlPct string

	err := row.Scan(
		&p.ID, &p.AccountID, &p.Brokerage, &p.Symbol, &direction, &status,
		&p.OpenDate, &p.CloseDate, &p.TotalQuantity, &p.RemainingQuantity,
		&avgPrice, &pnl, &pnlPct,
		&p.GroupID, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	p.AveragePrice = dec(avgPrice)
	p.TotalRealizedPnL = dec(pnl)
	p.TotalRealizedPnLPct = dec(pnlPct)
	return p, nil
}

func loadLots(ctx context.Context, q querier, positionID string) ([]domain.EntryLot, error) {
	const query = `SELECT id, position_id, entry_date, quantity,
			unit_price::TEXT, total_value::TEXT, remaining_quantity, sequence_number
		FROM entry_lots WHERE position_id = $1 ORDER BY sequence_number`

	rows, err := q.Query(ctx, query, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []domain.EntryLot
	for rows.Next() {
		var l domain.EntryLot
		var unitPrice, totalValue string
		if err := rows.Scan(
			&l.ID, &l.PositionID, &l.EntryDate, &l.Quantity,
			&unitPrice, &totalValue, &l.RemainingQuantity, &l.SequenceNumber,
		); err != nil {
			return nil, err
		}
		l.UnitPrice = dec(unitPrice)
		l.TotalValue = dec(totalValue)
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func loadExits(ctx context.Context, q querier, positionID string) ([]domain.ExitRecord, error) {
	const query = `SELECT id, position_id, lot_id, exit_date, quantity,
			entry_unit_price::TEXT, exit_unit_price::TEXT,
			profit_loss::TEXT, profit_loss_pct::TEXT,
			trade_type, applied_strategy, created_at
		FROM exit_records WHERE position_id = $1 ORDER BY created_at, id`

	rows, err := q.Query(ctx, query, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ExitRecord
	for rows.Next() {
		var r domain.ExitRecord
		var entryPrice, exitPrice, pnl, pnlPct, tradeType, strategy string
		if err := rows.Scan(
			&r.ID, &r.PositionID, &r.LotID, &r.ExitDate, &r.Quantity,
			&entryPrice, &exitPrice, &pnl, &pnlPct,
			&tradeType, &strategy, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.EntryUnitPrice = dec(entryPrice)
		r.ExitUnitPrice = dec(exitPrice)
		r.ProfitLoss = dec(pnl)
		r.ProfitLossPct = dec(pnlPct)
		r.TradeType = domain.TradeType(tradeType)
		r.AppliedStrategy = domain.ExitStrategy(strategy)
		records = append(records, r)
	}
	return records, rows.Err()
}

func loadAggregate(ctx context.Context, q querier, id string) (domain.Position, error) {
	row := q.QueryRow(ctx, "SELECT "+positionSelectCols+" FROM positions WHERE id = $1", id)
	pos, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, err
	}

	if pos.Lots, err = loadLots(ctx, q, id); err != nil {
		return domain.Position{}, err
	}
	if pos.Exits, err = loadExits(ctx, q, id); err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

func insertLot(ctx context.Context, tx pgx.Tx, lot domain.EntryLot) error {
	const query = `INSERT INTO entry_lots
		(id, position_id, entry_date, quantity, unit_price, total_value,
		 remaining_quantity, sequence_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.Exec(ctx, query,
		lot.ID, lot.PositionID, lot.EntryDate, lot.Quantity,
		lot.UnitPrice.String(), lot.TotalValue.String(),
		lot.RemainingQuantity, lot.SequenceNumber,
	)
	return err
}

// Create inserts a new position aggregate with its first lot and the
// original-entry operation in one transaction.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position, entry domain.Operation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create position: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `INSERT INTO positions
		(id, account_id, brokerage, symbol, direction, status,
		 open_date, close_date, total_quantity, remaining_quantity,
		 average_price, total_realized_pnl, total_realized_pnl_pct,
		 group_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = tx.Exec(ctx, query,
		pos.ID, pos.AccountID, pos.Brokerage, pos.Symbol,
		string(pos.Direction), string(pos.Status),
		pos.OpenDate, pos.CloseDate, pos.TotalQuantity, pos.RemainingQuantity,
		pos.AveragePrice.String(), pos.TotalRealizedPnL.String(), pos.TotalRealizedPnLPct.String(),
		pos.GroupID, pos.Version, pos.CreatedAt, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert position %s: %w", pos.ID, err)
	}

	for _, lot := range pos.Lots {
		if err := insertLot(ctx, tx, lot); err != nil {
			return fmt.Errorf("postgres: insert lot %s: %w", lot.ID, err)
		}
	}

	if err := insertOperation(ctx, tx, entry); err != nil {
		return fmt.Errorf("postgres: insert entry operation %s: %w", entry.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create position %s: %w", pos.ID, err)
	}
	return nil
}

// GetByID returns the full aggregate including lots and exit records.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	pos, err := loadAggregate(ctx, s.pool, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return pos, nil
}

// ListByAccount returns position headers for an account, newest first.
// Lots and exit records are not loaded; use GetByID for the aggregate.
func (s *PositionStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := "SELECT " + positionSelectCols + " FROM positions WHERE account_id = $1"
	args := []any{accountID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", accountID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns full aggregates for positions closed before the
// cutoff. Used by the archiver.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	const query = `SELECT id FROM positions
		WHERE status = $1 AND close_date < $2 ORDER BY close_date`

	rows, err := s.pool.Query(ctx, query, string(domain.PositionStatusClosed), before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan position id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list closed positions rows: %w", err)
	}

	positions := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		pos, err := loadAggregate(ctx, s.pool, id)
		if err != nil {
			return nil, fmt.Errorf("postgres: load closed position %s: %w", id, err)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// updatePosition writes the position header after a version check and bumps
// the version. Returns ErrVersionConflict when the stored version moved.
func updatePosition(ctx context.Context, tx pgx.Tx, pos domain.Position) error {
	const query = `UPDATE positions SET
			status = $1, close_date = $2,
			total_quantity = $3, remaining_quantity = $4,
			average_price = $5, total_realized_pnl = $6, total_realized_pnl_pct = $7,
			version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10`

	tag, err := tx.Exec(ctx, query,
		string(pos.Status), pos.CloseDate,
		pos.TotalQuantity, pos.RemainingQuantity,
		pos.AveragePrice.String(), pos.TotalRealizedPnL.String(), pos.TotalRealizedPnLPct.String(),
		pos.UpdatedAt, pos.ID, pos.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a stale version from a missing row.
		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)", pos.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrVersionConflict
	}
	return nil
}

// ApplyEntry appends a lot and its operation after a version check.
func (s *PositionStore) ApplyEntry(ctx context.Context, pos domain.Position, lot domain.EntryLot, op domain.Operation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin apply entry: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updatePosition(ctx, tx, pos); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("postgres: update position %s: %w", pos.ID, err)
	}
	if err := insertLot(ctx, tx, lot); err != nil {
		return fmt.Errorf("postgres: insert lot %s: %w", lot.ID, err)
	}
	if err := insertOperation(ctx, tx, op); err != nil {
		return fmt.Errorf("postgres: insert operation %s: %w", op.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit apply entry %s: %w", pos.ID, err)
	}
	return nil
}

// ApplyExit persists one exit outcome in a single transaction: the position
// header, every lot's remaining quantity, the new exit records, and the
// operation group changes.
func (s *PositionStore) ApplyExit(ctx context.Context, outcome domain.ExitOutcome) error {
	pos := outcome.Position

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin apply exit: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updatePosition(ctx, tx, pos); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("postgres: update position %s: %w", pos.ID, err)
	}

	for _, lot := range pos.Lots {
		tag, err := tx.Exec(ctx,
			"UPDATE entry_lots SET remaining_quantity = $1 WHERE id = $2",
			lot.RemainingQuantity, lot.ID,
		)
		if err != nil {
			return fmt.Errorf("postgres: update lot %s: %w", lot.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: update lot %s: %w", lot.ID, domain.ErrNotFound)
		}
	}

	for _, r := range outcome.Records {
		const query = `INSERT INTO exit_records
			(id, position_id, lot_id, exit_date, quantity,
			 entry_unit_price, exit_unit_price, profit_loss, profit_loss_pct,
			 trade_type, applied_strategy, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

		if _, err := tx.Exec(ctx, query,
			r.ID, r.PositionID, r.LotID, r.ExitDate, r.Quantity,
			r.EntryUnitPrice.String(), r.ExitUnitPrice.String(),
			r.ProfitLoss.String(), r.ProfitLossPct.String(),
			string(r.TradeType), string(r.AppliedStrategy), r.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert exit record %s: %w", r.ID, err)
		}
	}

	for _, op := range outcome.NewOperations {
		if err := insertOperation(ctx, tx, op); err != nil {
			return fmt.Errorf("postgres: insert operation %s: %w", op.ID, err)
		}
	}
	for _, op := range outcome.UpdatedOperations {
		if err := updateOperation(ctx, tx, op); err != nil {
			return fmt.Errorf("postgres: update operation %s: %w", op.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit apply exit %s: %w", pos.ID, err)
	}
	return nil
}
