package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/optfolio/opttracker/internal/domain"
)

// OperationStore implements domain.OperationStore using PostgreSQL.
type OperationStore struct {
	pool *pgxpool.Pool
}

// NewOperationStore creates a new OperationStore backed by the given connection pool.
func NewOperationStore(pool *pgxpool.Pool) *OperationStore {
	return &OperationStore{pool: pool}
}

const operationSelectCols = `id, group_id, position_id, role, sequence_number, hidden,
	symbol, direction, trade_date, quantity,
	unit_price::TEXT, total_value::TEXT,
	exit_date, exit_unit_price::TEXT, exit_total_value::TEXT,
	profit_loss::TEXT, profit_loss_pct::TEXT, outcome,
	created_at, updated_at`

func scanOperationRows(rows pgx.Rows) ([]domain.Operation, error) {
	var ops []domain.Operation
	for rows.Next() {
		var op domain.Operation
		var role, direction, outcome string
		var unitPrice, totalValue, exitPrice, exitValue, pnl, pnlPct string

		if err := rows.Scan(
			&op.ID, &op.GroupID, &op.PositionID, &role, &op.SequenceNumber, &op.Hidden,
			&op.Symbol, &direction, &op.TradeDate, &op.Quantity,
			&unitPrice, &totalValue,
			&op.ExitDate, &exitPrice, &exitValue,
			&pnl, &pnlPct, &outcome,
			&op.CreatedAt, &op.UpdatedAt,
		); err != nil {
			return nil, err
		}
		op.Role = domain.OperationRole(role)
		op.Direction = domain.Direction(direction)
		op.Outcome = domain.OperationOutcome(outcome)
		op.UnitPrice = dec(unitPrice)
		op.TotalValue = dec(totalValue)
		op.ExitUnitPrice = dec(exitPrice)
		op.ExitTotalValue = dec(exitValue)
		op.ProfitLoss = dec(pnl)
		op.ProfitLossPct = dec(pnlPct)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// GetGroup returns the operations sharing a group ID, ordered by sequence.
func (s *OperationStore) GetGroup(ctx context.Context, groupID string) (domain.AverageOperationGroup, error) {
	query := "SELECT " + operationSelectCols +
		" FROM operations WHERE group_id = $1 ORDER BY sequence_number"

	rows, err := s.pool.Query(ctx, query, groupID)
	if err != nil {
		return domain.AverageOperationGroup{}, fmt.Errorf("postgres: get group %s: %w", groupID, err)
	}
	defer rows.Close()

	ops, err := scanOperationRows(rows)
	if err != nil {
		return domain.AverageOperationGroup{}, fmt.Errorf("postgres: scan group %s: %w", groupID, err)
	}

	group := domain.AverageOperationGroup{ID: groupID, Items: ops}
	if len(ops) > 0 {
		group.PositionID = ops[0].PositionID
	}
	return group, nil
}

// ListByPosition returns a position's operations ordered by sequence.
func (s *OperationStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Operation, error) {
	query := "SELECT " + operationSelectCols +
		" FROM operations WHERE position_id = $1 ORDER BY sequence_number"

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list operations for %s: %w", positionID, err)
	}
	defer rows.Close()

	ops, err := scanOperationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan operations for %s: %w", positionID, err)
	}
	return ops, nil
}

// List returns operations across all groups with pagination and optional
// time filtering, newest first.
func (s *OperationStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Operation, error) {
	query := "SELECT " + operationSelectCols + " FROM operations WHERE 1=1"
	args := []any{}
	argIdx := 1

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

	query += " ORDER BY created_at DESC, sequence_number DESC"

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
		return nil, fmt.Errorf("postgres: list operations: %w", err)
	}
	defer rows.Close()

	ops, err := scanOperationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan operations: %w", err)
	}
	return ops, nil
}

func insertOperation(ctx context.Context, tx pgx.Tx, op domain.Operation) error {
	const query = `INSERT INTO operations
		(id, group_id, position_id, role, sequence_number, hidden,
		 symbol, direction, trade_date, quantity, unit_price, total_value,
		 exit_date, exit_unit_price, exit_total_value,
		 profit_loss, profit_loss_pct, outcome, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := tx.Exec(ctx, query,
		op.ID, op.GroupID, op.PositionID, string(op.Role), op.SequenceNumber, op.Hidden,
		op.Symbol, string(op.Direction), op.TradeDate, op.Quantity,
		op.UnitPrice.String(), op.TotalValue.String(),
		op.ExitDate, op.ExitUnitPrice.String(), op.ExitTotalValue.String(),
		op.ProfitLoss.String(), op.ProfitLossPct.String(), string(op.Outcome),
		op.CreatedAt, op.UpdatedAt,
	)
	return err
}

func updateOperation(ctx context.Context, tx pgx.Tx, op domain.Operation) error {
	const query = `UPDATE operations SET
			role = $1, sequence_number = $2, hidden = $3,
			quantity = $4, unit_price = $5, total_value = $6,
			exit_date = $7, exit_unit_price = $8, exit_total_value = $9,
			profit_loss = $10, profit_loss_pct = $11, outcome = $12,
			updated_at = $13
		WHERE id = $14`

	tag, err := tx.Exec(ctx, query,
		string(op.Role), op.SequenceNumber, op.Hidden,
		op.Quantity, op.UnitPrice.String(), op.TotalValue.String(),
		op.ExitDate, op.ExitUnitPrice.String(), op.ExitTotalValue.String(),
		op.ProfitLoss.String(), op.ProfitLossPct.String(), string(op.Outcome),
		op.UpdatedAt, op.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
