package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `id, pair, direction, outcome, raw_amount, amount, expected_profit,
	realized_profit, state_a, state_b, detected_at, started_at, completed_at`

// Create inserts an execution and both of its legs in one transaction.
func (s *ExecutionStore) Create(ctx context.Context, res domain.ExecutionResult) error {
	stateA, stateB, err := encodeStates(res.Opportunity)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		res.ID, res.Pair, string(res.Direction), string(res.Outcome),
		res.Opportunity.Raw, res.Opportunity.Amount, res.Opportunity.Profit, res.RealizedProfit,
		stateA, stateB, res.Opportunity.DetectedAt, res.StartedAt, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution: %w", err)
	}

	for _, leg := range res.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_legs (execution_id, leg_index, venue_id, pay_token, receive_token,
				amount_in, expected_out, min_out, status, amount_out, tx_id, reason, latency_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			res.ID, leg.Index, leg.VenueID, leg.PayToken, leg.ReceiveToken,
			leg.AmountIn, leg.ExpectedOut, leg.MinOut, string(leg.Status), leg.AmountOut,
			leg.TxID, leg.Reason, leg.Latency.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution_leg: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func encodeStates(opp domain.Opportunity) ([]byte, []byte, error) {
	a, err := json.Marshal(opp.StateA)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: marshal state a: %w", err)
	}
	b, err := json.Marshal(opp.StateB)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: marshal state b: %w", err)
	}
	return a, b, nil
}

func scanExecution(row pgx.Row) (domain.ExecutionResult, error) {
	var (
		res                domain.ExecutionResult
		direction, outcome string
		stateA, stateB     []byte
	)
	err := row.Scan(&res.ID, &res.Pair, &direction, &outcome,
		&res.Opportunity.Raw, &res.Opportunity.Amount, &res.Opportunity.Profit, &res.RealizedProfit,
		&stateA, &stateB, &res.Opportunity.DetectedAt, &res.StartedAt, &res.CompletedAt,
	)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	res.Direction = domain.Direction(direction)
	res.Outcome = domain.Outcome(outcome)
	res.Opportunity.Pair = res.Pair
	res.Opportunity.Direction = res.Direction
	if err := json.Unmarshal(stateA, &res.Opportunity.StateA); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: unmarshal state a: %w", err)
	}
	if err := json.Unmarshal(stateB, &res.Opportunity.StateB); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: unmarshal state b: %w", err)
	}
	return res, nil
}

// GetByID returns an execution with its legs.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionResult, error) {
	res, err := scanExecution(s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionResult{}, domain.ErrNotFound
		}
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT leg_index, venue_id, pay_token, receive_token, amount_in, expected_out, min_out,
			status, amount_out, tx_id, reason, latency_ms
		FROM execution_legs WHERE execution_id = $1 ORDER BY leg_index`,
		id,
	)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("postgres: get execution_legs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			leg       domain.LegResult
			status    string
			latencyMS int64
		)
		if err := rows.Scan(&leg.Index, &leg.VenueID, &leg.PayToken, &leg.ReceiveToken,
			&leg.AmountIn, &leg.ExpectedOut, &leg.MinOut, &status, &leg.AmountOut,
			&leg.TxID, &leg.Reason, &latencyMS); err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("postgres: scan execution_leg: %w", err)
		}
		if leg.Index < 1 || leg.Index > 2 {
			continue
		}
		leg.Status = domain.LegStatus(status)
		leg.Latency = time.Duration(latencyMS) * time.Millisecond
		res.Legs[leg.Index-1] = leg
	}
	if err := rows.Err(); err != nil {
		return domain.ExecutionResult{}, err
	}
	return res, nil
}

// ListRecent returns the most recent executions, newest first, without
// legs. An empty pair lists every pair.
func (s *ExecutionStore) ListRecent(ctx context.Context, pair string, limit int) ([]domain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE ($1 = '' OR pair = $1)
		ORDER BY started_at DESC LIMIT $2`, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionResult
	for rows.Next() {
		res, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		list = append(list, res)
	}
	return list, rows.Err()
}

// SumProfit returns the realized profit of fully successful executions
// started since the given time.
func (s *ExecutionStore) SumProfit(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(realized_profit), 0) FROM executions
		WHERE started_at >= $1 AND outcome = $2`,
		since, string(domain.OutcomeBothSucceeded),
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum executions profit: %w", err)
	}
	return sum, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
