// Package repository persists judging results.
package repository

import (
	"context"
	"database/sql"

	"fuzojd/internal/judge/pmodel"
	appErr "fuzojd/pkg/errors"
)

// ResultRepository writes submission results to MySQL.
type ResultRepository struct {
	db *sql.DB
}

func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Save stores the overall result and its per-case rows in one transaction.
func (r *ResultRepository) Save(ctx context.Context, result *pmodel.Result) error {
	if result == nil {
		return appErr.ValidationError("result", "required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "begin transaction failed")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertResult = `
		INSERT INTO judge_results (solution_id, problem_id, state, score, info)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE state = VALUES(state), score = VALUES(score), info = VALUES(info)`
	if _, err := tx.ExecContext(ctx, insertResult,
		result.SolutionID, result.ProblemID, result.State.String(), result.Score, result.Info); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "insert result failed")
	}

	const insertCase = `
		INSERT INTO judge_case_results (solution_id, case_id, state, score, info, time_ms, mem_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE state = VALUES(state), score = VALUES(score),
			info = VALUES(info), time_ms = VALUES(time_ms), mem_bytes = VALUES(mem_bytes)`
	for _, tc := range result.TestCases {
		if _, err := tx.ExecContext(ctx, insertCase,
			result.SolutionID, tc.ID, tc.State.String(), tc.Score, tc.Info, tc.TimeMs, tc.MemBytes); err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "insert case result failed")
		}
	}

	if err := tx.Commit(); err != nil {
		return appErr.Wrapf(err, appErr.TransactionFailed, "commit result failed")
	}
	return nil
}
