package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/sdkqual/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const runColumns = `id, iteration, job_profile, namespace, branch, v4_version, package, sdk_version,
	task_id, task_link, status, error_message, wait_seconds, started_at, finished_at`

func (s *PostgresStore) CreateRun(ctx context.Context, r *models.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO qualification_runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.Iteration, r.JobProfile, r.Namespace, r.Branch, r.V4Version, r.Package, r.SDKVersion,
		r.TaskID, r.TaskLink, r.Status, r.ErrorMessage, r.WaitSeconds, r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error) {
	where, args := filterClause(filter)
	args = append(args, filter.limit())

	query := fmt.Sprintf(`SELECT %s FROM qualification_runs %s ORDER BY started_at DESC LIMIT $%d`,
		runColumns, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) LatestRun(ctx context.Context, filter RunFilter) (*models.Run, error) {
	where, args := filterClause(filter)
	query := fmt.Sprintf(`SELECT %s FROM qualification_runs %s ORDER BY started_at DESC LIMIT 1`, runColumns, where)

	r, err := scanRun(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func filterClause(f RunFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("namespace", f.Namespace)
	add("branch", f.Branch)
	add("v4_version", f.V4Version)
	add("status", f.Status)

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func scanRun(row pgx.Row) (*models.Run, error) {
	var r models.Run
	err := row.Scan(&r.ID, &r.Iteration, &r.JobProfile, &r.Namespace, &r.Branch, &r.V4Version,
		&r.Package, &r.SDKVersion, &r.TaskID, &r.TaskLink, &r.Status, &r.ErrorMessage,
		&r.WaitSeconds, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &r, nil
}

var _ Store = (*PostgresStore)(nil)
