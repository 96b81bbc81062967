package repository

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mirsubmit/backend/internal/model"
)

// SubmissionLogRepository persists audit records of processed submissions.
type SubmissionLogRepository interface {
	Save(ctx context.Context, rec *model.SubmissionRecord) error
	List(ctx context.Context, opts SubmissionListOptions) ([]*model.SubmissionRecord, error)
}

// SubmissionListOptions filters and paginates List. An empty Outcome or Action matches all.
type SubmissionListOptions struct {
	Action  string
	Outcome string
	Since   time.Time
	Limit   int
	Offset  int
}

// PgSubmissionLogRepository is the PostgreSQL implementation of SubmissionLogRepository.
type PgSubmissionLogRepository struct {
	pool *pgxpool.Pool
}

// NewPgSubmissionLogRepository creates a PgSubmissionLogRepository backed by the given pool.
func NewPgSubmissionLogRepository(pool *pgxpool.Pool) *PgSubmissionLogRepository {
	return &PgSubmissionLogRepository{pool: pool}
}

var _ SubmissionLogRepository = (*PgSubmissionLogRepository)(nil)

// Save inserts a submissions row and fills CreatedAt from the database.
func (r *PgSubmissionLogRepository) Save(ctx context.Context, rec *model.SubmissionRecord) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO submissions (id, action, handler, sender_domain, attachment_count, outcome, error_code)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''))
		 RETURNING created_at`,
		rec.ID, rec.Action, rec.Handler, rec.SenderDomain, rec.AttachmentCount, rec.Outcome, rec.ErrorCode,
	).Scan(&rec.CreatedAt)
}

// List returns records newest first.
func (r *PgSubmissionLogRepository) List(ctx context.Context, opts SubmissionListOptions) ([]*model.SubmissionRecord, error) {
	query, args := buildSubmissionListQuery(opts)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.SubmissionRecord
	for rows.Next() {
		var rec model.SubmissionRecord
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.Handler, &rec.SenderDomain,
			&rec.AttachmentCount, &rec.Outcome, &rec.ErrorCode, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func buildSubmissionListQuery(opts SubmissionListOptions) (string, []any) {
	var conditions []string
	var args []any

	if a := strings.TrimSpace(opts.Action); a != "" {
		args = append(args, a)
		conditions = append(conditions, "action = $"+strconv.Itoa(len(args)))
	}
	if o := strings.TrimSpace(opts.Outcome); o != "" && o != "all" {
		args = append(args, o)
		conditions = append(conditions, "outcome = $"+strconv.Itoa(len(args)))
	}
	if !opts.Since.IsZero() {
		args = append(args, opts.Since)
		conditions = append(conditions, "created_at >= $"+strconv.Itoa(len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ") + " "
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, opts.Offset)

	query := `SELECT id, action, handler, COALESCE(sender_domain, ''), attachment_count, outcome,
	          COALESCE(error_code, ''), created_at
	          FROM submissions ` + where +
		`ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	return query, args
}
