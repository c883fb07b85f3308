package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
)

// MigrationRepository stores migration records in PostgreSQL.
type MigrationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrationRepository creates a new PostgreSQL migration record repository.
func NewMigrationRepository(db *DB, logger *zap.Logger) *MigrationRepository {
	return &MigrationRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "migration_record")),
	}
}

const migrationColumns = `
	id, environment, cycle, sim_time, policy, kind, level,
	vm_id, vm_name, source_host_id, source_host_name,
	target_host_id, target_host_name, consolidation_ratio, created_at`

// Create stores a new migration record.
func (r *MigrationRepository) Create(ctx context.Context, rec *domain.MigrationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `INSERT INTO migration_records (` + migrationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.pool.Exec(ctx, query,
		rec.ID,
		rec.Environment,
		rec.Cycle,
		rec.SimTime,
		rec.Policy,
		string(rec.Kind),
		rec.Level,
		rec.VMID,
		rec.VMName,
		rec.SourceHostID,
		rec.SourceHostName,
		rec.TargetHostID,
		rec.TargetHostName,
		rec.ConsolidationRatio,
		rec.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create migration record", zap.Error(err))
		return fmt.Errorf("failed to insert migration record: %w", err)
	}
	return nil
}

// Get retrieves a migration record by ID.
func (r *MigrationRepository) Get(ctx context.Context, id string) (*domain.MigrationRecord, error) {
	query := `SELECT ` + migrationColumns + ` FROM migration_records WHERE id = $1`

	rec, err := scanRecord(r.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get migration record %s: %w", id, notFound(err))
	}
	return rec, nil
}

// List returns the newest records matching the filter.
func (r *MigrationRepository) List(ctx context.Context, filter domain.MigrationFilter, limit int) ([]*domain.MigrationRecord, error) {
	query, args := listQuery(filter, limit)

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list migration records: %w", err)
	}
	defer rows.Close()

	var out []*domain.MigrationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate migration records: %w", err)
	}
	return out, nil
}

// DeleteOld removes records created before olderThan.
func (r *MigrationRepository) DeleteOld(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM migration_records WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old migration records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// listQuery builds the SELECT for List. It mirrors domain.MigrationFilter.Matches;
// a non-positive limit returns every match.
func listQuery(filter domain.MigrationFilter, limit int) (string, []interface{}) {
	query := `SELECT ` + migrationColumns + ` FROM migration_records WHERE cycle >= $1`
	args := []interface{}{filter.SinceCycle}
	argNum := 2

	if filter.Environment != "" {
		query += fmt.Sprintf(" AND environment = $%d", argNum)
		args = append(args, filter.Environment)
		argNum++
	}

	if filter.VMID != nil {
		query += fmt.Sprintf(" AND vm_id = $%d", argNum)
		args = append(args, *filter.VMID)
		argNum++
	}

	query += " ORDER BY cycle DESC, created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, limit)
	}
	return query, args
}

func scanRecord(row pgx.Row) (*domain.MigrationRecord, error) {
	rec := &domain.MigrationRecord{}
	var kind string
	err := row.Scan(
		&rec.ID,
		&rec.Environment,
		&rec.Cycle,
		&rec.SimTime,
		&rec.Policy,
		&kind,
		&rec.Level,
		&rec.VMID,
		&rec.VMName,
		&rec.SourceHostID,
		&rec.SourceHostName,
		&rec.TargetHostID,
		&rec.TargetHostName,
		&rec.ConsolidationRatio,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Kind = domain.MigrationKind(kind)
	return rec, nil
}
