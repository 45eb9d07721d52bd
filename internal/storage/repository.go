package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
)

// RecordSource is the read side the stream processor scans.
type RecordSource interface {
	// ListRecent returns records updated at or after since, ordered by name,
	// together with the total number of matching records. A zero since
	// returns every record. limit caps the returned slice.
	ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.Record, int, error)

	// GetByName returns domain.ErrRecordNotFound when no record has the name.
	GetByName(ctx context.Context, name string) (*domain.Record, error)
}

// RecordWriter stores records. Used by seeding.
type RecordWriter interface {
	UpsertRecord(ctx context.Context, rec domain.Record) error
}

// PostgresRepository implements RecordSource using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping() error {
	return r.db.Ping()
}

const recordColumns = `id, name, hp, attack, defense, special_attack, special_defense, speed, types, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (domain.Record, error) {
	var rec domain.Record
	err := s.Scan(
		&rec.ID, &rec.Name,
		&rec.Stats.HP, &rec.Stats.Attack, &rec.Stats.Defense,
		&rec.Stats.SpecialAttack, &rec.Stats.SpecialDefense, &rec.Stats.Speed,
		pq.Array(&rec.Types), &rec.UpdatedAt,
	)
	return rec, err
}

func (r *PostgresRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]domain.Record, int, error) {
	var (
		where string
		args  []any
	)
	if !since.IsZero() {
		where = " WHERE updated_at >= $1"
		args = append(args, since)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	query := "SELECT " + recordColumns + " FROM records" + where + " ORDER BY name"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate records: %w", err)
	}
	return records, total, nil
}

func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE name = $1", name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record by name: %w", err)
	}
	return &rec, nil
}

// UpsertRecord inserts rec or overwrites the row with the same id and bumps updated_at.
func (r *PostgresRepository) UpsertRecord(ctx context.Context, rec domain.Record) error {
	// types is NOT NULL; pq.Array encodes a nil slice as NULL.
	types := rec.Types
	if types == nil {
		types = []string{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (id, name, hp, attack, defense, special_attack, special_defense, speed, types, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = $2, hp = $3, attack = $4, defense = $5,
			special_attack = $6, special_defense = $7, speed = $8,
			types = $9, updated_at = NOW()
	`, rec.ID, rec.Name,
		rec.Stats.HP, rec.Stats.Attack, rec.Stats.Defense,
		rec.Stats.SpecialAttack, rec.Stats.SpecialDefense, rec.Stats.Speed,
		pq.Array(types),
	)
	if err != nil {
		return fmt.Errorf("upsert record %q: %w", rec.Name, err)
	}
	return nil
}
