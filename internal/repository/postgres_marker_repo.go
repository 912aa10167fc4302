package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresMarkerRepo はPostgreSQLを使用したマーカーリポジトリ。
type PostgresMarkerRepo struct {
	db *sql.DB
}

// NewPostgresMarkerRepo はPostgresMarkerRepoを生成する。
func NewPostgresMarkerRepo(db *sql.DB) *PostgresMarkerRepo {
	return &PostgresMarkerRepo{db: db}
}

// Get は指定ユーザーのマーカー値を取得する。未存在の場合は空文字を返す。
func (r *PostgresMarkerRepo) Get(ctx context.Context, uid, name string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM markers WHERE uid = $1 AND name = $2`,
		uid, name,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find marker: %w", err)
	}

	return value, nil
}

// Upsert はマーカーを作成または上書きする。
func (r *PostgresMarkerRepo) Upsert(ctx context.Context, uid, name, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO markers (uid, name, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (uid, name)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		uid, name, value,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert marker: %w", err)
	}
	return nil
}

// compile-time interface check
var _ MarkerRepository = (*PostgresMarkerRepo)(nil)
