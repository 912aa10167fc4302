package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nayeem/ticketbari/internal/model"
)

// PostgresBrowserSessionRepo はPostgreSQLを使用したブラウザセッションリポジトリ。
type PostgresBrowserSessionRepo struct {
	db *sql.DB
}

// NewPostgresBrowserSessionRepo はPostgresBrowserSessionRepoを生成する。
func NewPostgresBrowserSessionRepo(db *sql.DB) *PostgresBrowserSessionRepo {
	return &PostgresBrowserSessionRepo{db: db}
}

// Create はブラウザセッションを作成する。
func (r *PostgresBrowserSessionRepo) Create(ctx context.Context, session *model.BrowserSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO browser_sessions (id, uid, refresh_token, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.UID, session.RefreshToken, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create browser session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresBrowserSessionRepo) FindByID(ctx context.Context, id string) (*model.BrowserSession, error) {
	session := &model.BrowserSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, uid, refresh_token, expires_at, created_at
		 FROM browser_sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UID, &session.RefreshToken, &session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find browser session: %w", err)
	}

	return session, nil
}

// UpdateRefreshToken はローテーションされたリフレッシュトークンを保存する。
func (r *PostgresBrowserSessionRepo) UpdateRefreshToken(ctx context.Context, id, refreshToken string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE browser_sessions SET refresh_token = $2 WHERE id = $1`,
		id, refreshToken,
	)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresBrowserSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM browser_sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete browser session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを一括削除し、削除件数を返す。
func (r *PostgresBrowserSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM browser_sessions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired browser sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ BrowserSessionRepository = (*PostgresBrowserSessionRepo)(nil)
