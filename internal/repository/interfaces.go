// Package repository はデータ永続化層のインターフェースと実装を提供する。
package repository

import (
	"context"

	"github.com/nayeem/ticketbari/internal/model"
)

// BrowserSessionRepository はブラウザセッションの永続化を担う。
// 各行はsidクッキーに対応し、IdPのリフレッシュトークンを保持する。
// プロセス再起動後のセッション復元に使用される。
type BrowserSessionRepository interface {
	// Create はブラウザセッションを作成する。
	Create(ctx context.Context, session *model.BrowserSession) error

	// FindByID は指定IDのセッションを取得する。期限切れ・未存在の場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.BrowserSession, error)

	// UpdateRefreshToken はトークン更新でローテーションされたリフレッシュトークンを保存する。
	UpdateRefreshToken(ctx context.Context, id, refreshToken string) error

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteExpired は期限切れセッションを一括削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// MarkerRepository はユーザーごとの名前付きマーカー（最終ログイン日時など）を永続化する。
type MarkerRepository interface {
	// Get は指定ユーザーのマーカー値を取得する。未存在の場合は空文字とnilを返す。
	Get(ctx context.Context, uid, name string) (string, error)

	// Upsert はマーカーを作成または上書きする。
	Upsert(ctx context.Context, uid, name, value string) error
}
