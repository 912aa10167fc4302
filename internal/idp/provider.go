// Package idp は外部IDプロバイダーとの通信を提供する。
// アカウント作成・ログイン・トークン更新・プロフィール更新・パスワードリセット、
// および外部プロバイダー（Google）の同意フローを含む。
package idp

import (
	"context"
	"time"

	"github.com/nayeem/ticketbari/internal/model"
)

// TokenSet はIdPが発行したトークン一式を表す。
// ExpiresAtはIDトークンのexpクレームから取得し、取得できない場合はexpiresInから算出する。
type TokenSet struct {
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
}

// Provider はIDプロバイダーのインターフェース。
// 将来的に複数IdPに対応するための抽象化。セッションストアとハンドラーが利用する。
type Provider interface {
	// SignUp はメールアドレスとパスワードで新規アカウントを作成する。
	SignUp(ctx context.Context, email, password string) (*model.Identity, TokenSet, error)

	// SignInPassword はメールアドレスとパスワードでログインする。
	SignInPassword(ctx context.Context, email, password string) (*model.Identity, TokenSet, error)

	// RefreshTokens はリフレッシュトークンで新しいIDトークンを取得する。
	RefreshTokens(ctx context.Context, refreshToken string) (TokenSet, error)

	// GetAccountInfo はIDトークンからアカウント情報を取得する。
	// セッション復元時にIdentityを再構築するために使用する。
	GetAccountInfo(ctx context.Context, idToken string) (*model.Identity, error)

	// UpdateProfile はIdP側のプロフィール（表示名・写真URL）を更新する。
	// 空文字のフィールドは変更しない。
	UpdateProfile(ctx context.Context, idToken, displayName, photoURL string) (*model.Identity, error)

	// SendPasswordReset はパスワードリセットメールの送信を要求する。
	SendPasswordReset(ctx context.Context, email string) error

	// RevokeRefreshToken はリフレッシュトークンを失効させる。
	// サインアウト時のベストエフォート処理として呼ばれる。
	RevokeRefreshToken(ctx context.Context, refreshToken string) error

	// GetProviderLoginURL は外部プロバイダーの同意フロー開始URLを生成する。
	GetProviderLoginURL(state string) string

	// ExchangeProviderCode は同意フローの認可コードをIdPセッションに交換する。
	ExchangeProviderCode(ctx context.Context, code string) (*model.Identity, TokenSet, error)
}
