// Package model はドメインモデルを定義する。
package model

import "time"

// Role はダッシュボードのアクセス権限を決めるロールを表す。
// 閉じた列挙型として定義し、未取得・取得失敗はRoleUnknownで表現する。
// nilではなく明示的なRoleUnknownを使うことで、ガードのdeny-by-defaultを網羅的にする。
type Role string

const (
	// RoleUnknown はロール未取得・取得失敗・未割当を表す。
	// すべてのロール制限ルートでアクセス拒否として扱われる。
	RoleUnknown Role = ""
	// RoleUser は一般利用者（チケット購入者）。
	RoleUser Role = "user"
	// RoleVendor はチケット出品事業者。
	RoleVendor Role = "vendor"
	// RoleAdmin はマーケットプレイス管理者。
	RoleAdmin Role = "admin"
)

// ParseRole はAPIから受け取ったロール文字列をRoleに変換する。
// 未知の値はRoleUnknownに落とす（deny-by-default）。
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleUser, RoleVendor, RoleAdmin:
		return Role(s)
	default:
		return RoleUnknown
	}
}

// Identity は外部IdPの認証済みユーザーを表す。
// IdPが発行する不透明オブジェクトのうち、ゲートウェイが参照する属性のみを持つ。
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// Profile はマーケットプレイスAPI側のプロフィール（ロール・不正フラグ）を表す。
// UIゲーティング専用であり、認可の正規のチェックは各API呼び出し時にサーバー側で行われる。
type Profile struct {
	UID      string `json:"uid"`
	Role     Role   `json:"role"`
	IsFraud  bool   `json:"isFraud"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	PhotoURL string `json:"photoURL"`
	Phone    string `json:"phone,omitempty"`
}

// BrowserSession はブラウザごとのセッション行を表す。
// IdPのリフレッシュトークンを保持し、リロード時のセッション復元に使用する。
type BrowserSession struct {
	ID           string
	UID          string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}
