// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, payment, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードの一致でAPIErrorを比較する。
// errors.Isでコード定義済みエラーと照合できるようにする。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentialsFormat = "INVALID_CREDENTIALS_FORMAT"
	ErrCodeEmailAlreadyInUse        = "EMAIL_ALREADY_IN_USE"
	ErrCodeInvalidCredentials       = "INVALID_CREDENTIALS"
	ErrCodeUserNotFound             = "USER_NOT_FOUND"
	ErrCodeNoActiveSession          = "NO_ACTIVE_SESSION"
	ErrCodeProviderConsentDenied    = "PROVIDER_CONSENT_DENIED"
	ErrCodeProviderStateMismatch    = "PROVIDER_STATE_MISMATCH"
	ErrCodeSessionInvalidated       = "SESSION_INVALIDATED"
	ErrCodeProfileUnavailable       = "PROFILE_UNAVAILABLE"
	ErrCodeAccountRestricted        = "ACCOUNT_RESTRICTED"
	ErrCodePaymentVerifyFailed      = "PAYMENT_VERIFY_FAILED"
	ErrCodeNotFound                 = "NOT_FOUND"
)

// NewInvalidCredentialsFormatError はメールアドレス形式不正・パスワード強度不足のエラーを生成する。
func NewInvalidCredentialsFormatError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentialsFormat,
		Message:  fmt.Sprintf("メールアドレスまたはパスワードの形式が正しくありません: %s", reason),
		Category: "validation",
		Action:   "有効なメールアドレスと6文字以上のパスワードを入力してください。",
	}
}

// NewEmailAlreadyInUseError はメールアドレス重複のエラーを生成する。
func NewEmailAlreadyInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyInUse,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスで登録してください。",
	}
}

// NewInvalidCredentialsError はIdPが認証情報を拒否した場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUserNotFoundError はパスワードリセット対象ユーザーが存在しない場合のエラーを生成する。
// IdPがEMAIL_NOT_FOUNDを区別して返すため、そのままUIに伝える（列挙攻撃は/authのレート制限で緩和）。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "このメールアドレスのアカウントは見つかりません。",
		Category: "auth",
		Action:   "メールアドレスを確認するか、新規登録してください。",
	}
}

// NewNoActiveSessionError はログインしていない状態での操作エラーを生成する。
func NewNoActiveSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveSession,
		Message:  "ログインセッションがありません。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewProviderConsentDeniedError は外部プロバイダーの同意フローが拒否された場合のエラーを生成する。
func NewProviderConsentDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderConsentDenied,
		Message:  "外部プロバイダーでのログインがキャンセルされました。",
		Category: "auth",
		Action:   "再度ログインボタンから認証を完了してください。",
	}
}

// NewProviderStateMismatchError はOAuth stateの不一致エラーを生成する。
func NewProviderStateMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderStateMismatch,
		Message:  "外部プロバイダーのログイン検証に失敗しました。",
		Category: "auth",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewSessionInvalidatedError はAPIの401/403による強制サインアウトを表すエラーを生成する。
// 中央のAuthenticated Request Clientのみがこのエラーを発行する。
func NewSessionInvalidatedError(statusCode int) *APIError {
	return &APIError{
		Code:     ErrCodeSessionInvalidated,
		Message:  fmt.Sprintf("セッションが無効になりました（ステータス %d）。", statusCode),
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewProfileUnavailableError はプロフィール取得失敗のエラーを生成する。
// ロールはRoleUnknownとなり、ロール制限ルートはすべて拒否される。
func NewProfileUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileUnavailable,
		Message:  "プロフィール情報を取得できませんでした。",
		Category: "system",
		Action:   "しばらく待ってからページを再読み込みしてください。",
	}
}

// NewAccountRestrictedError は不正フラグ付きアカウントの操作制限エラーを生成する。
// ルートガードではなく各操作レベルで適用される。
func NewAccountRestrictedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountRestricted,
		Message:  "このアカウントは現在制限されています。",
		Category: "auth",
		Action:   "サポートにお問い合わせください。",
	}
}

// NewPaymentVerifyFailedError は決済コールバックの検証失敗エラーを生成する。
func NewPaymentVerifyFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentVerifyFailed,
		Message:  fmt.Sprintf("決済の確認に失敗しました: %s", reason),
		Category: "payment",
		Action:   "予約一覧で状態を確認し、解決しない場合はサポートにお問い合わせください。",
	}
}

// NewNotFoundError はルート未検出エラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "お探しのページは見つかりませんでした。",
		Category: "system",
		Action:   "トップページからやり直してください。",
	}
}
