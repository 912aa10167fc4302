// Package guard はルートガードの判定ロジックを提供する。
// 判定は純粋関数であり、リダイレクトの実行やログはHTTP層が行う。
package guard

import (
	"net/url"

	"github.com/nayeem/ticketbari/internal/model"
	"github.com/nayeem/ticketbari/internal/profile"
	"github.com/nayeem/ticketbari/internal/session"
)

// LoginPath は未ログイン時のリダイレクト先。
const LoginPath = "/auth/login"

// HomePath はロール不一致時のリダイレクト先。
const HomePath = "/"

// RedirectParam はログイン後に戻るパスを運ぶクエリパラメータ名。
const RedirectParam = "redirect"

// Outcome はガード判定の結果種別。
type Outcome int

const (
	// OutcomeLoading は認証状態またはロールの解決待ち。描画もリダイレクトもしない。
	OutcomeLoading Outcome = iota
	// OutcomeRender はルートの描画を許可する。
	OutcomeRender
	// OutcomeRedirect はTargetへのリダイレクトを要求する。
	OutcomeRedirect
)

// Decision はガード判定の結果。
type Decision struct {
	Outcome Outcome
	Target  string // OutcomeRedirectのときのリダイレクト先
	Reason  string // ログ用の判定理由
}

// Auth は認証必須ルートの判定を行う。
// 未ログインの場合、アクセスしようとしたパスをredirectパラメータに載せて
// ログインページへ送る。ログイン成功後に元のパスへ戻すため。
func Auth(snap session.Snapshot, attemptedPath string) Decision {
	switch snap.State {
	case session.StateUnknown:
		return Decision{Outcome: OutcomeLoading}
	case session.StateAuthenticated:
		return Decision{Outcome: OutcomeRender}
	default:
		return Decision{
			Outcome: OutcomeRedirect,
			Target:  LoginPath + "?" + RedirectParam + "=" + url.QueryEscape(attemptedPath),
			Reason:  "anonymous",
		}
	}
}

// Role はロール制限ルートの判定を行う。
// 認証ガードの内側で使う前提だが、未ログインで到達した場合も
// ログインページへ送る。ロール不一致はログインページではなく
// トップページへ送る。再ログインしてもロールは変わらないため。
// ロールが未解決・解決失敗（RoleUnknown）の場合はすべて拒否する。
func Role(auth session.Snapshot, prof profile.Snapshot, attemptedPath string, allowed ...model.Role) Decision {
	switch auth.State {
	case session.StateUnknown:
		return Decision{Outcome: OutcomeLoading}
	case session.StateAnonymous:
		return Decision{
			Outcome: OutcomeRedirect,
			Target:  LoginPath + "?" + RedirectParam + "=" + url.QueryEscape(attemptedPath),
			Reason:  "anonymous",
		}
	}

	if prof.Loading {
		return Decision{Outcome: OutcomeLoading}
	}

	for _, role := range allowed {
		if prof.Role != model.RoleUnknown && prof.Role == role {
			return Decision{Outcome: OutcomeRender}
		}
	}

	reason := "role_mismatch"
	if prof.Role == model.RoleUnknown {
		reason = "role_unresolved"
	}
	return Decision{Outcome: OutcomeRedirect, Target: HomePath, Reason: reason}
}
