// Package session はブラウザセッションごとの認証状態を管理する。
// 各ストアは1つのブラウザセッション（sidクッキー）に対応し、
// IdPトークンと認証状態を保持して購読者に変更を通知する。
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nayeem/ticketbari/internal/idp"
	"github.com/nayeem/ticketbari/internal/model"
)

// State は認証状態を表す。
type State int

const (
	// StateUnknown は初回の状態通知が届く前の状態。復元中もこの状態になる。
	StateUnknown State = iota
	// StateAnonymous は未ログイン状態。
	StateAnonymous
	// StateAuthenticated はログイン済み状態。
	StateAuthenticated
)

// String はStateの文字列表現を返す。
func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Snapshot はある時点の認証状態のコピー。
// Generationはサインインごとに増加し、強制サインアウトの冪等性判定に使う。
type Snapshot struct {
	State      State
	Identity   *model.Identity
	Generation uint64
}

// Listener は認証状態の変更通知を受け取る。
// 通知は状態更新後に同期的に呼ばれるため、リスナー内でSnapshotを
// 取得すると通知された状態以降の状態が見える。
type Listener func(Snapshot)

// Persister はローテーションされたリフレッシュトークンの保存先。
// セッションマネージャーがsidに束縛したクロージャを注入する。
type Persister interface {
	SaveRefreshToken(ctx context.Context, refreshToken string) error
}

// Store は1ブラウザセッションの認証状態を保持する。
type Store struct {
	provider  idp.Provider
	persister Persister
	leeway    time.Duration
	logger    *slog.Logger

	mu         sync.Mutex
	state      State
	identity   *model.Identity
	tokens     idp.TokenSet
	generation uint64
	listeners  map[int]Listener
	nextID     int

	readyOnce sync.Once
	ready     chan struct{}

	// refreshMu はトークン更新の直列化用。状態ロックとは分離し、
	// IdPへのHTTP呼び出し中に他の操作をブロックしないようにする。
	refreshMu sync.Mutex
}

// NewStore はStateUnknownのStoreを生成する。
// persisterはnil可（トークンローテーションを永続化しない場合）。
func NewStore(provider idp.Provider, persister Persister, leeway time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		provider:  provider,
		persister: persister,
		leeway:    leeway,
		logger:    logger,
		state:     StateUnknown,
		listeners: make(map[int]Listener),
		ready:     make(chan struct{}),
	}
}

// Snapshot は現在の認証状態のコピーを返す。
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Identity: s.identity, Generation: s.generation}
}

// Ready は初回の状態通知で閉じられるチャネルを返す。
// StateUnknownの間に認証依存の処理を始めないための待ち合わせに使う。
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Subscribe はリスナーを登録し、解除関数を返す。
// 状態が確定済みの場合は現在のSnapshotを即座に通知する。
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	snap := Snapshot{State: s.state, Identity: s.identity, Generation: s.generation}
	s.mu.Unlock()

	if snap.State != StateUnknown {
		fn(snap)
	}

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SignUp はメールアドレスとパスワードで新規アカウントを作成し、認証済み状態へ遷移する。
func (s *Store) SignUp(ctx context.Context, email, password string) (*model.Identity, error) {
	identity, tokens, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.Adopt(identity, tokens)
	return identity, nil
}

// SignInPassword はメールアドレスとパスワードでログインし、認証済み状態へ遷移する。
func (s *Store) SignInPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	identity, tokens, err := s.provider.SignInPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.Adopt(identity, tokens)
	return identity, nil
}

// Adopt はIdPセッションを取り込んで認証済み状態へ遷移する。
// 外部プロバイダーログインやセッション復元からも使われる。
func (s *Store) Adopt(identity *model.Identity, tokens idp.TokenSet) {
	s.mu.Lock()
	s.state = StateAuthenticated
	s.identity = identity
	s.tokens = tokens
	s.generation++
	listeners, snap := s.snapshotLocked()
	s.mu.Unlock()

	s.markReady()
	notify(listeners, snap)
}

// MarkAnonymous はStateUnknownを未ログイン状態として確定する。
// 復元対象が無い、または復元に失敗した場合に呼ばれる。
func (s *Store) MarkAnonymous() {
	s.mu.Lock()
	if s.state == StateAuthenticated {
		s.mu.Unlock()
		return
	}
	s.state = StateAnonymous
	s.identity = nil
	s.tokens = idp.TokenSet{}
	listeners, snap := s.snapshotLocked()
	s.mu.Unlock()

	s.markReady()
	notify(listeners, snap)
}

// Restore はリフレッシュトークンからIdPセッションを復元する。
// 失敗した場合は未ログイン状態へ確定し、エラーを返す。
func (s *Store) Restore(ctx context.Context, refreshToken string) error {
	tokens, err := s.provider.RefreshTokens(ctx, refreshToken)
	if err != nil {
		s.MarkAnonymous()
		return err
	}

	identity, err := s.provider.GetAccountInfo(ctx, tokens.IDToken)
	if err != nil {
		s.MarkAnonymous()
		return err
	}

	s.Adopt(identity, tokens)
	s.persistRotation(ctx, refreshToken, tokens.RefreshToken)
	return nil
}

// SignOut はローカル状態を即座にクリアし、リフレッシュトークンの失効を
// バックグラウンドで要求する。失効の失敗はログのみでユーザーには影響しない。
func (s *Store) SignOut() {
	s.mu.Lock()
	refreshToken := s.tokens.RefreshToken
	s.state = StateAnonymous
	s.identity = nil
	s.tokens = idp.TokenSet{}
	s.generation++
	listeners, snap := s.snapshotLocked()
	s.mu.Unlock()

	s.markReady()
	notify(listeners, snap)

	if refreshToken != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.provider.RevokeRefreshToken(ctx, refreshToken); err != nil {
				s.logger.Warn("failed to revoke refresh token on sign-out", "error", err)
			}
		}()
	}
}

// ForceSignOut はAPIの401/403を受けた強制サインアウト。
// genが現在の世代と一致する場合のみ実行される。並行リクエストが
// 同時に401を受けても、サインアウトは世代ごとに1回だけ起きる。
func (s *Store) ForceSignOut(gen uint64) bool {
	s.mu.Lock()
	if s.state != StateAuthenticated || s.generation != gen {
		s.mu.Unlock()
		return false
	}
	s.state = StateAnonymous
	s.identity = nil
	s.tokens = idp.TokenSet{}
	s.generation++
	listeners, snap := s.snapshotLocked()
	s.mu.Unlock()

	notify(listeners, snap)
	return true
}

// UpdateIdentity はIdP側プロフィール更新後のIdentityを反映し、購読者に通知する。
func (s *Store) UpdateIdentity(identity *model.Identity) {
	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return
	}
	s.identity = identity
	listeners, snap := s.snapshotLocked()
	s.mu.Unlock()

	notify(listeners, snap)
}

// FreshToken は有効なIDトークンと現在の世代を返す。
// 有効期限まで猶予（leeway）を切っている場合は先にトークンを更新する。
// 並行呼び出しはrefreshMuで直列化され、更新は1回だけ行われる。
func (s *Store) FreshToken(ctx context.Context) (string, uint64, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return "", 0, model.NewNoActiveSessionError()
	}
	tokens := s.tokens
	gen := s.generation
	s.mu.Unlock()

	if time.Until(tokens.ExpiresAt) > s.leeway {
		return tokens.IDToken, gen, nil
	}

	refreshed, err := s.provider.RefreshTokens(ctx, tokens.RefreshToken)
	if err != nil {
		return "", 0, err
	}

	s.mu.Lock()
	// 更新中にサインアウトされた場合は新トークンを捨てる
	if s.state != StateAuthenticated || s.generation != gen {
		s.mu.Unlock()
		return "", 0, model.NewNoActiveSessionError()
	}
	s.tokens = refreshed
	s.mu.Unlock()

	s.persistRotation(ctx, tokens.RefreshToken, refreshed.RefreshToken)
	return refreshed.IDToken, gen, nil
}

// IDToken は現在保持しているIDトークンを更新なしで返す。
// プロフィール更新など、直前にFreshTokenを通過した操作からの利用を想定する。
func (s *Store) IDToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return "", model.NewNoActiveSessionError()
	}
	return s.tokens.IDToken, nil
}

// persistRotation はリフレッシュトークンがローテーションされた場合に保存する。
func (s *Store) persistRotation(ctx context.Context, old, current string) {
	if s.persister == nil || current == "" || current == old {
		return
	}
	if err := s.persister.SaveRefreshToken(ctx, current); err != nil {
		s.logger.Warn("failed to persist rotated refresh token", "error", err)
	}
}

// snapshotLocked は通知対象のリスナー一覧と現在のSnapshotを返す。
// 呼び出し側がs.muを保持していること。通知自体はロック解放後に行う。
func (s *Store) snapshotLocked() ([]Listener, Snapshot) {
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	snap := Snapshot{State: s.state, Identity: s.identity, Generation: s.generation}
	return listeners, snap
}

func (s *Store) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func notify(listeners []Listener, snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}
