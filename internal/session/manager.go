package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nayeem/ticketbari/internal/idp"
	"github.com/nayeem/ticketbari/internal/model"
	"github.com/nayeem/ticketbari/internal/repository"
)

// MarkerLastLogin は最終ログイン日時マーカーの名前。
const MarkerLastLogin = "last_login"

// markerTimeFormat はマーカー値の日時フォーマット。
const markerTimeFormat = "2006-01-02 15:04:05"

// Manager はsidとStoreの対応を管理し、ブラウザセッションを永続化する。
// プロセス内のStoreはキャッシュであり、真の状態はbrowser_sessions行の
// リフレッシュトークンにある。再起動後はLookupが行から復元する。
type Manager struct {
	provider idp.Provider
	sessions repository.BrowserSessionRepository
	markers  repository.MarkerRepository
	leeway   time.Duration
	maxAge   time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager はManagerを生成する。
func NewManager(
	provider idp.Provider,
	sessions repository.BrowserSessionRepository,
	markers repository.MarkerRepository,
	leeway time.Duration,
	maxAge time.Duration,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		provider: provider,
		sessions: sessions,
		markers:  markers,
		leeway:   leeway,
		maxAge:   maxAge,
		logger:   logger,
		stores:   make(map[string]*Store),
	}
}

// sessionPersister はsidに束縛されたPersister実装。
type sessionPersister struct {
	sessions repository.BrowserSessionRepository
	sid      string
}

func (p *sessionPersister) SaveRefreshToken(ctx context.Context, refreshToken string) error {
	return p.sessions.UpdateRefreshToken(ctx, p.sid, refreshToken)
}

// SignUp は新規アカウントを作成し、新しいブラウザセッションを開始する。
// 最終ログインマーカーは初回サインイン時に書かれるため、ここでは書かない。
func (m *Manager) SignUp(ctx context.Context, email, password string) (string, *Store, error) {
	identity, tokens, err := m.provider.SignUp(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	return m.establish(ctx, identity, tokens)
}

// SignInPassword はパスワードログインし、新しいブラウザセッションを開始する。
func (m *Manager) SignInPassword(ctx context.Context, email, password string) (string, *Store, error) {
	identity, tokens, err := m.provider.SignInPassword(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	sid, store, err := m.establish(ctx, identity, tokens)
	if err != nil {
		return "", nil, err
	}
	m.recordLastLogin(ctx, identity.UID)
	return sid, store, nil
}

// AdoptProviderSession は外部プロバイダーログイン済みのIdPセッションから
// 新しいブラウザセッションを開始する。
func (m *Manager) AdoptProviderSession(ctx context.Context, identity *model.Identity, tokens idp.TokenSet) (string, *Store, error) {
	sid, store, err := m.establish(ctx, identity, tokens)
	if err != nil {
		return "", nil, err
	}
	m.recordLastLogin(ctx, identity.UID)
	return sid, store, nil
}

// establish はセッション行とStoreを作成し、認証済み状態へ遷移させる。
func (m *Manager) establish(ctx context.Context, identity *model.Identity, tokens idp.TokenSet) (string, *Store, error) {
	sid := uuid.New().String()
	now := time.Now()

	err := m.sessions.Create(ctx, &model.BrowserSession{
		ID:           sid,
		UID:          identity.UID,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    now.Add(m.maxAge),
		CreatedAt:    now,
	})
	if err != nil {
		return "", nil, err
	}

	store := m.newStore(sid)
	store.Adopt(identity, tokens)

	m.mu.Lock()
	m.stores[sid] = store
	m.mu.Unlock()

	m.watchInvalidation(sid, store)
	return sid, store, nil
}

// Lookup はsidに対応するStoreを返す。セッション行が無い場合はnilを返す。
// プロセス内に無い場合は行から復元用のStoreを作り、バックグラウンドで
// IdPセッションを復元する。返されたStoreは復元完了までStateUnknown。
func (m *Manager) Lookup(ctx context.Context, sid string) (*Store, error) {
	m.mu.Lock()
	if store, ok := m.stores[sid]; ok {
		m.mu.Unlock()
		return store, nil
	}
	m.mu.Unlock()

	row, err := m.sessions.FindByID(ctx, sid)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	m.mu.Lock()
	// 並行Lookupとの競合を再確認
	if store, ok := m.stores[sid]; ok {
		m.mu.Unlock()
		return store, nil
	}
	store := m.newStore(sid)
	m.stores[sid] = store
	m.mu.Unlock()

	m.watchInvalidation(sid, store)

	go func() {
		restoreCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := store.Restore(restoreCtx, row.RefreshToken); err != nil {
			m.logger.Warn("session restore failed", "session_id", sid, "error", err)
			return
		}
		m.ensureLastLogin(restoreCtx, row.UID)
	}()

	return store, nil
}

// Destroy はセッションをサインアウトし、セッション行を削除する。
func (m *Manager) Destroy(ctx context.Context, sid string) {
	m.mu.Lock()
	store, ok := m.stores[sid]
	delete(m.stores, sid)
	m.mu.Unlock()

	if ok {
		store.SignOut()
	}

	if err := m.sessions.DeleteByID(ctx, sid); err != nil {
		m.logger.Warn("failed to delete browser session", "session_id", sid, "error", err)
	}
}

func (m *Manager) newStore(sid string) *Store {
	return NewStore(m.provider, &sessionPersister{sessions: m.sessions, sid: sid}, m.leeway, m.logger)
}

// watchInvalidation はStoreが未ログイン状態になったときに
// プロセス内キャッシュとセッション行を片付ける購読を登録する。
// 強制サインアウト（API 401/403）経由の遷移もここで回収される。
func (m *Manager) watchInvalidation(sid string, store *Store) {
	store.Subscribe(func(snap Snapshot) {
		if snap.State != StateAnonymous {
			return
		}
		m.mu.Lock()
		delete(m.stores, sid)
		m.mu.Unlock()

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.sessions.DeleteByID(ctx, sid); err != nil {
				m.logger.Warn("failed to delete invalidated session", "session_id", sid, "error", err)
			}
		}()
	})
}

// recordLastLogin はサインイン成功時に最終ログイン日時マーカーを上書きする。
func (m *Manager) recordLastLogin(ctx context.Context, uid string) {
	value := time.Now().Format(markerTimeFormat)
	if err := m.markers.Upsert(ctx, uid, MarkerLastLogin, value); err != nil {
		m.logger.Warn("failed to record last login marker", "uid", uid, "error", err)
	}
}

// ensureLastLogin はセッション復元時、マーカーが未設定の場合のみ書き込む。
// 復元はログインではないため、既存の値は保持する。
func (m *Manager) ensureLastLogin(ctx context.Context, uid string) {
	existing, err := m.markers.Get(ctx, uid, MarkerLastLogin)
	if err != nil {
		m.logger.Warn("failed to read last login marker", "uid", uid, "error", err)
		return
	}
	if existing != "" {
		return
	}
	m.recordLastLogin(ctx, uid)
}
