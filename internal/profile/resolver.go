// Package profile はログインユーザーのマーケットプレイスプロフィール
// （ロール・不正フラグ）を解決し、セッションの認証状態に追従させる。
package profile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nayeem/ticketbari/internal/metrics"
	"github.com/nayeem/ticketbari/internal/model"
	"github.com/nayeem/ticketbari/internal/session"
)

// fetchTimeout はプロフィール取得1回あたりのタイムアウト。
const fetchTimeout = 10 * time.Second

// Client はプロフィール取得に必要なAPIクライアントの部分インターフェース。
type Client interface {
	GetProfile(ctx context.Context) (*model.Profile, error)
}

// Snapshot はある時点のプロフィール解決状態のコピー。
// Loading中またはErrがある間、RoleはRoleUnknownとなり、
// ロール制限ルートはすべて拒否される。
type Snapshot struct {
	Profile *model.Profile
	Role    model.Role
	Err     error
	Loading bool
}

// Listener はプロフィール解決状態の変更通知を受け取る。
type Listener func(Snapshot)

// Resolver は1セッションのプロフィールを解決する。
// セッションストアを購読し、UIDが変わるたびに1回だけ取得する。
// 取得中にUIDが変わった場合、古い取得結果は破棄される。
type Resolver struct {
	client    Client
	collector metrics.MetricsCollector
	logger    *slog.Logger

	mu          sync.Mutex
	profile     *model.Profile
	err         error
	resolvedUID string
	fetchSeq    uint64
	pending     bool
	waitCh      chan struct{} // pendingの間だけ開いている
	listeners   map[int]Listener
	nextID      int
}

// NewResolver はResolverを生成し、storeの購読を開始する。
func NewResolver(store *session.Store, client Client, collector metrics.MetricsCollector, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	closed := make(chan struct{})
	close(closed)

	r := &Resolver{
		client:    client,
		collector: collector,
		logger:    logger,
		waitCh:    closed,
		listeners: make(map[int]Listener),
	}

	store.Subscribe(r.onAuthChange)
	return r
}

// onAuthChange はセッションの認証状態変更に応じてプロフィールを追従させる。
func (r *Resolver) onAuthChange(snap session.Snapshot) {
	switch snap.State {
	case session.StateAuthenticated:
		r.mu.Lock()
		if snap.Identity != nil && snap.Identity.UID == r.resolvedUID {
			// 同一ユーザーの再通知（表示名変更など）では再取得しない
			r.mu.Unlock()
			return
		}
		r.fetchSeq++
		seq := r.fetchSeq
		r.profile = nil
		r.err = nil
		r.resolvedUID = snap.Identity.UID
		r.startPendingLocked()
		r.mu.Unlock()

		go r.fetch(seq)

	case session.StateAnonymous:
		r.mu.Lock()
		r.fetchSeq++ // 進行中の取得を破棄させる
		r.profile = nil
		r.err = nil
		r.resolvedUID = ""
		r.finishPendingLocked()
		listeners, s := r.snapshotLocked()
		r.mu.Unlock()

		notify(listeners, s)
	}
}

// fetch はプロフィールを取得し、取得開始時の世代が最新の場合のみ反映する。
func (r *Resolver) fetch(seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	profile, err := r.client.GetProfile(ctx)

	r.mu.Lock()
	if seq != r.fetchSeq {
		// 取得中にユーザーが切り替わった。古い結果を捨てる
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.profile = nil
		r.err = model.NewProfileUnavailableError()
		r.logger.Error("profile resolution failed", "error", err)
		if r.collector != nil {
			r.collector.RecordProfileFailure()
		}
	} else {
		r.profile = profile
		r.err = nil
	}
	r.finishPendingLocked()
	listeners, s := r.snapshotLocked()
	r.mu.Unlock()

	notify(listeners, s)
}

// Snapshot は現在の解決状態のコピーを返す。
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, s := r.snapshotLocked()
	return s
}

// Role は解決済みのロールを返す。解決前・失敗時はRoleUnknown。
func (r *Resolver) Role() model.Role {
	return r.Snapshot().Role
}

// Wait はプロフィール解決の完了を待ち、解決後のSnapshotを返す。
// 解決済みの場合は即座に返る。
func (r *Resolver) Wait(ctx context.Context) (Snapshot, error) {
	for {
		r.mu.Lock()
		if !r.pending {
			_, s := r.snapshotLocked()
			r.mu.Unlock()
			return s, nil
		}
		ch := r.waitCh
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
}

// Subscribe はリスナーを登録し、解除関数を返す。
// 解決済みの場合は現在のSnapshotを即座に通知する。
func (r *Resolver) Subscribe(fn Listener) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	pending := r.pending
	_, s := r.snapshotLocked()
	r.mu.Unlock()

	if !pending {
		fn(s)
	}

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Refresh はプロフィールを強制的に再取得する。
// プロフィール更新後に呼び、解決済みの値を最新化する。
func (r *Resolver) Refresh() {
	r.mu.Lock()
	if r.resolvedUID == "" {
		r.mu.Unlock()
		return
	}
	r.fetchSeq++
	seq := r.fetchSeq
	r.startPendingLocked()
	r.mu.Unlock()

	go r.fetch(seq)
}

func (r *Resolver) startPendingLocked() {
	if !r.pending {
		r.pending = true
		r.waitCh = make(chan struct{})
	}
}

func (r *Resolver) finishPendingLocked() {
	if r.pending {
		r.pending = false
		close(r.waitCh)
	}
}

// snapshotLocked は通知対象リスナーと現在のSnapshotを返す。呼び出し側がr.muを保持していること。
func (r *Resolver) snapshotLocked() ([]Listener, Snapshot) {
	listeners := make([]Listener, 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}

	role := model.RoleUnknown
	if r.profile != nil && r.err == nil {
		role = model.ParseRole(string(r.profile.Role))
	}
	s := Snapshot{
		Profile: r.profile,
		Role:    role,
		Err:     r.err,
		Loading: r.pending,
	}
	return listeners, s
}

func notify(listeners []Listener, s Snapshot) {
	for _, fn := range listeners {
		fn(s)
	}
}
