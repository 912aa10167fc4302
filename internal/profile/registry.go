package profile

import (
	"log/slog"
	"sync"

	"github.com/nayeem/ticketbari/internal/apiclient"
	"github.com/nayeem/ticketbari/internal/metrics"
	"github.com/nayeem/ticketbari/internal/session"
)

// Registry はセッションストアごとのResolverを管理する。
// 共有APIクライアントからストア束縛のクライアントを派生させ、
// ストアが未ログイン状態になったらResolverを破棄する。
type Registry struct {
	shared    *apiclient.Client
	collector metrics.MetricsCollector
	logger    *slog.Logger

	mu        sync.Mutex
	resolvers map[*session.Store]*Resolver
}

// NewRegistry はRegistryを生成する。
func NewRegistry(shared *apiclient.Client, collector metrics.MetricsCollector, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		shared:    shared,
		collector: collector,
		logger:    logger,
		resolvers: make(map[*session.Store]*Resolver),
	}
}

// For は指定ストアのResolverを返す。無ければ作成する。
func (g *Registry) For(store *session.Store) *Resolver {
	g.mu.Lock()
	if r, ok := g.resolvers[store]; ok {
		g.mu.Unlock()
		return r
	}
	g.mu.Unlock()

	// NewResolverはストアを購読するためロック外で生成する
	resolver := NewResolver(store, g.shared.WithTokenSource(store), g.collector, g.logger)

	g.mu.Lock()
	if existing, ok := g.resolvers[store]; ok {
		g.mu.Unlock()
		return existing
	}
	g.resolvers[store] = resolver
	g.mu.Unlock()

	// サインアウトでResolverを回収する
	store.Subscribe(func(snap session.Snapshot) {
		if snap.State != session.StateAnonymous {
			return
		}
		g.mu.Lock()
		delete(g.resolvers, store)
		g.mu.Unlock()
	})

	return resolver
}
