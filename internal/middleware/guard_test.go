package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nayeem/ticketbari/internal/model"
	"github.com/nayeem/ticketbari/internal/profile"
	"github.com/nayeem/ticketbari/internal/session"
)

// --- モック定義 ---

// roleClient は固定のプロフィールを返すリゾルバー用クライアント。
type roleClient struct {
	profile *model.Profile
	err     error
}

func (c *roleClient) GetProfile(_ context.Context) (*model.Profile, error) {
	return c.profile, c.err
}

// stubRegistry は単一ストア用のリゾルバーを返すResolverRegistry。
type stubRegistry struct {
	resolver *profile.Resolver
}

func (s *stubRegistry) For(_ *session.Store) *profile.Resolver { return s.resolver }

func newGuardFixture(t *testing.T, uid string, role model.Role, profErr error) (*GuardMiddleware, *session.Store) {
	t.Helper()

	store := newAuthenticatedStore(uid)
	client := &roleClient{err: profErr}
	if profErr == nil {
		client.profile = &model.Profile{UID: uid, Role: role}
	}
	resolver := profile.NewResolver(store, client, nil, nil)

	return NewGuardMiddleware(&stubRegistry{resolver: resolver}, nil, nil), store
}

func nextProbe(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

// --- テスト ---

func TestRequireAuth_NoSession_RedirectsToLogin(t *testing.T) {
	gm := NewGuardMiddleware(&stubRegistry{}, nil, nil)

	called := false
	handler := gm.RequireAuth()(nextProbe(&called))

	req := httptest.NewRequest(http.MethodGet, "/Dashboard", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Error("next handler should not run for anonymous request")
	}
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/auth/login?redirect=%2FDashboard" {
		t.Errorf("Location = %q", loc)
	}
}

func TestRequireAuth_Authenticated_PassesThrough(t *testing.T) {
	gm, store := newGuardFixture(t, "uid-1", model.RoleUser, nil)

	called := false
	handler := gm.RequireAuth()(nextProbe(&called))

	req := httptest.NewRequest(http.MethodGet, "/Dashboard", nil)
	req = req.WithContext(ContextWithStore(req.Context(), "sid-1", store))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("next handler not called for authenticated session")
	}
}

func TestRequireAuth_RedirectPreservesQuery(t *testing.T) {
	gm := NewGuardMiddleware(&stubRegistry{}, nil, nil)

	handler := gm.RequireAuth()(nextProbe(new(bool)))

	req := httptest.NewRequest(http.MethodGet, "/Dashboard/bookings?page=2", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if loc := rec.Header().Get("Location"); loc != "/auth/login?redirect=%2FDashboard%2Fbookings%3Fpage%3D2" {
		t.Errorf("Location = %q", loc)
	}
}

func TestRequireRole_MatchingRole_PassesThrough(t *testing.T) {
	gm, store := newGuardFixture(t, "vendor-1", model.RoleVendor, nil)

	called := false
	handler := gm.RequireRole(model.RoleVendor)(nextProbe(&called))

	req := httptest.NewRequest(http.MethodGet, "/Dashboard/add-ticket", nil)
	req = req.WithContext(ContextWithStore(req.Context(), "sid-1", store))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("next handler not called for matching role")
	}
}

func TestRequireRole_RoleMismatch_RedirectsHome(t *testing.T) {
	gm, store := newGuardFixture(t, "uid-1", model.RoleUser, nil)

	called := false
	handler := gm.RequireRole(model.RoleAdmin)(nextProbe(&called))

	req := httptest.NewRequest(http.MethodGet, "/Dashboard/manage-users", nil)
	req = req.WithContext(ContextWithStore(req.Context(), "sid-1", store))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Error("next handler should not run for mismatched role")
	}
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	// ロール不一致はログインではなくホームへ送る
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestRequireRole_ProfileFetchFailed_RedirectsHome(t *testing.T) {
	gm, store := newGuardFixture(t, "uid-1", model.RoleUnknown, errors.New("upstream down"))

	called := false
	handler := gm.RequireRole(model.RoleUser)(nextProbe(&called))

	req := httptest.NewRequest(http.MethodGet, "/Dashboard/bookings", nil)
	req = req.WithContext(ContextWithStore(req.Context(), "sid-1", store))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Error("next handler should not run when profile is unavailable")
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestRequireRole_Anonymous_RedirectsToLogin(t *testing.T) {
	gm := NewGuardMiddleware(&stubRegistry{}, nil, nil)

	handler := gm.RequireRole(model.RoleAdmin)(nextProbe(new(bool)))

	req := httptest.NewRequest(http.MethodGet, "/Dashboard/manage-users", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/auth/login?redirect=%2FDashboard%2Fmanage-users" {
		t.Errorf("Location = %q", loc)
	}
}

func TestRequireRole_MultipleAllowedRoles(t *testing.T) {
	gm, store := newGuardFixture(t, "uid-1", model.RoleVendor, nil)

	called := false
	handler := gm.RequireRole(model.RoleVendor, model.RoleAdmin)(nextProbe(&called))

	req := httptest.NewRequest(http.MethodGet, "/Dashboard/my-tickets", nil)
	req = req.WithContext(ContextWithStore(req.Context(), "sid-1", store))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("vendor should pass a vendor-or-admin guard")
	}
}
