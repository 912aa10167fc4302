package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nayeem/ticketbari/internal/apiclient"
	"github.com/nayeem/ticketbari/internal/middleware"
	"github.com/nayeem/ticketbari/internal/model"
	"github.com/nayeem/ticketbari/internal/profile"
	"github.com/nayeem/ticketbari/internal/security"
)

// --- モック定義 ---

// mockProfileUpdater はIdPプロフィール更新のモック。
type mockProfileUpdater struct {
	updateFn func(ctx context.Context, idToken, displayName, photoURL string) (*model.Identity, error)
	calls    int
}

func (m *mockProfileUpdater) UpdateProfile(ctx context.Context, idToken, displayName, photoURL string) (*model.Identity, error) {
	m.calls++
	if m.updateFn != nil {
		return m.updateFn(ctx, idToken, displayName, photoURL)
	}
	return &model.Identity{UID: "uid-1", DisplayName: displayName, PhotoURL: photoURL}, nil
}

// newUpstream は指定プロフィールを返すマーケットプレイスAPIのフェイクを構築する。
func newUpstream(t *testing.T, prof *model.Profile) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	writeEnvelope := func(w http.ResponseWriter, status int, data any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}

	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeEnvelope(w, http.StatusOK, prof)
		case http.MethodPut:
			var update apiclient.ProfileUpdate
			json.NewDecoder(r.Body).Decode(&update)
			updated := *prof
			if update.Name != "" {
				updated.Name = update.Name
			}
			if update.PhotoURL != "" {
				updated.PhotoURL = update.PhotoURL
			}
			writeEnvelope(w, http.StatusOK, updated)
		}
	})

	mux.HandleFunc("/bookings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeEnvelope(w, http.StatusOK, []model.Booking{{ID: "bk-1", Status: "paid"}})
		case http.MethodPost:
			var req apiclient.BookingRequest
			json.NewDecoder(r.Body).Decode(&req)
			writeEnvelope(w, http.StatusCreated, model.Booking{ID: "bk-new", TicketID: req.TicketID, Status: "pending"})
		}
	})

	mux.HandleFunc("/tickets", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []model.Ticket{})
	})

	mux.HandleFunc("/vendors/me/tickets", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeEnvelope(w, http.StatusOK, []model.Ticket{{ID: "tk-1", Title: "ダッカ発バス"}})
		case http.MethodPost:
			var ticket model.Ticket
			json.NewDecoder(r.Body).Decode(&ticket)
			ticket.ID = "tk-new"
			writeEnvelope(w, http.StatusCreated, ticket)
		}
	})

	mux.HandleFunc("/vendors/me/orders", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []model.Booking{{ID: "order-1"}})
	})

	mux.HandleFunc("/admin/users", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []model.ManagedUser{{UID: "u-1", Role: model.RoleUser}})
	})

	mux.HandleFunc("/admin/users/", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role model.Role `json:"role"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		writeEnvelope(w, http.StatusOK, model.ManagedUser{UID: "u-1", Role: req.Role})
	})

	mux.HandleFunc("/admin/tickets", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []model.Ticket{
			{ID: "tk-1", Type: model.TransportBus},
			{ID: "tk-2", Type: model.TransportTrain},
		})
	})

	mux.HandleFunc("/payments/verify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TransactionID string `json:"transactionId"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.TransactionID == "tx-bad" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "PAYMENT_VERIFY_FAILED", "message": "unknown transaction"},
			})
			return
		}
		writeEnvelope(w, http.StatusOK, model.Booking{ID: "bk-1", Status: "paid"})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type dashboardFixture struct {
	handler  *DashboardHandler
	updater  *mockProfileUpdater
	shared   *apiclient.Client
	registry *profile.Registry
}

func newDashboardFixture(t *testing.T, prof *model.Profile) *dashboardFixture {
	t.Helper()

	upstream := newUpstream(t, prof)
	shared := apiclient.NewClient(upstream.URL, 5*time.Second, nil, nil)
	registry := profile.NewRegistry(shared, nil, nil)
	updater := &mockProfileUpdater{}

	return &dashboardFixture{
		handler:  NewDashboardHandler(shared, registry, updater, security.NewSSRFGuard(), nil),
		updater:  updater,
		shared:   shared,
		registry: registry,
	}
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	store := newAuthenticatedStore("uid-1")
	return req.WithContext(middleware.ContextWithStore(req.Context(), "sid-1", store))
}

// --- テスト ---

func TestGetProfile_ReturnsUpstreamProfile(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleUser, Name: "Nayeem"})

	rec := httptest.NewRecorder()
	f.handler.GetProfile(rec, authedRequest(http.MethodGet, "/Dashboard/profile", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"role":"user"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestGetProfile_NoSession_Returns401(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleUser})

	rec := httptest.NewRecorder()
	f.handler.GetProfile(rec, httptest.NewRequest(http.MethodGet, "/Dashboard/profile", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestUpdateProfile_UpdatesAPIAndIdP(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleUser, Name: "Old"})

	rec := httptest.NewRecorder()
	f.handler.UpdateProfile(rec, authedRequest(http.MethodPut, "/Dashboard/profile",
		`{"name":"New Name","photoUrl":"https://cdn.example.com/photo.jpg"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "New Name") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if f.updater.calls != 1 {
		t.Errorf("IdP UpdateProfile calls = %d, want 1", f.updater.calls)
	}
}

func TestUpdateProfile_PrivatePhotoURL_Rejected(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleUser})

	for _, photoURL := range []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://192.168.1.1/photo.jpg",
		"file:///etc/passwd",
	} {
		rec := httptest.NewRecorder()
		f.handler.UpdateProfile(rec, authedRequest(http.MethodPut, "/Dashboard/profile",
			fmt.Sprintf(`{"photoUrl":%q}`, photoURL)))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", photoURL, rec.Code)
		}
	}
	if f.updater.calls != 0 {
		t.Errorf("IdP should not be called for rejected URLs")
	}
}

func TestCreateBooking_Success(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleUser})

	rec := httptest.NewRecorder()
	f.handler.CreateBooking(rec, authedRequest(http.MethodPost, "/Dashboard/bookings",
		`{"ticketId":"tk-1","quantity":2,"travelDate":"2026-09-01"}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"ticketId":"tk-1"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCreateBooking_FraudFlagged_Returns403(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleUser, IsFraud: true})

	rec := httptest.NewRecorder()
	f.handler.CreateBooking(rec, authedRequest(http.MethodPost, "/Dashboard/bookings",
		`{"ticketId":"tk-1","quantity":1}`))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), model.ErrCodeAccountRestricted) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCreateTicket_FraudFlagged_Returns403(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleVendor, IsFraud: true})

	rec := httptest.NewRecorder()
	f.handler.CreateTicket(rec, authedRequest(http.MethodPost, "/Dashboard/add-ticket",
		`{"title":"ダッカ発バス"}`))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

// 閲覧系は不正フラグ付きでも許可される（制限は作成系の操作レベルのみ）
func TestListBookings_FraudFlagged_StillAllowed(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleUser, IsFraud: true})

	rec := httptest.NewRecorder()
	f.handler.ListBookings(rec, authedRequest(http.MethodGet, "/Dashboard/bookings", ""))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCreateTicket_Vendor_Success(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleVendor})

	rec := httptest.NewRecorder()
	f.handler.CreateTicket(rec, authedRequest(http.MethodPost, "/Dashboard/add-ticket",
		`{"title":"ダッカ発チッタゴン行き","type":"bus","price":1200}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"id":"tk-new"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUpdateUserRole_UnknownRole_Returns400(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleAdmin})

	req := authedRequest(http.MethodPatch, "/Dashboard/manage-users/u-1/role", `{"role":"superadmin"}`)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("uid", "u-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	f.handler.UpdateUserRole(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateUserRole_Success(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleAdmin})

	req := authedRequest(http.MethodPatch, "/Dashboard/manage-users/u-1/role", `{"role":"vendor"}`)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("uid", "u-1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	f.handler.UpdateUserRole(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"role":"vendor"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestPaymentCallback_Success(t *testing.T) {
	upstream := newUpstream(t, &model.Profile{UID: "uid-1", Role: model.RoleUser})
	shared := apiclient.NewClient(upstream.URL, 5*time.Second, nil, nil)
	h := NewPaymentHandler(shared, nil)

	rec := httptest.NewRecorder()
	h.Callback(rec, authedRequest(http.MethodGet, "/payment/callback?transactionId=tx-1", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"paid"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestPaymentCallback_MissingTransactionID_Rejected(t *testing.T) {
	h := NewPaymentHandler(apiclient.NewClient("http://unused", time.Second, nil, nil), nil)

	rec := httptest.NewRecorder()
	h.Callback(rec, authedRequest(http.MethodGet, "/payment/callback", ""))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestPaymentCallback_NoSession_Returns401(t *testing.T) {
	h := NewPaymentHandler(apiclient.NewClient("http://unused", time.Second, nil, nil), nil)

	rec := httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, "/payment/callback?transactionId=tx-1", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestPaymentCallback_UpstreamRejects_PassesThroughError(t *testing.T) {
	upstream := newUpstream(t, &model.Profile{UID: "uid-1", Role: model.RoleUser})
	shared := apiclient.NewClient(upstream.URL, 5*time.Second, nil, nil)
	h := NewPaymentHandler(shared, nil)

	rec := httptest.NewRecorder()
	h.Callback(rec, authedRequest(http.MethodGet, "/payment/callback?transactionId=tx-bad", ""))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "PAYMENT_VERIFY_FAILED") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestBookTicket_Authenticated_CreatesBooking(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleUser})

	req := authedRequest(http.MethodPost, "/tickets/tk-9/book", `{"quantity":2,"travelDate":"2026-09-01"}`)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "tk-9")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	f.handler.BookTicket(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"ticketId":"tk-9"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestBookTicket_NoSession_Returns401(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleUser})

	rec := httptest.NewRecorder()
	f.handler.BookTicket(rec, httptest.NewRequest(http.MethodPost, "/tickets/tk-9/book", strings.NewReader(`{}`)))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), model.ErrCodeNoActiveSession) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestBookTicket_FraudFlagged_Returns403(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleUser, IsFraud: true})

	req := authedRequest(http.MethodPost, "/tickets/tk-9/book", `{"quantity":1}`)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "tk-9")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	f.handler.BookTicket(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}
}

func TestAnalytics_AggregatesUsersAndTickets(t *testing.T) {
	f := newDashboardFixture(t, &model.Profile{UID: "uid-1", Role: model.RoleAdmin})

	rec := httptest.NewRecorder()
	f.handler.Analytics(rec, authedRequest(http.MethodGet, "/Dashboard/analytics", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data struct {
			TotalUsers    int            `json:"totalUsers"`
			TotalTickets  int            `json:"totalTickets"`
			TicketsByType map[string]int `json:"ticketsByType"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Data.TotalUsers != 1 {
		t.Errorf("totalUsers = %d, want 1", body.Data.TotalUsers)
	}
	if body.Data.TotalTickets != 2 {
		t.Errorf("totalTickets = %d, want 2", body.Data.TotalTickets)
	}
	if body.Data.TicketsByType["bus"] != 1 || body.Data.TicketsByType["train"] != 1 {
		t.Errorf("ticketsByType = %v", body.Data.TicketsByType)
	}
}
