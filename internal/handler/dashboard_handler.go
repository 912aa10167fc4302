package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nayeem/ticketbari/internal/apiclient"
	"github.com/nayeem/ticketbari/internal/middleware"
	"github.com/nayeem/ticketbari/internal/model"
	"github.com/nayeem/ticketbari/internal/profile"
	"github.com/nayeem/ticketbari/internal/security"
	"github.com/nayeem/ticketbari/internal/session"
)

// ProfileUpdater はダッシュボードが利用するIdPプロフィール更新の部分インターフェース。
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, idToken, displayName, photoURL string) (*model.Identity, error)
}

// ResolverRegistry はセッションストアからプロフィールリゾルバーを取得するインターフェース。
type ResolverRegistry interface {
	For(store *session.Store) *profile.Resolver
}

// DashboardHandler はダッシュボード配下のHTTPハンドラー。
// ルートガードを通過済みのリクエストを前提とし、
// 不正フラグ付きアカウントの制限は作成系の操作レベルで適用する。
type DashboardHandler struct {
	shared    *apiclient.Client
	resolvers ResolverRegistry
	provider  ProfileUpdater
	ssrf      security.SSRFGuardService
	logger    *slog.Logger
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(
	shared *apiclient.Client,
	resolvers ResolverRegistry,
	provider ProfileUpdater,
	ssrf security.SSRFGuardService,
	logger *slog.Logger,
) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardHandler{
		shared:    shared,
		resolvers: resolvers,
		provider:  provider,
		ssrf:      ssrf,
		logger:    logger,
	}
}

// sessionContext はリクエストのセッションからAPIクライアントとリゾルバーを導出する。
func (h *DashboardHandler) sessionContext(r *http.Request) (*apiclient.Client, *session.Store, *profile.Resolver, error) {
	store, err := middleware.StoreFromContext(r.Context())
	if err != nil {
		return nil, nil, nil, model.NewNoActiveSessionError()
	}
	return h.shared.WithTokenSource(store), store, h.resolvers.For(store), nil
}

// requireUnrestricted は不正フラグ付きアカウントの作成系操作を拒否する。
func (h *DashboardHandler) requireUnrestricted(ctx context.Context, resolver *profile.Resolver) error {
	snap, err := resolver.Wait(ctx)
	if err != nil {
		return err
	}
	if snap.Err != nil {
		return snap.Err
	}
	if snap.Profile != nil && snap.Profile.IsFraud {
		return model.NewAccountRestrictedError()
	}
	return nil
}

// overviewPayload はダッシュボードトップのレスポンス。
type overviewPayload struct {
	Page    string         `json:"page"`
	Profile *model.Profile `json:"profile"`
	Role    model.Role     `json:"role"`
}

// Overview はダッシュボードトップのペイロードを返す。
// GET /Dashboard
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	_, _, resolver, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := resolver.Wait(r.Context())
	if err != nil {
		return
	}
	if snap.Err != nil {
		writeError(w, snap.Err)
		return
	}

	writeData(w, http.StatusOK, overviewPayload{
		Page:    "dashboard",
		Profile: snap.Profile,
		Role:    snap.Role,
	})
}

// GetProfile は自分のプロフィールを返す。
// GET /Dashboard/profile
func (h *DashboardHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	client, _, _, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	prof, err := client.GetProfile(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, prof)
}

// profileUpdateRequest はプロフィール更新のリクエストボディ。
type profileUpdateRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	PhotoURL string `json:"photoUrl"`
}

// UpdateProfile はプロフィールを更新する。
// PUT /Dashboard/profile
// マーケットプレイスAPIとIdPの両方を更新し、ロール追従のためリゾルバーを再取得させる。
// 写真URLはサーバー側で取得される可能性があるため、SSRFガードで検証する。
func (h *DashboardHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	client, store, resolver, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req profileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, model.NewInvalidCredentialsFormatError("リクエストボディを読み取れません"))
		return
	}

	if req.PhotoURL != "" {
		if err := h.ssrf.ValidateURL(req.PhotoURL); err != nil {
			h.logger.Warn("unsafe photo URL rejected",
				slog.String("error", err.Error()),
			)
			writeError(w, model.NewInvalidCredentialsFormatError("写真URLが不正です"))
			return
		}
	}

	prof, err := client.PutProfile(r.Context(), apiclient.ProfileUpdate{
		Name:     req.Name,
		Phone:    req.Phone,
		PhotoURL: req.PhotoURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// IdP側の表示名・写真も追従させる。失敗してもAPI側の更新は成立している
	if req.Name != "" || req.PhotoURL != "" {
		if idToken, _, tokenErr := store.FreshToken(r.Context()); tokenErr == nil {
			identity, updateErr := h.provider.UpdateProfile(r.Context(), idToken, req.Name, req.PhotoURL)
			if updateErr != nil {
				h.logger.Warn("idp profile update failed",
					slog.String("error", updateErr.Error()),
				)
			} else {
				store.UpdateIdentity(identity)
			}
		}
	}

	resolver.Refresh()
	writeData(w, http.StatusOK, prof)
}

// ListBookings は自分の予約一覧を返す。
// GET /Dashboard/bookings
func (h *DashboardHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	client, _, _, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	bookings, err := client.ListMyBookings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, bookings)
}

// CreateBooking は予約を作成する。
// POST /Dashboard/bookings
// 不正フラグ付きアカウントは拒否する。
func (h *DashboardHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	client, _, resolver, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.requireUnrestricted(r.Context(), resolver); err != nil {
		writeError(w, err)
		return
	}

	var req apiclient.BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, model.NewInvalidCredentialsFormatError("リクエストボディを読み取れません"))
		return
	}

	booking, err := client.CreateBooking(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusCreated, booking)
}

// AddTicketPage はチケット出品ページのペイロードを返す。
// GET /Dashboard/add-ticket
func (h *DashboardHandler) AddTicketPage(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"page": "add-ticket"})
}

// CreateTicket はチケットを出品する。
// POST /Dashboard/add-ticket
// 不正フラグ付きアカウントは拒否する。
func (h *DashboardHandler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	client, _, resolver, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.requireUnrestricted(r.Context(), resolver); err != nil {
		writeError(w, err)
		return
	}

	var ticket model.Ticket
	if err := decodeJSON(r, &ticket); err != nil {
		writeError(w, model.NewInvalidCredentialsFormatError("リクエストボディを読み取れません"))
		return
	}

	created, err := client.CreateTicket(r.Context(), &ticket)
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusCreated, created)
}

// ListMyTickets は自分の出品チケット一覧を返す。
// GET /Dashboard/my-tickets
func (h *DashboardHandler) ListMyTickets(w http.ResponseWriter, r *http.Request) {
	client, _, _, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tickets, err := client.ListVendorTickets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, tickets)
}

// ListOrders は自分の出品チケットへの注文一覧を返す。
// GET /Dashboard/orders
func (h *DashboardHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	client, _, _, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	orders, err := client.ListVendorOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, orders)
}

// ListUsers は全ユーザー一覧を返す（管理者用）。
// GET /Dashboard/manage-users
func (h *DashboardHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	client, _, _, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	users, err := client.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, users)
}

// UpdateUserRole はユーザーのロールを変更する（管理者用）。
// PATCH /Dashboard/manage-users/{uid}/role
func (h *DashboardHandler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	client, _, _, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, model.NewInvalidCredentialsFormatError("リクエストボディを読み取れません"))
		return
	}

	role := model.ParseRole(req.Role)
	if role == model.RoleUnknown {
		writeError(w, model.NewInvalidCredentialsFormatError("不明なロールです"))
		return
	}

	updated, err := client.UpdateUserRole(r.Context(), chi.URLParam(r, "uid"), role)
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, updated)
}

// ListAllTickets は全チケット一覧を返す（管理者用）。
// GET /Dashboard/manage-tickets
func (h *DashboardHandler) ListAllTickets(w http.ResponseWriter, r *http.Request) {
	client, _, _, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tickets, err := client.ListAllTickets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, tickets)
}

// analyticsPayload は管理者向けの集計レスポンス。
type analyticsPayload struct {
	TotalUsers    int            `json:"totalUsers"`
	UsersByRole   map[string]int `json:"usersByRole"`
	FraudFlagged  int            `json:"fraudFlagged"`
	TotalTickets  int            `json:"totalTickets"`
	TicketsByType map[string]int `json:"ticketsByType"`
}

// Analytics はユーザーとチケットの集計を返す（管理者用）。
// GET /Dashboard/analytics
// 集計はマーケットプレイスAPIの一覧を元にゲートウェイ側で行う。
func (h *DashboardHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	client, _, _, err := h.sessionContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	users, err := client.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	tickets, err := client.ListAllTickets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	payload := analyticsPayload{
		TotalUsers:    len(users),
		UsersByRole:   make(map[string]int),
		TotalTickets:  len(tickets),
		TicketsByType: make(map[string]int),
	}
	for _, u := range users {
		payload.UsersByRole[string(u.Role)]++
		if u.IsFraud {
			payload.FraudFlagged++
		}
	}
	for _, t := range tickets {
		payload.TicketsByType[string(t.Type)]++
	}

	writeData(w, http.StatusOK, payload)
}

// BookTicket は公開チケット詳細からの予約を受け付ける。
// POST /tickets/{id}/book
// ダッシュボードガードの外にあるため、セッションの有無はここで検証する。
// ガードのリダイレクトではなく401を返し、呼び出し側がログインへ誘導する。
func (h *DashboardHandler) BookTicket(w http.ResponseWriter, r *http.Request) {
	store, err := middleware.StoreFromContext(r.Context())
	if err != nil {
		writeError(w, model.NewNoActiveSessionError())
		return
	}

	// 復元中のセッションは解決を待つ
	select {
	case <-store.Ready():
	case <-r.Context().Done():
		return
	}

	if store.Snapshot().State != session.StateAuthenticated {
		writeError(w, model.NewNoActiveSessionError())
		return
	}

	client := h.shared.WithTokenSource(store)
	if err := h.requireUnrestricted(r.Context(), h.resolvers.For(store)); err != nil {
		writeError(w, err)
		return
	}

	var req apiclient.BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, model.NewInvalidCredentialsFormatError("リクエストボディを読み取れません"))
		return
	}
	req.TicketID = chi.URLParam(r, "id")

	booking, err := client.CreateBooking(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusCreated, booking)
}
