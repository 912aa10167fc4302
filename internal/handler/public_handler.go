package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nayeem/ticketbari/internal/apiclient"
	"github.com/nayeem/ticketbari/internal/model"
	"github.com/nayeem/ticketbari/internal/security"
)

// PublicAPIClient は公開ページが必要とするAPIクライアントの部分インターフェース。
// 認証トークンなしで呼び出せる操作のみを含む。
type PublicAPIClient interface {
	ListTickets(ctx context.Context, query apiclient.TicketQuery) ([]model.Ticket, error)
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
}

// AdvisorySource は運行情報キャッシュの読み取りインターフェース。
type AdvisorySource interface {
	Advisories() ([]model.Advisory, time.Time)
}

// PublicHandler は認証不要の公開ページのHTTPハンドラー。
// チケット検索・詳細・運行情報を扱う。
type PublicHandler struct {
	api        PublicAPIClient
	sanitizer  security.ContentSanitizerService
	advisories AdvisorySource
	logger     *slog.Logger
}

// NewPublicHandler はPublicHandlerを生成する。
func NewPublicHandler(
	api PublicAPIClient,
	sanitizer security.ContentSanitizerService,
	advisories AdvisorySource,
	logger *slog.Logger,
) *PublicHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublicHandler{
		api:        api,
		sanitizer:  sanitizer,
		advisories: advisories,
		logger:     logger,
	}
}

// advisoriesPayload は運行情報レスポンス。
type advisoriesPayload struct {
	Advisories []model.Advisory `json:"advisories"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Home はトップページのペイロードを返す。
// GET /
func (h *PublicHandler) Home(w http.ResponseWriter, r *http.Request) {
	advisories, updatedAt := h.advisories.Advisories()
	writeData(w, http.StatusOK, map[string]any{
		"page": "home",
		"advisories": advisoriesPayload{
			Advisories: advisories,
			UpdatedAt:  updatedAt,
		},
	})
}

// ListTickets はチケット検索結果を返す。
// GET /tickets?type=bus&from=Dhaka&to=Chittagong&date=2026-09-01
// 出品者入力の説明HTMLはレンダリング前にサニタイズする。
func (h *PublicHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tickets, err := h.api.ListTickets(r.Context(), apiclient.TicketQuery{
		Type: q.Get("type"),
		From: q.Get("from"),
		To:   q.Get("to"),
		Date: q.Get("date"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	for i := range tickets {
		tickets[i].DescriptionHTML = h.sanitizer.Sanitize(tickets[i].DescriptionHTML)
	}

	writeData(w, http.StatusOK, tickets)
}

// GetTicket はチケット詳細を返す。
// GET /tickets/{id}
func (h *PublicHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.api.GetTicket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	ticket.DescriptionHTML = h.sanitizer.Sanitize(ticket.DescriptionHTML)
	writeData(w, http.StatusOK, ticket)
}

// Contact はお問い合わせページのペイロードを返す。
// GET /contact
func (h *PublicHandler) Contact(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"page": "contact"})
}

// About は会社概要ページのペイロードを返す。
// GET /about
func (h *PublicHandler) About(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"page": "about"})
}

// ListAdvisories は運行情報キャッシュを返す。
// GET /advisories
func (h *PublicHandler) ListAdvisories(w http.ResponseWriter, r *http.Request) {
	advisories, updatedAt := h.advisories.Advisories()
	writeData(w, http.StatusOK, advisoriesPayload{
		Advisories: advisories,
		UpdatedAt:  updatedAt,
	})
}
