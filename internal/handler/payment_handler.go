package handler

import (
	"log/slog"
	"net/http"

	"github.com/nayeem/ticketbari/internal/apiclient"
	"github.com/nayeem/ticketbari/internal/middleware"
	"github.com/nayeem/ticketbari/internal/model"
	"github.com/nayeem/ticketbari/internal/session"
)

// PaymentHandler は決済ゲートウェイからのコールバックを処理する。
// 決済ページからの戻りはダッシュボードのガード外に配置し、
// セッションの復元完了を独自に待ってから検証APIを呼ぶ。
type PaymentHandler struct {
	shared *apiclient.Client
	logger *slog.Logger
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(shared *apiclient.Client, logger *slog.Logger) *PaymentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentHandler{
		shared: shared,
		logger: logger,
	}
}

// Callback は決済ゲートウェイからのリダイレクトを受けて決済を検証する。
// GET /payment/callback?transactionId=xxx
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	transactionID := r.URL.Query().Get("transactionId")
	if transactionID == "" {
		writeError(w, model.NewPaymentVerifyFailedError("取引IDがありません"))
		return
	}

	store, err := middleware.StoreFromContext(r.Context())
	if err != nil {
		writeError(w, model.NewNoActiveSessionError())
		return
	}

	// 決済ページから戻った直後はセッション復元中の可能性があるため、解決を待つ
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
	booking, err := client.VerifyPayment(r.Context(), transactionID)
	if err != nil {
		h.logger.Error("payment verification failed",
			slog.String("transaction_id", transactionID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	h.logger.Info("payment verified",
		slog.String("transaction_id", transactionID),
		slog.String("booking_id", booking.ID),
		slog.String("status", booking.Status),
	)
	writeData(w, http.StatusOK, booking)
}
