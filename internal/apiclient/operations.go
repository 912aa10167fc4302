package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nayeem/ticketbari/internal/model"
)

// ProfileUpdate はプロフィール更新リクエスト。
// 空文字のフィールドは変更されない。
type ProfileUpdate struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	PhotoURL string `json:"photoUrl,omitempty"`
}

// TicketQuery はチケット検索条件。
type TicketQuery struct {
	Type string // 輸送手段（bus, train, plane, launch）
	From string
	To   string
	Date string // YYYY-MM-DD
}

// BookingRequest は予約作成リクエスト。
type BookingRequest struct {
	TicketID   string `json:"ticketId"`
	Quantity   int    `json:"quantity"`
	TravelDate string `json:"travelDate"`
}

// GetProfile は自分のマーケットプレイスプロフィール（ロール・不正フラグ含む）を取得する。
func (c *Client) GetProfile(ctx context.Context) (*model.Profile, error) {
	var profile model.Profile
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// PutProfile は自分のプロフィールを更新する。
func (c *Client) PutProfile(ctx context.Context, update ProfileUpdate) (*model.Profile, error) {
	var profile model.Profile
	if err := c.do(ctx, http.MethodPut, "/users/me", nil, update, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListTickets は公開チケット一覧を検索条件付きで取得する。認証不要。
func (c *Client) ListTickets(ctx context.Context, query TicketQuery) ([]model.Ticket, error) {
	params := url.Values{}
	if query.Type != "" {
		params.Set("type", query.Type)
	}
	if query.From != "" {
		params.Set("from", query.From)
	}
	if query.To != "" {
		params.Set("to", query.To)
	}
	if query.Date != "" {
		params.Set("date", query.Date)
	}

	var tickets []model.Ticket
	if err := c.doPublic(ctx, http.MethodGet, "/tickets", params, nil, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// GetTicket は公開チケット詳細を取得する。認証不要。
func (c *Client) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	var ticket model.Ticket
	if err := c.doPublic(ctx, http.MethodGet, "/tickets/"+url.PathEscape(id), nil, nil, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// CreateTicket は販売者のチケットを作成する。
func (c *Client) CreateTicket(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	var created model.Ticket
	if err := c.do(ctx, http.MethodPost, "/vendors/me/tickets", nil, ticket, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListVendorTickets は販売者自身のチケット一覧を取得する。
func (c *Client) ListVendorTickets(ctx context.Context) ([]model.Ticket, error) {
	var tickets []model.Ticket
	if err := c.do(ctx, http.MethodGet, "/vendors/me/tickets", nil, nil, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// ListVendorOrders は販売者のチケットに対する注文一覧を取得する。
func (c *Client) ListVendorOrders(ctx context.Context) ([]model.Booking, error) {
	var orders []model.Booking
	if err := c.do(ctx, http.MethodGet, "/vendors/me/orders", nil, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListMyBookings は自分の予約一覧を取得する。
func (c *Client) ListMyBookings(ctx context.Context) ([]model.Booking, error) {
	var bookings []model.Booking
	if err := c.do(ctx, http.MethodGet, "/bookings", nil, nil, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

// CreateBooking は予約を作成し、決済URLを含む予約を返す。
func (c *Client) CreateBooking(ctx context.Context, req BookingRequest) (*model.Booking, error) {
	var booking model.Booking
	if err := c.do(ctx, http.MethodPost, "/bookings", nil, req, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

// VerifyPayment は決済ゲートウェイのコールバック後にトランザクションを検証する。
func (c *Client) VerifyPayment(ctx context.Context, transactionID string) (*model.Booking, error) {
	var booking model.Booking
	body := map[string]string{"transactionId": transactionID}
	if err := c.do(ctx, http.MethodPost, "/payments/verify", nil, body, &booking); err != nil {
		return nil, fmt.Errorf("payment verification failed: %w", err)
	}
	return &booking, nil
}

// ListUsers は全ユーザー一覧を取得する。管理者専用。
func (c *Client) ListUsers(ctx context.Context) ([]model.ManagedUser, error) {
	var users []model.ManagedUser
	if err := c.do(ctx, http.MethodGet, "/admin/users", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUserRole は指定ユーザーのロールを変更する。管理者専用。
func (c *Client) UpdateUserRole(ctx context.Context, uid string, role model.Role) (*model.ManagedUser, error) {
	var user model.ManagedUser
	body := map[string]string{"role": string(role)}
	path := "/admin/users/" + url.PathEscape(uid) + "/role"
	if err := c.do(ctx, http.MethodPatch, path, nil, body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListAllTickets は全販売者のチケット一覧を取得する。管理者専用。
func (c *Client) ListAllTickets(ctx context.Context) ([]model.Ticket, error) {
	var tickets []model.Ticket
	if err := c.do(ctx, http.MethodGet, "/admin/tickets", nil, nil, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}
