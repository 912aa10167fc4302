// Package model はドメインモデルを定義する。
package model

import "time"

// TransportType はチケットの交通手段を表す。
type TransportType string

const (
	TransportBus    TransportType = "bus"
	TransportTrain  TransportType = "train"
	TransportPlane  TransportType = "plane"
	TransportLaunch TransportType = "launch"
)

// Ticket はマーケットプレイスAPIから取得するチケットを表す。
// ゲートウェイはこれを所有せず、APIレスポンスの通過データとして扱う。
// DescriptionHTMLは出品者入力のHTMLであり、レンダリング前にサニタイズが必要。
type Ticket struct {
	ID              string        `json:"id"`
	VendorUID       string        `json:"vendorUid"`
	VendorName      string        `json:"vendorName"`
	Type            TransportType `json:"type"`
	Title           string        `json:"title"`
	DescriptionHTML string        `json:"description"`
	FromLocation    string        `json:"from"`
	ToLocation      string        `json:"to"`
	DepartureAt     time.Time     `json:"departureAt"`
	Price           int64         `json:"price"`
	Quantity        int           `json:"quantity"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// Booking はユーザーの予約を表す。APIレスポンスの通過データ。
type Booking struct {
	ID          string    `json:"id"`
	TicketID    string    `json:"ticketId"`
	TicketTitle string    `json:"ticketTitle"`
	UserUID     string    `json:"userUid"`
	Quantity    int       `json:"quantity"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"` // pending / paid / cancelled
	PaymentURL  string    `json:"paymentUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ManagedUser は管理者向けユーザー一覧の1行を表す。
type ManagedUser struct {
	UID     string `json:"uid"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	IsFraud bool   `json:"isFraud"`
}
