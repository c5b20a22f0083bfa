package models

import (
	"time"
)

// User represents a seller authenticated through Steam. Identity issuance
// lives in the auth service; everything else references users by ID only.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:255"`
	SteamID   string    `json:"steam_id" gorm:"uniqueIndex;size:255;not null"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url" gorm:"size:500"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SellOrder represents a commitment by a seller to hand a fixed item set to
// the bot account. Items are frozen at creation and the expiry is never
// extended; only Status, TradeOfferID and UpdatedAt change afterwards.
type SellOrder struct {
	ID           string      `json:"id" gorm:"primaryKey;size:255"`
	UserID       string      `json:"user_id" gorm:"index;size:255;not null"`
	User         User        `json:"-" gorm:"foreignKey:UserID"`
	SteamID      string      `json:"steam_id" gorm:"index;size:255;not null"`
	Items        ItemList    `json:"items" gorm:"type:text;not null"`
	Status       OrderStatus `json:"status" gorm:"index;size:50;not null;default:'pending'"`
	TradeOfferID string      `json:"trade_offer_id,omitempty" gorm:"size:255"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	ExpiresAt    time.Time   `json:"expires_at" gorm:"not null"`
}

// TradeLog is one append-only audit record tied to a sell order. Rows are
// never updated or deleted once written.
type TradeLog struct {
	ID                uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID           string    `json:"order_id" gorm:"index;size:255;not null"`
	Action            string    `json:"action" gorm:"size:100;not null"`
	Details           string    `json:"details"`
	SteamTradeOfferID string    `json:"steam_trade_offer_id,omitempty" gorm:"size:255"`
	CreatedAt         time.Time `json:"created_at"`
}

// Audit actions recorded in trade_logs.
const (
	ActionOrderCreated  = "order_created"
	ActionTradeVerified = "trade_verified"
	ActionStatusUpdated = "status_updated"
	ActionOfferAccepted = "offer_accepted"
	ActionOfferDeclined = "offer_declined"
)
