package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TradeItem is one tradable unit as listed on a sell order. The triple
// (AssetID, ClassID, InstanceID) identifies the unit on the Steam network;
// the remaining fields are display metadata and play no part in matching.
type TradeItem struct {
	AssetID        string `json:"asset_id" binding:"required"`
	ClassID        string `json:"class_id" binding:"required"`
	InstanceID     string `json:"instance_id" binding:"required"`
	Name           string `json:"name"`
	MarketHashName string `json:"market_hash_name"`
	Condition      string `json:"condition,omitempty"`
	Rarity         string `json:"rarity,omitempty"`
}

// ItemKey is the identity triple used for offer matching.
type ItemKey struct {
	AssetID    string
	ClassID    string
	InstanceID string
}

// Key returns the matching identity of the item.
func (i TradeItem) Key() ItemKey {
	return ItemKey{AssetID: i.AssetID, ClassID: i.ClassID, InstanceID: i.InstanceID}
}

// ItemList is a sell order's item sequence. It is stored in the items text
// column as a versioned JSON envelope so the encoding can evolve without
// touching callers; core logic only ever sees the decoded slice.
type ItemList []TradeItem

const itemListVersion = 1

type itemListEnvelope struct {
	Version int         `json:"v"`
	Items   []TradeItem `json:"items"`
}

// Value implements driver.Valuer.
func (l ItemList) Value() (driver.Value, error) {
	raw, err := json.Marshal(itemListEnvelope{Version: itemListVersion, Items: l})
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner. A bare JSON array is accepted as the
// pre-envelope encoding used by early rows.
func (l *ItemList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into ItemList", value)
	}

	var env itemListEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Version > 0 {
		*l = env.Items
		return nil
	}

	var legacy []TradeItem
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return errors.New("items column holds neither an envelope nor an array")
	}
	*l = legacy
	return nil
}

// KeySet returns the set of identity triples in the list, collapsing
// duplicates.
func (l ItemList) KeySet() map[ItemKey]struct{} {
	set := make(map[ItemKey]struct{}, len(l))
	for _, item := range l {
		set[item.Key()] = struct{}{}
	}
	return set
}

// MatchesKeys reports whether the list's identity set equals the given set.
// The comparison is order-independent and duplicate-insensitive.
func (l ItemList) MatchesKeys(other map[ItemKey]struct{}) bool {
	mine := l.KeySet()
	if len(mine) != len(other) {
		return false
	}
	for key := range mine {
		if _, ok := other[key]; !ok {
			return false
		}
	}
	return true
}

// OfferState mirrors the lifecycle of an offer as reported by the network.
type OfferState string

const (
	OfferStateActive   OfferState = "active"
	OfferStateAccepted OfferState = "accepted"
	OfferStateDeclined OfferState = "declined"
	OfferStateExpired  OfferState = "expired"
	OfferStateUnknown  OfferState = "unknown"
)

// ExternalOffer is a trade offer observed on the Steam network. It is fetched
// on demand and never persisted.
type ExternalOffer struct {
	ID             string      `json:"id"`
	PartnerSteamID string      `json:"partner_steam_id"`
	ItemsToReceive []TradeItem `json:"items_to_receive"`
	ItemsToGive    []TradeItem `json:"items_to_give"`
	State          OfferState  `json:"state"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
}

// InventoryItem is one tradable unit from an account inventory, including the
// app/context scope that TradeItem leaves implicit.
type InventoryItem struct {
	TradeItem
	AppID      uint32 `json:"app_id"`
	ContextID  string `json:"context_id"`
	IconURL    string `json:"icon_url,omitempty"`
	Tradable   bool   `json:"tradable"`
	Marketable bool   `json:"marketable"`
}
