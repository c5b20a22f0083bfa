// Package steam talks to the Steam network: the community login handshake,
// the IEconService trade-offer endpoints and the public inventory endpoint.
// Consumers work against the Connection interface so tests can substitute an
// in-memory fake.
package steam

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuth is returned when Steam rejects the login handshake.
	ErrAuth = errors.New("steam: login rejected")
	// ErrNetwork is returned when Steam cannot be reached or a call fails
	// at the transport level.
	ErrNetwork = errors.New("steam: network error")
	// ErrOfferNotFound is returned when the network does not know the
	// requested trade offer id.
	ErrOfferNotFound = errors.New("steam: trade offer not found")
)

// Credentials hold the bot account login material. SharedSecret is optional;
// when set, a fresh Steam Guard code is derived for every login attempt.
type Credentials struct {
	AccountName  string
	Password     string
	SharedSecret string
}

// Item is one asset as reported by the network. Description fields may be
// empty when Steam omits them.
type Item struct {
	AppID          uint32
	ContextID      string
	AssetID        string
	ClassID        string
	InstanceID     string
	Name           string
	MarketHashName string
	IconURL        string
	Tradable       bool
	Marketable     bool
}

// OfferState is the raw ETradeOfferState code.
type OfferState int

const (
	OfferInvalid           OfferState = 1
	OfferActive            OfferState = 2
	OfferAccepted          OfferState = 3
	OfferCountered         OfferState = 4
	OfferExpired           OfferState = 5
	OfferCanceled          OfferState = 6
	OfferDeclined          OfferState = 7
	OfferInvalidItems      OfferState = 8
	OfferNeedsConfirmation OfferState = 9
	OfferCanceled2FA       OfferState = 10
	OfferInEscrow          OfferState = 11
)

// Offer is one trade offer addressed to or from the bot account.
type Offer struct {
	ID             string
	PartnerSteamID string
	ItemsToGive    []Item
	ItemsToReceive []Item
	State          OfferState
	Created        time.Time
	Updated        time.Time
	Expires        time.Time
}

// EventType discriminates Connection events.
type EventType int

const (
	// EventSessionUp fires once the login handshake completes.
	EventSessionUp EventType = iota
	// EventSessionDown fires when the session is lost; Err carries the cause.
	EventSessionDown
	// EventOfferReceived fires when a new incoming offer is observed.
	EventOfferReceived
	// EventOfferChanged fires when a known offer changes state.
	EventOfferChanged
)

// Event is one asynchronous signal from the connection.
type Event struct {
	Type     EventType
	Err      error
	Offer    *Offer
	OldState OfferState
}

// Connection is one live link to the Steam network. All calls are bounded by
// the passed context; none block past it.
type Connection interface {
	// LogOn performs the login handshake and starts the event feed.
	LogOn(ctx context.Context, creds Credentials) error
	// Events delivers session and offer events until Close.
	Events() <-chan Event
	// GetOffers returns the active offers sent to the bot account.
	GetOffers(ctx context.Context) ([]Offer, error)
	// GetOffer fetches a single offer by id.
	GetOffer(ctx context.Context, offerID string) (*Offer, error)
	// AcceptOffer accepts an incoming offer.
	AcceptOffer(ctx context.Context, offerID string) error
	// DeclineOffer declines an incoming offer.
	DeclineOffer(ctx context.Context, offerID string) error
	// GetInventory lists the tradable items of an account for one app.
	GetInventory(ctx context.Context, steamID string, appID uint32) ([]Item, error)
	// Close tears the connection down and closes the event channel.
	Close() error
}

// Dialer creates Connections. The bot session holds exactly one at a time.
type Dialer interface {
	Dial(ctx context.Context) (Connection, error)
}
