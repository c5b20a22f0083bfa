// Package offers is the typed adapter between the bot session's raw Steam
// records and the domain shapes the rest of the system works with.
package offers

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"qwikskin/internal/models"
	"qwikskin/internal/services/bot"
	"qwikskin/internal/steam"
)

// Defaults substituted when the network omits item metadata.
const (
	DefaultAppID     uint32 = 730
	DefaultContextID        = "2"
)

// Service exposes offer and inventory reads over the bot session, with the
// outbound calls fenced by a circuit breaker so a flapping Steam API stops
// being hammered.
type Service struct {
	bot     *bot.Service
	breaker *gobreaker.CircuitBreaker
}

func NewService(botSvc *bot.Service) *Service {
	return &Service{
		bot: botSvc,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "steam",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests > 10 && ratio >= 0.6
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(log.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker state changed")
			},
		}),
	}
}

// ListPending returns the active offers addressed to the bot, mapped into the
// domain shape.
func (s *Service) ListPending(ctx context.Context) ([]models.ExternalOffer, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.bot.ListPendingOffers(ctx)
	})
	if err != nil {
		return nil, err
	}

	raw := res.([]steam.Offer)
	mapped := make([]models.ExternalOffer, 0, len(raw))
	for i := range raw {
		mapped = append(mapped, MapOffer(&raw[i]))
	}
	return mapped, nil
}

// Get fetches a single offer by id.
func (s *Service) Get(ctx context.Context, offerID string) (*models.ExternalOffer, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.bot.GetOffer(ctx, offerID)
	})
	if err != nil {
		return nil, err
	}

	offer := MapOffer(res.(*steam.Offer))
	return &offer, nil
}

// Accept accepts an incoming offer.
func (s *Service) Accept(ctx context.Context, offerID string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.bot.AcceptOffer(ctx, offerID)
	})
	return err
}

// Decline declines an incoming offer.
func (s *Service) Decline(ctx context.Context, offerID string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.bot.DeclineOffer(ctx, offerID)
	})
	return err
}

// GetInventory lists an account's tradable items for one app.
func (s *Service) GetInventory(ctx context.Context, steamID string, appID uint32) ([]models.InventoryItem, error) {
	if appID == 0 {
		appID = DefaultAppID
	}
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.bot.GetInventory(ctx, steamID, appID)
	})
	if err != nil {
		return nil, err
	}

	raw := res.([]steam.Item)
	items := make([]models.InventoryItem, 0, len(raw))
	for _, item := range raw {
		if !item.Tradable {
			continue
		}
		items = append(items, MapInventoryItem(item))
	}
	return items, nil
}

// MapOffer translates a raw Steam offer into the domain shape.
func MapOffer(raw *steam.Offer) models.ExternalOffer {
	offer := models.ExternalOffer{
		ID:             raw.ID,
		PartnerSteamID: raw.PartnerSteamID,
		State:          mapOfferState(raw.State),
		CreatedAt:      raw.Created,
		UpdatedAt:      raw.Updated,
		ExpiresAt:      raw.Expires,
	}
	for _, item := range raw.ItemsToReceive {
		offer.ItemsToReceive = append(offer.ItemsToReceive, mapTradeItem(item))
	}
	for _, item := range raw.ItemsToGive {
		offer.ItemsToGive = append(offer.ItemsToGive, mapTradeItem(item))
	}
	return offer
}

// MapInventoryItem translates a raw Steam asset, substituting the permissive
// defaults for missing scope metadata.
func MapInventoryItem(raw steam.Item) models.InventoryItem {
	item := models.InventoryItem{
		TradeItem:  mapTradeItem(raw),
		AppID:      raw.AppID,
		ContextID:  raw.ContextID,
		IconURL:    raw.IconURL,
		Tradable:   raw.Tradable,
		Marketable: raw.Marketable,
	}
	if item.AppID == 0 {
		item.AppID = DefaultAppID
	}
	if item.ContextID == "" {
		item.ContextID = DefaultContextID
	}
	return item
}

func mapTradeItem(raw steam.Item) models.TradeItem {
	return models.TradeItem{
		AssetID:        raw.AssetID,
		ClassID:        raw.ClassID,
		InstanceID:     raw.InstanceID,
		Name:           raw.Name,
		MarketHashName: raw.MarketHashName,
	}
}

func mapOfferState(state steam.OfferState) models.OfferState {
	switch state {
	case steam.OfferActive, steam.OfferNeedsConfirmation, steam.OfferInEscrow:
		return models.OfferStateActive
	case steam.OfferAccepted:
		return models.OfferStateAccepted
	case steam.OfferDeclined, steam.OfferCanceled, steam.OfferCanceled2FA:
		return models.OfferStateDeclined
	case steam.OfferExpired:
		return models.OfferStateExpired
	default:
		return models.OfferStateUnknown
	}
}
