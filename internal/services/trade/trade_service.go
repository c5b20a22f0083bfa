// Package trade reconciles external trade offers against pending sell
// orders.
package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"qwikskin/internal/models"
	"qwikskin/internal/services/orders"
	"qwikskin/internal/steam"
)

// Verification reasons reported to callers.
const (
	ReasonOrderNotFound = "order not found"
	ReasonNotPending    = "not pending"
	ReasonExpired       = "expired"
	ReasonOfferNotFound = "offer not found"
	ReasonItemMismatch  = "items do not match"
)

// Gateway is the slice of the offer adapter the reconciler needs.
type Gateway interface {
	Get(ctx context.Context, offerID string) (*models.ExternalOffer, error)
}

// Result is the outcome of a verification. Reason is set only when invalid.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type Service struct {
	orders  *orders.Service
	gateway Gateway
}

func NewService(orderSvc *orders.Service, gateway Gateway) *Service {
	return &Service{orders: orderSvc, gateway: gateway}
}

// Verify decides whether the external offer satisfies the sell order: the
// offer's items-to-bot must equal the order's item set by identity triple,
// order-independent and duplicate-insensitive. On a match the order advances
// to trade_sent with the offer linked and audited. The whole check-then-act
// runs under the order's lock, so a second verification of the same order
// loses on the not-pending check and the order can never match two offers.
// Retrying a still-pending order is safe; nothing is mutated on mismatch.
func (s *Service) Verify(ctx context.Context, orderID, offerID string) (Result, error) {
	var result Result
	err := s.orders.Locked(orderID, func() error {
		order, err := s.orders.Get(orderID)
		if err != nil {
			if errors.Is(err, orders.ErrOrderNotFound) {
				result = Result{Reason: ReasonOrderNotFound}
				return nil
			}
			return err
		}

		if order.Status != models.StatusPending {
			result = Result{Reason: ReasonNotPending}
			return nil
		}

		if time.Now().After(order.ExpiresAt) {
			// The only path that fires expiry.
			if err := s.orders.TransitionLocked(order, models.StatusExpired,
				models.ActionStatusUpdated, "Order expired before a matching offer arrived", ""); err != nil {
				return err
			}
			result = Result{Reason: ReasonExpired}
			return nil
		}

		offer, err := s.gateway.Get(ctx, offerID)
		if err != nil {
			if errors.Is(err, steam.ErrOfferNotFound) {
				result = Result{Reason: ReasonOfferNotFound}
				return nil
			}
			return err
		}

		offered := models.ItemList(offer.ItemsToReceive).KeySet()
		if !order.Items.MatchesKeys(offered) {
			log.WithFields(log.Fields{
				"order_id": orderID,
				"offer_id": offerID,
			}).Info("Trade offer items do not match sell order")
			result = Result{Reason: ReasonItemMismatch}
			return nil
		}

		if err := s.orders.TransitionLocked(order, models.StatusTradeSent,
			models.ActionTradeVerified,
			fmt.Sprintf("Trade offer %s verified and matched", offerID), offerID); err != nil {
			return err
		}
		result = Result{Valid: true}
		return nil
	})
	return result, err
}

// OfferAccepted advances the order linked to the offer from trade_sent to
// items_received. Accepting an offer no order points at is a plain
// administrative action and a no-op here.
func (s *Service) OfferAccepted(offerID string) error {
	return s.advanceLinked(offerID, models.StatusItemsReceived,
		models.ActionOfferAccepted,
		fmt.Sprintf("Trade offer %s accepted, items received by bot", offerID))
}

// OfferDeclined cancels the order linked to the offer.
func (s *Service) OfferDeclined(offerID string) error {
	return s.advanceLinked(offerID, models.StatusCancelled,
		models.ActionOfferDeclined,
		fmt.Sprintf("Trade offer %s declined, order cancelled", offerID))
}

func (s *Service) advanceLinked(offerID string, next models.OrderStatus, action, details string) error {
	linked, err := s.orders.FindByOfferID(offerID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			return nil
		}
		return err
	}

	return s.orders.Locked(linked.ID, func() error {
		order, err := s.orders.Get(linked.ID)
		if err != nil {
			return err
		}
		if order.Status != models.StatusTradeSent {
			log.WithFields(log.Fields{
				"order_id": order.ID,
				"offer_id": offerID,
				"status":   order.Status.String(),
			}).Info("Linked order not in trade_sent, leaving as is")
			return nil
		}
		return s.orders.TransitionLocked(order, next, action, details, offerID)
	})
}
