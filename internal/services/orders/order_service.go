// Package orders owns the sell-order lifecycle: creation, lookup and the
// guarded state machine. Every status change goes through transitionLocked so
// no caller can write an illegal edge, and each change commits atomically
// with its audit record.
package orders

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"qwikskin/internal/models"
	"qwikskin/internal/services/audit"
)

var (
	// ErrOrderNotFound is returned when no sell order has the given id.
	ErrOrderNotFound = errors.New("orders: sell order not found")
	// ErrEmptyItems is returned when an order is created without items.
	ErrEmptyItems = errors.New("orders: item list must not be empty")
	// ErrInvalidTransition is returned for a status edge outside the state
	// machine.
	ErrInvalidTransition = errors.New("orders: illegal status transition")
)

// Expiry is fixed at creation and never extended.
const orderTTL = 24 * time.Hour

type orderLock struct {
	mu   sync.Mutex
	refs int
}

type Service struct {
	db       *gorm.DB
	audit    *audit.Service
	tradeURL string

	lockMu sync.Mutex
	locks  map[string]*orderLock
}

// NewService builds the lifecycle service. tradeURL is the informational
// trade-offer URL handed to sellers; it embeds no verification capability.
func NewService(db *gorm.DB, auditSvc *audit.Service, tradeURL string) *Service {
	return &Service{
		db:       db,
		audit:    auditSvc,
		tradeURL: tradeURL,
		locks:    make(map[string]*orderLock),
	}
}

// TradeURL returns the bot account's trade-offer URL.
func (s *Service) TradeURL() string { return s.tradeURL }

// Locked runs fn while holding the mutex for the given order id. Calls for
// the same order serialize; calls for different orders do not contend. Lock
// entries are refcounted and dropped once the last holder releases them, so
// the map does not accumulate an entry per order ever touched.
func (s *Service) Locked(orderID string, fn func() error) error {
	s.lockMu.Lock()
	lock, ok := s.locks[orderID]
	if !ok {
		lock = &orderLock{}
		s.locks[orderID] = lock
	}
	lock.refs++
	s.lockMu.Unlock()

	lock.mu.Lock()
	defer func() {
		lock.mu.Unlock()

		s.lockMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, orderID)
		}
		s.lockMu.Unlock()
	}()
	return fn()
}

// Create opens a new sell order in pending status with a 24h expiry and
// writes the order_created audit record in the same transaction.
func (s *Service) Create(userID, steamID string, items models.ItemList) (*models.SellOrder, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}

	now := time.Now()
	order := &models.SellOrder{
		ID:        "sell_" + uuid.NewString(),
		UserID:    userID,
		SteamID:   steamID,
		Items:     items,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(orderTTL),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return s.audit.Append(tx, &models.TradeLog{
			OrderID: order.ID,
			Action:  models.ActionOrderCreated,
			Details: fmt.Sprintf("Created sell order with %d items", len(items)),
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  userID,
		"items":    len(items),
	}).Info("Sell order created")
	return order, nil
}

// Get fetches one order by id.
func (s *Service) Get(orderID string) (*models.SellOrder, error) {
	var order models.SellOrder
	if err := s.db.Where("id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, err
	}
	return &order, nil
}

// FindByOfferID returns the order linked to the given external offer, if any.
func (s *Service) FindByOfferID(offerID string) (*models.SellOrder, error) {
	var order models.SellOrder
	if err := s.db.Where("trade_offer_id = ?", offerID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no order linked to offer %s", ErrOrderNotFound, offerID)
		}
		return nil, err
	}
	return &order, nil
}

// ListByUser returns a user's orders, newest first.
func (s *Service) ListByUser(userID string) ([]models.SellOrder, error) {
	var out []models.SellOrder
	err := s.db.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// Transition moves an order to the requested status through the guarded
// state machine and records a status_updated audit entry.
func (s *Service) Transition(orderID string, next models.OrderStatus) error {
	return s.Locked(orderID, func() error {
		order, err := s.Get(orderID)
		if err != nil {
			return err
		}
		return s.TransitionLocked(order, next, models.ActionStatusUpdated,
			fmt.Sprintf("Order status updated to: %s", next), "")
	})
}

// TransitionLocked applies one status edge plus its audit record in a single
// transaction. The caller must hold the order's lock (see Locked) and pass
// the current row. offerID, when non-empty, is recorded on both the order
// and the audit entry.
func (s *Service) TransitionLocked(order *models.SellOrder, next models.OrderStatus, action, details, offerID string) error {
	if !order.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (order %s)", ErrInvalidTransition, order.Status, next, order.ID)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     next,
		"updated_at": now,
	}
	if offerID != "" {
		updates["trade_offer_id"] = offerID
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.SellOrder{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
			return err
		}
		return s.audit.Append(tx, &models.TradeLog{
			OrderID:           order.ID,
			Action:            action,
			Details:           details,
			SteamTradeOfferID: offerID,
		})
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     order.Status.String(),
		"to":       next.String(),
	}).Info("Sell order transitioned")

	order.Status = next
	order.UpdatedAt = now
	if offerID != "" {
		order.TradeOfferID = offerID
	}
	return nil
}
