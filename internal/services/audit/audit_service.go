// Package audit keeps the append-only trade log used for dispute review.
package audit

import (
	"time"

	"gorm.io/gorm"

	"qwikskin/internal/models"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Append writes one audit row. When tx is non-nil the row joins the caller's
// transaction, so a status change and its audit record commit or fail
// together.
func (s *Service) Append(tx *gorm.DB, entry *models.TradeLog) error {
	if tx == nil {
		tx = s.db
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return tx.Create(entry).Error
}

// ListByOrder returns an order's audit trail in append order. Rows share a
// timestamp when written in one transaction, so the autoincrement id breaks
// ties.
func (s *Service) ListByOrder(orderID string) ([]models.TradeLog, error) {
	var logs []models.TradeLog
	err := s.db.
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}
