package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"qwikskin/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.TradeLog{}))
	return db
}

func TestAppendAndListByOrder(t *testing.T) {
	svc := NewService(openTestDB(t))

	now := time.Now()
	entries := []*models.TradeLog{
		{OrderID: "sell_1", Action: models.ActionOrderCreated, CreatedAt: now.Add(-2 * time.Minute)},
		{OrderID: "sell_1", Action: models.ActionTradeVerified, SteamTradeOfferID: "999", CreatedAt: now.Add(-time.Minute)},
		{OrderID: "sell_2", Action: models.ActionOrderCreated, CreatedAt: now},
		{OrderID: "sell_1", Action: models.ActionStatusUpdated, CreatedAt: now},
	}
	for _, e := range entries {
		require.NoError(t, svc.Append(nil, e))
	}

	logs, err := svc.ListByOrder("sell_1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.Equal(t, models.ActionOrderCreated, logs[0].Action)
	require.Equal(t, models.ActionTradeVerified, logs[1].Action)
	require.Equal(t, models.ActionStatusUpdated, logs[2].Action)
	for i := 1; i < len(logs); i++ {
		require.False(t, logs[i].CreatedAt.Before(logs[i-1].CreatedAt))
	}
}

func TestAppendInTransactionRollsBackTogether(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Append(tx, &models.TradeLog{OrderID: "sell_1", Action: models.ActionStatusUpdated}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	logs, err := svc.ListByOrder("sell_1")
	require.NoError(t, err)
	require.Empty(t, logs, "rolled-back appends must not surface")
}

func TestAppendStampsCreationTime(t *testing.T) {
	svc := NewService(openTestDB(t))

	entry := &models.TradeLog{OrderID: "sell_1", Action: models.ActionOrderCreated}
	require.NoError(t, svc.Append(nil, entry))
	require.False(t, entry.CreatedAt.IsZero())
}
