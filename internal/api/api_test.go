package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"qwikskin/internal/models"
	"qwikskin/internal/services/audit"
	"qwikskin/internal/services/auth"
	"qwikskin/internal/services/bot"
	"qwikskin/internal/services/offers"
	"qwikskin/internal/services/orders"
	"qwikskin/internal/services/trade"
	"qwikskin/internal/steam"
)

type stubConn struct {
	offers map[string]*steam.Offer
}

func (c *stubConn) LogOn(context.Context, steam.Credentials) error { return nil }
func (c *stubConn) Events() <-chan steam.Event                     { return make(chan steam.Event) }
func (c *stubConn) GetOffers(context.Context) ([]steam.Offer, error) {
	var out []steam.Offer
	for _, o := range c.offers {
		out = append(out, *o)
	}
	return out, nil
}
func (c *stubConn) GetOffer(_ context.Context, id string) (*steam.Offer, error) {
	if o, ok := c.offers[id]; ok {
		return o, nil
	}
	return nil, steam.ErrOfferNotFound
}
func (c *stubConn) AcceptOffer(context.Context, string) error  { return nil }
func (c *stubConn) DeclineOffer(context.Context, string) error { return nil }
func (c *stubConn) GetInventory(context.Context, string, uint32) ([]steam.Item, error) {
	return nil, nil
}
func (c *stubConn) Close() error { return nil }

type stubDialer struct{ conn *stubConn }

func (d *stubDialer) Dial(context.Context) (steam.Connection, error) { return d.conn, nil }

type testServer struct {
	router *gin.Engine
	conn   *stubConn
	token  string
	userID string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.SellOrder{}, &models.TradeLog{}))

	auditSvc := audit.NewService(db)
	authSvc := auth.NewService(db, "test-secret")
	orderSvc := orders.NewService(db, auditSvc, "https://steamcommunity.com/tradeoffer/new/?partner=4242&token=tok")

	conn := &stubConn{offers: make(map[string]*steam.Offer)}
	botSvc := bot.NewService(&stubDialer{conn: conn}, time.Second)
	offerSvc := offers.NewService(botSvc)
	tradeSvc := trade.NewService(orderSvc, offerSvc)

	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), authSvc, orderSvc, tradeSvc, auditSvc, botSvc, offerSvc,
		steam.Credentials{AccountName: "bot", Password: "pw"})

	srv := &testServer{router: router, conn: conn}

	// Register a user and keep its token for authenticated calls.
	resp := srv.do(t, "POST", "/api/v1/auth/steam", gin.H{
		"steam_id": "76561198000000001",
		"username": "seller",
	}, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	srv.token = body.Token
	srv.userID = body.User.ID
	return srv
}

func (s *testServer) do(t *testing.T, method, path string, payload interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func orderPayload() gin.H {
	return gin.H{
		"items": []gin.H{{
			"asset_id":    "A1",
			"class_id":    "C1",
			"instance_id": "I1",
			"name":        "AK-47 | Redline",
		}},
	}
}

func (s *testServer) createOrder(t *testing.T) string {
	t.Helper()
	resp := s.do(t, "POST", "/api/v1/trade/sell-orders", orderPayload(), s.token)
	require.Equal(t, http.StatusCreated, resp.Code)
	var body struct {
		OrderID  string `json:"order_id"`
		TradeURL string `json:"trade_url"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotEmpty(t, body.OrderID)
	require.Contains(t, body.TradeURL, "tradeoffer/new")
	return body.OrderID
}

func (s *testServer) initializeBot(t *testing.T) {
	t.Helper()
	resp := s.do(t, "POST", "/api/v1/steam/initialize", nil, s.token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"success":true`)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, "POST", "/api/v1/trade/sell-orders", orderPayload(), "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = srv.do(t, "POST", "/api/v1/trade/sell-orders", orderPayload(), "bogus-token")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestCreateAndFetchSellOrder(t *testing.T) {
	srv := newTestServer(t)
	orderID := srv.createOrder(t)

	resp := srv.do(t, "GET", "/api/v1/trade/sell-orders/"+orderID, nil, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"status":"pending"`)

	resp = srv.do(t, "GET", "/api/v1/trade/sell-orders/sell_missing", nil, srv.token)
	require.Equal(t, http.StatusNotFound, resp.Code)

	resp = srv.do(t, "GET", "/api/v1/trade/users/"+srv.userID+"/sell-orders", nil, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), orderID)
}

func TestCreateSellOrderValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, "POST", "/api/v1/trade/sell-orders", gin.H{"items": []gin.H{}}, srv.token)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	// Missing identity triple fields are rejected by binding.
	resp = srv.do(t, "POST", "/api/v1/trade/sell-orders", gin.H{
		"items": []gin.H{{"name": "no identity"}},
	}, srv.token)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestVerifyFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	srv.initializeBot(t)
	orderID := srv.createOrder(t)

	srv.conn.offers["800"] = &steam.Offer{
		ID:    "800",
		State: steam.OfferActive,
		ItemsToReceive: []steam.Item{
			{AssetID: "A1", ClassID: "C1", InstanceID: "I1"},
		},
	}

	resp := srv.do(t, "POST", "/api/v1/trade/verify", gin.H{
		"order_id":       orderID,
		"trade_offer_id": "800",
	}, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"valid":true`)

	resp = srv.do(t, "GET", "/api/v1/trade/sell-orders/"+orderID, nil, srv.token)
	require.Contains(t, resp.Body.String(), `"status":"trade_sent"`)

	// Audit trail shows creation and verification.
	resp = srv.do(t, "GET", "/api/v1/trade/sell-orders/"+orderID+"/logs", nil, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), models.ActionOrderCreated)
	require.Contains(t, resp.Body.String(), models.ActionTradeVerified)
}

func TestVerifyMismatchOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	srv.initializeBot(t)
	orderID := srv.createOrder(t)

	srv.conn.offers["801"] = &steam.Offer{
		ID:    "801",
		State: steam.OfferActive,
		ItemsToReceive: []steam.Item{
			{AssetID: "A2", ClassID: "C2", InstanceID: "I2"},
		},
	}

	resp := srv.do(t, "POST", "/api/v1/trade/verify", gin.H{
		"order_id":       orderID,
		"trade_offer_id": "801",
	}, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "items do not match")
}

func TestVerifyRequiresSession(t *testing.T) {
	srv := newTestServer(t)
	orderID := srv.createOrder(t)

	resp := srv.do(t, "POST", "/api/v1/trade/verify", gin.H{
		"order_id":       orderID,
		"trade_offer_id": "800",
	}, srv.token)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestUpdateOrderStatus(t *testing.T) {
	srv := newTestServer(t)
	orderID := srv.createOrder(t)

	resp := srv.do(t, "PUT", "/api/v1/trade/sell-orders/"+orderID+"/status",
		gin.H{"status": "cancelled"}, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)

	// Illegal edge is rejected by the state machine.
	resp = srv.do(t, "PUT", "/api/v1/trade/sell-orders/"+orderID+"/status",
		gin.H{"status": "completed"}, srv.token)
	require.Equal(t, http.StatusConflict, resp.Code)

	// Values outside the closed set never reach the state machine.
	resp = srv.do(t, "PUT", "/api/v1/trade/sell-orders/"+orderID+"/status",
		gin.H{"status": "shipped"}, srv.token)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestBotStatusAndOffers(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, "GET", "/api/v1/steam/status", nil, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"is_online":false`)

	resp = srv.do(t, "GET", "/api/v1/steam/trade-offers", nil, srv.token)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)

	srv.initializeBot(t)

	resp = srv.do(t, "GET", "/api/v1/steam/status", nil, srv.token)
	require.Contains(t, resp.Body.String(), `"is_online":true`)

	resp = srv.do(t, "GET", "/api/v1/steam/trade-offers", nil, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestAcceptOfferAdvancesLinkedOrder(t *testing.T) {
	srv := newTestServer(t)
	srv.initializeBot(t)
	orderID := srv.createOrder(t)

	srv.conn.offers["810"] = &steam.Offer{
		ID:    "810",
		State: steam.OfferActive,
		ItemsToReceive: []steam.Item{
			{AssetID: "A1", ClassID: "C1", InstanceID: "I1"},
		},
	}

	resp := srv.do(t, "POST", "/api/v1/trade/verify", gin.H{
		"order_id":       orderID,
		"trade_offer_id": "810",
	}, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = srv.do(t, "POST", "/api/v1/steam/trade-offers/810/accept", nil, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = srv.do(t, "GET", "/api/v1/trade/sell-orders/"+orderID, nil, srv.token)
	require.Contains(t, resp.Body.String(), `"status":"items_received"`)
}

func TestDeclineUnknownOffer(t *testing.T) {
	srv := newTestServer(t)
	srv.initializeBot(t)

	resp := srv.do(t, "POST", "/api/v1/steam/trade-offers/999/decline", nil, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestGetInventoryRejectsBadAppID(t *testing.T) {
	srv := newTestServer(t)
	srv.initializeBot(t)

	resp := srv.do(t, "GET", "/api/v1/steam/inventory/76561198000000001?app_id=garbage", nil, srv.token)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = srv.do(t, "GET", "/api/v1/steam/inventory/76561198000000001?app_id=730", nil, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestGetCurrentUser(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, "GET", "/api/v1/auth/me", nil, srv.token)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "76561198000000001")
}
