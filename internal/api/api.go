package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"

	"qwikskin/internal/models"
	"qwikskin/internal/services/audit"
	"qwikskin/internal/services/auth"
	"qwikskin/internal/services/bot"
	"qwikskin/internal/services/offers"
	"qwikskin/internal/services/orders"
	"qwikskin/internal/services/trade"
	"qwikskin/internal/steam"
)

type APIHandler struct {
	authService  *auth.Service
	orderService *orders.Service
	tradeService *trade.Service
	auditService *audit.Service
	botService   *bot.Service
	offerService *offers.Service
	botCreds     steam.Credentials
}

func SetupRoutes(r *gin.RouterGroup, authSvc *auth.Service, orderSvc *orders.Service, tradeSvc *trade.Service, auditSvc *audit.Service, botSvc *bot.Service, offerSvc *offers.Service, botCreds steam.Credentials) {
	handler := &APIHandler{
		authService:  authSvc,
		orderService: orderSvc,
		tradeService: tradeSvc,
		auditService: auditSvc,
		botService:   botSvc,
		offerService: offerSvc,
		botCreds:     botCreds,
	}

	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/steam", handler.AuthenticateWithSteam)
		authRoutes.GET("/me", AuthRequired(authSvc), handler.GetCurrentUser)
	}

	tradeRoutes := r.Group("/trade", AuthRequired(authSvc))
	{
		tradeRoutes.POST("/sell-orders", handler.CreateSellOrder)
		tradeRoutes.GET("/sell-orders/:orderId", handler.GetSellOrder)
		tradeRoutes.GET("/sell-orders/:orderId/logs", handler.GetSellOrderLogs)
		tradeRoutes.PUT("/sell-orders/:orderId/status", handler.UpdateOrderStatus)
		tradeRoutes.GET("/users/:userId/sell-orders", handler.GetUserSellOrders)
		tradeRoutes.POST("/verify", handler.VerifyTrade)
	}

	steamRoutes := r.Group("/steam", AuthRequired(authSvc))
	{
		steamRoutes.GET("/status", handler.GetBotStatus)
		steamRoutes.POST("/initialize", handler.InitializeBot)
		steamRoutes.GET("/trade-offers", handler.GetTradeOffers)
		steamRoutes.POST("/trade-offers/:offerId/accept", handler.AcceptTradeOffer)
		steamRoutes.POST("/trade-offers/:offerId/decline", handler.DeclineTradeOffer)
		steamRoutes.GET("/inventory/:steamid", handler.GetInventory)
	}
}

// respondError maps domain failures onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, steam.ErrOfferNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orders.ErrEmptyItems):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, bot.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, bot.ErrNotReady),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, steam.ErrAuth),
		errors.Is(err, steam.ErrNetwork):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Auth handlers

func (h *APIHandler) AuthenticateWithSteam(c *gin.Context) {
	var req struct {
		SteamID   string `json:"steam_id" binding:"required"`
		Username  string `json:"username"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, isNew, err := h.authService.AuthenticateWithSteam(req.SteamID, req.Username, req.AvatarURL)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.authService.IssueToken(user)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":        user,
		"token":       token,
		"is_new_user": isNew,
	})
}

func (h *APIHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.authService.GetUser(c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Trade handlers

func (h *APIHandler) CreateSellOrder(c *gin.Context) {
	var req struct {
		Items []models.TradeItem `json:"items" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.Create(c.GetString("user_id"), c.GetString("steam_id"), req.Items)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id":   order.ID,
		"trade_url":  h.orderService.TradeURL(),
		"expires_at": order.ExpiresAt,
	})
}

func (h *APIHandler) GetSellOrder(c *gin.Context) {
	order, err := h.orderService.Get(c.Param("orderId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *APIHandler) GetSellOrderLogs(c *gin.Context) {
	// Confirm the order exists so an unknown id reads as 404, not an
	// empty trail.
	if _, err := h.orderService.Get(c.Param("orderId")); err != nil {
		respondError(c, err)
		return
	}

	logs, err := h.auditService.ListByOrder(c.Param("orderId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *APIHandler) GetUserSellOrders(c *gin.Context) {
	out, err := h.orderService.ListByUser(c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (h *APIHandler) UpdateOrderStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orderService.Transition(c.Param("orderId"), status); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *APIHandler) VerifyTrade(c *gin.Context) {
	var req struct {
		OrderID      string `json:"order_id" binding:"required"`
		TradeOfferID string `json:"trade_offer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.tradeService.Verify(c.Request.Context(), req.OrderID, req.TradeOfferID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Steam bot handlers

func (h *APIHandler) GetBotStatus(c *gin.Context) {
	state := h.botService.State()
	c.JSON(http.StatusOK, gin.H{
		"is_online":    state == bot.StateReady,
		"is_logged_in": state == bot.StateReady,
		"state":        state.String(),
	})
}

func (h *APIHandler) InitializeBot(c *gin.Context) {
	if err := h.botService.Initialize(c.Request.Context(), h.botCreds); err != nil {
		if errors.Is(err, bot.ErrBusy) {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "Failed to initialize Steam bot: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Steam bot initialized successfully",
	})
}

func (h *APIHandler) GetTradeOffers(c *gin.Context) {
	out, err := h.offerService.ListPending(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offers": out})
}

func (h *APIHandler) AcceptTradeOffer(c *gin.Context) {
	offerID := c.Param("offerId")
	if err := h.offerService.Accept(c.Request.Context(), offerID); err != nil {
		respondError(c, err)
		return
	}

	// Advance the linked sell order, if this offer was matched to one.
	if err := h.tradeService.OfferAccepted(offerID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Trade offer " + offerID + " accepted successfully",
	})
}

func (h *APIHandler) DeclineTradeOffer(c *gin.Context) {
	offerID := c.Param("offerId")
	if err := h.offerService.Decline(c.Request.Context(), offerID); err != nil {
		respondError(c, err)
		return
	}

	if err := h.tradeService.OfferDeclined(offerID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Trade offer " + offerID + " declined",
	})
}

func (h *APIHandler) GetInventory(c *gin.Context) {
	appID64, err := strconv.ParseUint(c.DefaultQuery("app_id", "730"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "app_id must be a positive integer"})
		return
	}

	items, err := h.offerService.GetInventory(c.Request.Context(), c.Param("steamid"), uint32(appID64))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inventory": items})
}
