package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"qwikskin/internal/api"
	"qwikskin/internal/config"
	"qwikskin/internal/database"
	"qwikskin/internal/services/audit"
	"qwikskin/internal/services/auth"
	"qwikskin/internal/services/bot"
	"qwikskin/internal/services/offers"
	"qwikskin/internal/services/orders"
	"qwikskin/internal/services/trade"
	"qwikskin/internal/steam"
	"qwikskin/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found")
	}

	cfg := config.Load()
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
		log.SetFormatter(&log.JSONFormatter{})
	}

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}

	// Services
	auditService := audit.NewService(db)
	authService := auth.NewService(db, cfg.JWTSecret)
	tradeURL := fmt.Sprintf("https://steamcommunity.com/tradeoffer/new/?partner=%s&token=%s",
		cfg.BotPartnerID, cfg.BotTradeToken)
	orderService := orders.NewService(db, auditService, tradeURL)

	dialer := steam.NewWebDialer(steam.ClientConfig{
		APIKey:  cfg.SteamAPIKey,
		Timeout: cfg.SteamTimeout,
	})
	botService := bot.NewService(dialer, cfg.SteamTimeout)
	offerService := offers.NewService(botService)
	tradeService := trade.NewService(orderService, offerService)

	// WebSocket hub, fed by bot session events
	wsHub := websocket.NewHub()
	go wsHub.Run()
	botService.SetObserver(func(ev steam.Event) {
		switch ev.Type {
		case steam.EventSessionUp:
			wsHub.Broadcast("bot_session_up", nil)
		case steam.EventSessionDown:
			wsHub.Broadcast("bot_session_down", gin.H{"error": fmt.Sprint(ev.Err)})
		case steam.EventOfferReceived:
			wsHub.Broadcast("offer_received", ev.Offer)
		case steam.EventOfferChanged:
			wsHub.Broadcast("offer_changed", gin.H{"offer": ev.Offer, "old_state": ev.OldState})
		}
	})

	botCreds := steam.Credentials{
		AccountName:  cfg.SteamUsername,
		Password:     cfg.SteamPassword,
		SharedSecret: cfg.SteamSharedSecret,
	}

	// Periodic offer poll. Each tick is an independent, timeout-bounded
	// unit of work; the core services never schedule anything themselves.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.OfferPollInterval), func() {
		if !botService.IsReady() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SteamTimeout)
		defer cancel()

		pending, err := offerService.ListPending(ctx)
		if err != nil {
			log.WithError(err).Warn("Offer poll failed")
			return
		}
		log.WithField("count", len(pending)).Debug("Offer poll completed")
		wsHub.Broadcast("pending_offers", pending)
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to schedule offer poll")
	}
	scheduler.Start()
	defer scheduler.Stop()
	defer botService.Shutdown()

	r := gin.Default()
	r.Use(api.CORSMiddleware())

	apiGroup := r.Group("/api/v1")
	api.SetupRoutes(apiGroup, authService, orderService, tradeService, auditService, botService, offerService, botCreds)

	r.GET("/ws", func(c *gin.Context) {
		wsHub.HandleConnection(c.Writer, c.Request)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	log.WithField("port", cfg.Port).Info("Server starting")
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}
