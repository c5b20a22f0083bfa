package steam

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

const steamID64Base = 76561197960265728

// ClientConfig configures the web Connection.
type ClientConfig struct {
	APIKey        string
	APIBaseURL    string
	CommunityURL  string
	Timeout       time.Duration
	WatchInterval time.Duration
}

func (c *ClientConfig) applyDefaults() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://api.steampowered.com"
	}
	if c.CommunityURL == "" {
		c.CommunityURL = "https://steamcommunity.com"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = 30 * time.Second
	}
}

// WebDialer dials web Connections backed by the Steam HTTP endpoints.
type WebDialer struct {
	cfg ClientConfig
}

func NewWebDialer(cfg ClientConfig) *WebDialer {
	cfg.applyDefaults()
	return &WebDialer{cfg: cfg}
}

func (d *WebDialer) Dial(_ context.Context) (Connection, error) {
	return &webConnection{
		cfg: d.cfg,
		client: resty.New().
			SetTimeout(d.cfg.Timeout).
			SetHeader("User-Agent", "qwikskin-bot/1.0"),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		known:  make(map[string]OfferState),
	}, nil
}

type webConnection struct {
	cfg       ClientConfig
	client    *resty.Client
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	sessionID string

	mu    sync.Mutex
	known map[string]OfferState
}

type rsaKeyResponse struct {
	Success      bool   `json:"success"`
	PublicKeyMod string `json:"publickey_mod"`
	PublicKeyExp string `json:"publickey_exp"`
	Timestamp    string `json:"timestamp"`
}

type doLoginResponse struct {
	Success       bool   `json:"success"`
	RequiresTwoFA bool   `json:"requires_twofactor"`
	Message       string `json:"message"`
}

func (c *webConnection) LogOn(ctx context.Context, creds Credentials) error {
	var key rsaKeyResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"username": creds.AccountName}).
		SetResult(&key).
		Post(c.cfg.CommunityURL + "/login/getrsakey/")
	if err != nil {
		return fmt.Errorf("%w: fetch rsa key: %v", ErrNetwork, err)
	}
	if resp.IsError() || !key.Success {
		return fmt.Errorf("%w: rsa key request refused", ErrAuth)
	}

	encrypted, err := encryptPassword(creds.Password, key.PublicKeyMod, key.PublicKeyExp)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}

	form := map[string]string{
		"username":          creds.AccountName,
		"password":          encrypted,
		"rsatimestamp":      key.Timestamp,
		"remember_login":    "true",
		"donotcache":        strconv.FormatInt(time.Now().UnixMilli(), 10),
		"twofactorcode":     "",
		"emailauth":         "",
		"loginfriendlyname": "",
		"captchagid":        "-1",
		"captcha_text":      "",
	}
	if creds.SharedSecret != "" {
		// Codes rotate every 30s; derive a fresh one per attempt.
		code, err := GenerateAuthCode(creds.SharedSecret, time.Now())
		if err != nil {
			return fmt.Errorf("generate auth code: %w", err)
		}
		form["twofactorcode"] = code
	}

	var login doLoginResponse
	resp, err = c.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&login).
		Post(c.cfg.CommunityURL + "/login/dologin/")
	if err != nil {
		return fmt.Errorf("%w: login: %v", ErrNetwork, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: login returned %s", ErrNetwork, resp.Status())
	}
	if !login.Success {
		if login.Message != "" {
			return fmt.Errorf("%w: %s", ErrAuth, login.Message)
		}
		return ErrAuth
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "sessionid" {
			c.sessionID = cookie.Value
		}
	}
	if c.sessionID == "" {
		id, err := newSessionID()
		if err != nil {
			return err
		}
		c.sessionID = id
	}

	c.emit(Event{Type: EventSessionUp})
	go c.watchOffers()
	return nil
}

func encryptPassword(password, mod, exp string) (string, error) {
	n, ok := new(big.Int).SetString(mod, 16)
	if !ok {
		return "", fmt.Errorf("invalid rsa modulus")
	}
	e, err := strconv.ParseInt(exp, 16, 64)
	if err != nil {
		return "", fmt.Errorf("invalid rsa exponent: %w", err)
	}
	pub := rsa.PublicKey{N: n, E: int(e)}
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, &pub, []byte(password))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

func newSessionID() (string, error) {
	buf := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (c *webConnection) Events() <-chan Event { return c.events }

func (c *webConnection) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.WithField("event", ev.Type).Warn("Steam event dropped, channel full")
	}
}

// watchOffers polls the received-offer list and turns diffs into events. The
// loop stops on the first network failure; the session owner decides whether
// to dial again.
func (c *webConnection) watchOffers() {
	// Sole sender after LogOn returns, so it owns closing the event feed.
	defer close(c.events)

	ticker := time.NewTicker(c.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
		offers, err := c.GetOffers(ctx)
		cancel()
		if err != nil {
			c.emit(Event{Type: EventSessionDown, Err: err})
			return
		}

		c.mu.Lock()
		for i := range offers {
			offer := offers[i]
			old, seen := c.known[offer.ID]
			c.known[offer.ID] = offer.State
			switch {
			case !seen:
				c.emit(Event{Type: EventOfferReceived, Offer: &offer})
			case old != offer.State:
				c.emit(Event{Type: EventOfferChanged, Offer: &offer, OldState: old})
			}
		}
		c.mu.Unlock()
	}
}

type econItem struct {
	AppID      uint32 `json:"appid"`
	ContextID  string `json:"contextid"`
	AssetID    string `json:"assetid"`
	ClassID    string `json:"classid"`
	InstanceID string `json:"instanceid"`
	Amount     string `json:"amount"`
	Missing    bool   `json:"missing"`
}

type econDescription struct {
	AppID          uint32 `json:"appid"`
	ClassID        string `json:"classid"`
	InstanceID     string `json:"instanceid"`
	Name           string `json:"name"`
	MarketHashName string `json:"market_hash_name"`
	IconURL        string `json:"icon_url"`
	Tradable       int    `json:"tradable"`
	Marketable     int    `json:"marketable"`
}

type econOffer struct {
	TradeOfferID   string     `json:"tradeofferid"`
	AccountIDOther uint32     `json:"accountid_other"`
	State          OfferState `json:"trade_offer_state"`
	ItemsToGive    []econItem `json:"items_to_give"`
	ItemsToReceive []econItem `json:"items_to_receive"`
	TimeCreated    int64      `json:"time_created"`
	TimeUpdated    int64      `json:"time_updated"`
	ExpirationTime int64      `json:"expiration_time"`
}

type tradeOffersResponse struct {
	Response struct {
		Received     []econOffer       `json:"trade_offers_received"`
		Sent         []econOffer       `json:"trade_offers_sent"`
		Descriptions []econDescription `json:"descriptions"`
	} `json:"response"`
}

type tradeOfferResponse struct {
	Response struct {
		Offer        *econOffer        `json:"offer"`
		Descriptions []econDescription `json:"descriptions"`
	} `json:"response"`
}

func (c *webConnection) GetOffers(ctx context.Context) ([]Offer, error) {
	var result tradeOffersResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":                 c.cfg.APIKey,
			"get_received_offers": "1",
			"active_only":         "1",
			"get_descriptions":    "1",
			"language":            "en",
		}).
		SetResult(&result).
		Get(c.cfg.APIBaseURL + "/IEconService/GetTradeOffers/v1/")
	if err != nil {
		return nil, fmt.Errorf("%w: get trade offers: %v", ErrNetwork, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: get trade offers returned %s", ErrNetwork, resp.Status())
	}

	descs := descriptionIndex(result.Response.Descriptions)
	offers := make([]Offer, 0, len(result.Response.Received))
	for _, raw := range result.Response.Received {
		offers = append(offers, mapOffer(raw, descs))
	}
	return offers, nil
}

func (c *webConnection) GetOffer(ctx context.Context, offerID string) (*Offer, error) {
	var result tradeOfferResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":              c.cfg.APIKey,
			"tradeofferid":     offerID,
			"get_descriptions": "1",
			"language":         "en",
		}).
		SetResult(&result).
		Get(c.cfg.APIBaseURL + "/IEconService/GetTradeOffer/v1/")
	if err != nil {
		return nil, fmt.Errorf("%w: get trade offer %s: %v", ErrNetwork, offerID, err)
	}
	if resp.StatusCode() == 404 || result.Response.Offer == nil {
		return nil, fmt.Errorf("%w: %s", ErrOfferNotFound, offerID)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: get trade offer %s returned %s", ErrNetwork, offerID, resp.Status())
	}

	offer := mapOffer(*result.Response.Offer, descriptionIndex(result.Response.Descriptions))
	return &offer, nil
}

func (c *webConnection) AcceptOffer(ctx context.Context, offerID string) error {
	offer, err := c.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Referer", fmt.Sprintf("%s/tradeoffer/%s/", c.cfg.CommunityURL, offerID)).
		SetFormData(map[string]string{
			"sessionid":    c.sessionID,
			"serverid":     "1",
			"tradeofferid": offerID,
			"partner":      offer.PartnerSteamID,
		}).
		Post(fmt.Sprintf("%s/tradeoffer/%s/accept", c.cfg.CommunityURL, offerID))
	if err != nil {
		return fmt.Errorf("%w: accept offer %s: %v", ErrNetwork, offerID, err)
	}
	if resp.StatusCode() == 404 {
		return fmt.Errorf("%w: %s", ErrOfferNotFound, offerID)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: accept offer %s returned %s", ErrNetwork, offerID, resp.Status())
	}
	return nil
}

func (c *webConnection) DeclineOffer(ctx context.Context, offerID string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"key":          c.cfg.APIKey,
			"tradeofferid": offerID,
		}).
		Post(c.cfg.APIBaseURL + "/IEconService/DeclineTradeOffer/v1/")
	if err != nil {
		return fmt.Errorf("%w: decline offer %s: %v", ErrNetwork, offerID, err)
	}
	if resp.StatusCode() == 404 {
		return fmt.Errorf("%w: %s", ErrOfferNotFound, offerID)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: decline offer %s returned %s", ErrNetwork, offerID, resp.Status())
	}
	return nil
}

type inventoryResponse struct {
	Success      int               `json:"success"`
	Assets       []econItem        `json:"assets"`
	Descriptions []econDescription `json:"descriptions"`
}

func (c *webConnection) GetInventory(ctx context.Context, steamID string, appID uint32) ([]Item, error) {
	var result inventoryResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"l": "english", "count": "5000"}).
		SetResult(&result).
		Get(fmt.Sprintf("%s/inventory/%s/%d/2", c.cfg.CommunityURL, steamID, appID))
	if err != nil {
		return nil, fmt.Errorf("%w: get inventory for %s: %v", ErrNetwork, steamID, err)
	}
	if resp.IsError() || result.Success != 1 {
		return nil, fmt.Errorf("%w: get inventory for %s returned %s", ErrNetwork, steamID, resp.Status())
	}

	descs := descriptionIndex(result.Descriptions)
	items := make([]Item, 0, len(result.Assets))
	for _, asset := range result.Assets {
		items = append(items, mapItem(asset, descs))
	}
	return items, nil
}

func (c *webConnection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

func descriptionIndex(descs []econDescription) map[string]econDescription {
	index := make(map[string]econDescription, len(descs))
	for _, d := range descs {
		index[d.ClassID+"_"+d.InstanceID] = d
	}
	return index
}

func mapItem(raw econItem, descs map[string]econDescription) Item {
	item := Item{
		AppID:      raw.AppID,
		ContextID:  raw.ContextID,
		AssetID:    raw.AssetID,
		ClassID:    raw.ClassID,
		InstanceID: raw.InstanceID,
	}
	if d, ok := descs[raw.ClassID+"_"+raw.InstanceID]; ok {
		item.Name = d.Name
		item.MarketHashName = d.MarketHashName
		item.IconURL = d.IconURL
		item.Tradable = d.Tradable == 1
		item.Marketable = d.Marketable == 1
	}
	return item
}

func mapOffer(raw econOffer, descs map[string]econDescription) Offer {
	offer := Offer{
		ID:             raw.TradeOfferID,
		PartnerSteamID: strconv.FormatUint(uint64(raw.AccountIDOther)+steamID64Base, 10),
		State:          raw.State,
		Created:        time.Unix(raw.TimeCreated, 0),
		Updated:        time.Unix(raw.TimeUpdated, 0),
		Expires:        time.Unix(raw.ExpirationTime, 0),
	}
	for _, asset := range raw.ItemsToGive {
		offer.ItemsToGive = append(offer.ItemsToGive, mapItem(asset, descs))
	}
	for _, asset := range raw.ItemsToReceive {
		offer.ItemsToReceive = append(offer.ItemsToReceive, mapItem(asset, descs))
	}
	return offer
}
