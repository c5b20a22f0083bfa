// Package bot owns the single authenticated Steam session used by the whole
// process. The service is constructed explicitly and handed to its consumers;
// there is no package-level singleton.
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"qwikskin/internal/steam"
)

var (
	// ErrNotReady is returned when an operation needs a live session and
	// the bot is not logged in.
	ErrNotReady = errors.New("bot: session not ready")
	// ErrBusy is returned when Initialize is called while another login
	// handshake is already in flight.
	ErrBusy = errors.New("bot: initialization already in progress")
)

// State is the session lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	default:
		return "uninitialized"
	}
}

// Service bridges the event-driven Steam connection into request/response
// calls. At most one connection exists at a time; a failed session stays
// faulted until the next Initialize replaces it.
type Service struct {
	dialer   steam.Dialer
	timeout  time.Duration
	observer func(steam.Event)

	mu         sync.Mutex
	state      State
	conn       steam.Connection
	connecting bool
}

func NewService(dialer steam.Dialer, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{dialer: dialer, timeout: timeout}
}

// SetObserver registers a callback invoked for every connection event, after
// the service has applied its own state handling. Used to push events to
// websocket clients. Must be called before Initialize.
func (s *Service) SetObserver(fn func(steam.Event)) {
	s.observer = fn
}

// Initialize dials the network and performs the login handshake. Re-init of a
// faulted or live session is allowed and replaces the connection. A call that
// overlaps an in-flight handshake is rejected with ErrBusy rather than
// opening a second connection.
func (s *Service) Initialize(ctx context.Context, creds steam.Credentials) error {
	s.mu.Lock()
	if s.connecting {
		s.mu.Unlock()
		return ErrBusy
	}
	s.connecting = true
	old := s.conn
	s.conn = nil
	s.state = StateConnecting
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	if old != nil {
		old.Close()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.setState(StateFaulted)
		return err
	}

	log.WithField("account", creds.AccountName).Info("Logging bot account into Steam")
	if err := conn.LogOn(ctx, creds); err != nil {
		conn.Close()
		s.setState(StateFaulted)
		log.WithError(err).Error("Steam login failed")
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateReady
	s.mu.Unlock()

	go s.consumeEvents(conn)

	log.Info("Steam bot session ready")
	return nil
}

// IsReady is a non-blocking status check.
func (s *Service) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ListPendingOffers returns the active offers addressed to the bot account.
func (s *Service) ListPendingOffers(ctx context.Context) ([]steam.Offer, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	offers, err := conn.GetOffers(ctx)
	if err != nil {
		s.faultOn(conn, err)
		return nil, err
	}
	return offers, nil
}

// GetOffer fetches one offer by id.
func (s *Service) GetOffer(ctx context.Context, offerID string) (*steam.Offer, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	offer, err := conn.GetOffer(ctx, offerID)
	if err != nil {
		s.faultOn(conn, err)
		return nil, err
	}
	return offer, nil
}

// AcceptOffer accepts an incoming offer. It does not touch any sell order;
// linked-order advancement is driven by the trade service.
func (s *Service) AcceptOffer(ctx context.Context, offerID string) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	if err := conn.AcceptOffer(ctx, offerID); err != nil {
		s.faultOn(conn, err)
		return err
	}
	log.WithField("offer_id", offerID).Info("Trade offer accepted")
	return nil
}

// DeclineOffer declines an incoming offer.
func (s *Service) DeclineOffer(ctx context.Context, offerID string) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	if err := conn.DeclineOffer(ctx, offerID); err != nil {
		s.faultOn(conn, err)
		return err
	}
	log.WithField("offer_id", offerID).Info("Trade offer declined")
	return nil
}

// GetInventory lists the tradable items of an account for one app.
func (s *Service) GetInventory(ctx context.Context, steamID string, appID uint32) ([]steam.Item, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	items, err := conn.GetInventory(ctx, steamID, appID)
	if err != nil {
		s.faultOn(conn, err)
		return nil, err
	}
	return items, nil
}

// Shutdown closes the current connection, if any.
func (s *Service) Shutdown() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	if s.state == StateReady {
		s.state = StateUninitialized
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Service) connection() (steam.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady || s.conn == nil {
		return nil, ErrNotReady
	}
	return s.conn, nil
}

// faultOn flips the session to faulted on transport failures. A missing offer
// is an answer from the network, not a session problem.
func (s *Service) faultOn(conn steam.Connection, err error) {
	if errors.Is(err, steam.ErrOfferNotFound) {
		return
	}
	s.mu.Lock()
	if s.conn == conn {
		s.state = StateFaulted
	}
	s.mu.Unlock()
	log.WithError(err).Warn("Steam session faulted")
}

// consumeEvents drains the connection's event feed. Session events mutate the
// login state; offer events are logged and forwarded, never acted upon here.
func (s *Service) consumeEvents(conn steam.Connection) {
	for ev := range conn.Events() {
		switch ev.Type {
		case steam.EventSessionDown:
			s.mu.Lock()
			if s.conn == conn {
				s.state = StateFaulted
			}
			s.mu.Unlock()
			log.WithError(ev.Err).Warn("Steam session lost")
		case steam.EventOfferReceived:
			if ev.Offer != nil {
				log.WithField("offer_id", ev.Offer.ID).Info("New trade offer received")
			}
		case steam.EventOfferChanged:
			if ev.Offer != nil {
				log.WithFields(log.Fields{
					"offer_id":  ev.Offer.ID,
					"old_state": int(ev.OldState),
					"new_state": int(ev.Offer.State),
				}).Info("Trade offer changed state")
			}
		}
		if s.observer != nil {
			s.observer(ev)
		}
	}
}
