package bot

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qwikskin/internal/steam"
)

type fakeConn struct {
	logOnErr   error
	logOnGate  chan struct{}
	events     chan steam.Event
	closed     atomic.Bool
	offers     []steam.Offer
	offersErr  error
	getErr     error
	acceptErr  error
	declineErr error
	items      []steam.Item
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan steam.Event, 8)}
}

func (f *fakeConn) LogOn(ctx context.Context, _ steam.Credentials) error {
	if f.logOnGate != nil {
		select {
		case <-f.logOnGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.logOnErr
}

func (f *fakeConn) Events() <-chan steam.Event { return f.events }

func (f *fakeConn) GetOffers(context.Context) ([]steam.Offer, error) {
	return f.offers, f.offersErr
}

func (f *fakeConn) GetOffer(_ context.Context, id string) (*steam.Offer, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for i := range f.offers {
		if f.offers[i].ID == id {
			return &f.offers[i], nil
		}
	}
	return nil, steam.ErrOfferNotFound
}

func (f *fakeConn) AcceptOffer(context.Context, string) error  { return f.acceptErr }
func (f *fakeConn) DeclineOffer(context.Context, string) error { return f.declineErr }

func (f *fakeConn) GetInventory(context.Context, string, uint32) ([]steam.Item, error) {
	return f.items, nil
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeDialer struct {
	conns []*fakeConn
	dials atomic.Int32
}

func (d *fakeDialer) Dial(context.Context) (steam.Connection, error) {
	n := int(d.dials.Add(1)) - 1
	if n >= len(d.conns) {
		n = len(d.conns) - 1
	}
	return d.conns[n], nil
}

func testCreds() steam.Credentials {
	return steam.Credentials{AccountName: "bot", Password: "hunter2"}
}

func TestInitializeSuccess(t *testing.T) {
	dialer := &fakeDialer{conns: []*fakeConn{newFakeConn()}}
	svc := NewService(dialer, time.Second)

	require.False(t, svc.IsReady())
	require.NoError(t, svc.Initialize(context.Background(), testCreds()))
	require.True(t, svc.IsReady())
	require.Equal(t, StateReady, svc.State())
}

func TestInitializeAuthFailure(t *testing.T) {
	conn := newFakeConn()
	conn.logOnErr = steam.ErrAuth
	svc := NewService(&fakeDialer{conns: []*fakeConn{conn}}, time.Second)

	err := svc.Initialize(context.Background(), testCreds())
	require.ErrorIs(t, err, steam.ErrAuth)
	require.Equal(t, StateFaulted, svc.State())
	require.True(t, conn.closed.Load())
}

func TestInitializeRejectsConcurrentAttempt(t *testing.T) {
	conn := newFakeConn()
	conn.logOnGate = make(chan struct{})
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	svc := NewService(dialer, 5*time.Second)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- svc.Initialize(context.Background(), testCreds())
	}()

	require.Eventually(t, func() bool {
		return svc.State() == StateConnecting
	}, time.Second, 5*time.Millisecond)

	// The overlapping call must not open a second connection.
	err := svc.Initialize(context.Background(), testCreds())
	require.ErrorIs(t, err, ErrBusy)

	close(conn.logOnGate)
	require.NoError(t, <-firstDone)
	require.Equal(t, int32(1), dialer.dials.Load())
	require.True(t, svc.IsReady())
}

func TestReinitializeReplacesConnection(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	svc := NewService(dialer, time.Second)

	require.NoError(t, svc.Initialize(context.Background(), testCreds()))
	require.NoError(t, svc.Initialize(context.Background(), testCreds()))

	require.Equal(t, int32(2), dialer.dials.Load())
	require.True(t, first.closed.Load())
	require.True(t, svc.IsReady())
}

func TestOperationsFailFastWhenNotReady(t *testing.T) {
	svc := NewService(&fakeDialer{conns: []*fakeConn{newFakeConn()}}, time.Second)
	ctx := context.Background()

	_, err := svc.ListPendingOffers(ctx)
	require.ErrorIs(t, err, ErrNotReady)
	_, err = svc.GetOffer(ctx, "1")
	require.ErrorIs(t, err, ErrNotReady)
	require.ErrorIs(t, svc.AcceptOffer(ctx, "1"), ErrNotReady)
	require.ErrorIs(t, svc.DeclineOffer(ctx, "1"), ErrNotReady)
	_, err = svc.GetInventory(ctx, "765", 730)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestNetworkErrorFaultsSession(t *testing.T) {
	conn := newFakeConn()
	conn.offersErr = steam.ErrNetwork
	svc := NewService(&fakeDialer{conns: []*fakeConn{conn}}, time.Second)
	require.NoError(t, svc.Initialize(context.Background(), testCreds()))

	_, err := svc.ListPendingOffers(context.Background())
	require.ErrorIs(t, err, steam.ErrNetwork)
	require.Equal(t, StateFaulted, svc.State())

	// Follow-up calls fail fast rather than touching the dead session.
	_, err = svc.ListPendingOffers(context.Background())
	require.ErrorIs(t, err, ErrNotReady)
}

func TestOfferNotFoundDoesNotFault(t *testing.T) {
	conn := newFakeConn()
	svc := NewService(&fakeDialer{conns: []*fakeConn{conn}}, time.Second)
	require.NoError(t, svc.Initialize(context.Background(), testCreds()))

	_, err := svc.GetOffer(context.Background(), "missing")
	require.ErrorIs(t, err, steam.ErrOfferNotFound)
	require.True(t, svc.IsReady())
}

func TestSessionDownEventFlipsState(t *testing.T) {
	conn := newFakeConn()
	svc := NewService(&fakeDialer{conns: []*fakeConn{conn}}, time.Second)
	require.NoError(t, svc.Initialize(context.Background(), testCreds()))

	conn.events <- steam.Event{Type: steam.EventSessionDown, Err: steam.ErrNetwork}

	require.Eventually(t, func() bool {
		return svc.State() == StateFaulted
	}, time.Second, 5*time.Millisecond)
}

func TestObserverSeesOfferEvents(t *testing.T) {
	conn := newFakeConn()
	svc := NewService(&fakeDialer{conns: []*fakeConn{conn}}, time.Second)

	seen := make(chan steam.Event, 1)
	svc.SetObserver(func(ev steam.Event) { seen <- ev })

	require.NoError(t, svc.Initialize(context.Background(), testCreds()))

	offer := steam.Offer{ID: "42", State: steam.OfferActive}
	conn.events <- steam.Event{Type: steam.EventOfferReceived, Offer: &offer}

	select {
	case ev := <-seen:
		require.Equal(t, steam.EventOfferReceived, ev.Type)
		require.Equal(t, "42", ev.Offer.ID)
	case <-time.After(time.Second):
		t.Fatal("observer never saw the offer event")
	}
}
