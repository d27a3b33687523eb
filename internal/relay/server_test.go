package relay

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/go-chat-relay/internal/stats"
	"github.com/npezzotti/go-chat-relay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// newMockStats returns a stats mock that tolerates the metrics
// registered by NewServer.
func newMockStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)
	return su
}

// newTestServer creates a Server instance for testing purposes
func newTestServer(t *testing.T, su *stats.MockStatsUpdater) *Server {
	logger := testutil.TestLogger(t)
	s, err := NewServer(logger, NewRegistry(), su)
	if err != nil {
		t.Fatalf("failed to create test server: %v", err)
	}
	return s
}

// newTestClient builds a client that is registered with the server but
// has no live transport; dispatched events land on its send channel.
func newTestClient(t *testing.T, s *Server) *Client {
	c := &Client{
		log:    testutil.TestLogger(t),
		server: s,
		send:   make(chan *ServerMessage, 16),
		stop:   make(chan struct{}),
	}
	s.addClient(c)
	return c
}

// nextMessage drains one queued message, or nil if none is pending.
// Dispatch is synchronous so no waiting is needed.
func nextMessage(c *Client) *ServerMessage {
	select {
	case msg := <-c.send:
		return msg
	default:
		return nil
	}
}

func TestNewServer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	registry := NewRegistry()
	s, err := NewServer(logger, registry, su)
	assert.NoError(t, err, "expected no error creating server")
	assert.NotNil(t, s, "expected server to be non-nil")
	assert.Equal(t, logger, s.log, "expected logger to be set")
	assert.Equal(t, registry, s.registry, "expected registry to be set")
	assert.NotNil(t, s.clients, "expected clients map to be initialized")
	assert.NotNil(t, s.RegisterChan, "expected RegisterChan to be initialized")
	assert.NotNil(t, s.deRegisterChan, "expected deRegisterChan to be initialized")
	assert.NotNil(t, s.calls, "expected calls map to be initialized")
	assert.NotNil(t, s.newCallId, "expected call id generator to be set")
	assert.NotNil(t, s.stop, "expected stop channel to be initialized")
	assert.NotNil(t, s.done, "expected done channel to be initialized")
}

func TestHandleAuthenticate(t *testing.T) {
	t.Run("broadcasts userOnline to every other connection", func(t *testing.T) {
		su := newMockStats()
		defer su.AssertExpectations(t)
		su.On("Set", statOnlineUsers, 1).Once()

		s := newTestServer(t, su)
		c1 := newTestClient(t, s)
		c2 := newTestClient(t, s)
		c3 := newTestClient(t, s)

		s.handleAuthenticate(c1, &Authenticate{UserId: "u1", UserName: "alice"})

		assert.Nil(t, nextMessage(c1), "expected no presence event on the authenticating connection")
		for _, c := range []*Client{c2, c3} {
			msg := nextMessage(c)
			if assert.NotNil(t, msg, "expected a presence event") {
				assert.NotNil(t, msg.UserOnline, "expected a userOnline event")
				assert.Equal(t, "u1", msg.UserOnline.UserId)
			}
			assert.Nil(t, nextMessage(c), "expected exactly one presence event")
		}
	})

	t.Run("empty userId is dropped", func(t *testing.T) {
		su := newMockStats()
		defer su.AssertExpectations(t)

		s := newTestServer(t, su)
		c1 := newTestClient(t, s)
		c2 := newTestClient(t, s)

		s.handleAuthenticate(c1, &Authenticate{UserId: "", UserName: "nobody"})

		assert.Nil(t, nextMessage(c2), "expected no broadcast for a malformed authenticate")
		assert.Nil(t, s.registry.ResolveConn(""), "expected no registry binding")
	})

	t.Run("re-authenticate broadcasts again without changing online count", func(t *testing.T) {
		su := newMockStats()
		defer su.AssertExpectations(t)
		su.On("Set", statOnlineUsers, 1).Once()

		s := newTestServer(t, su)
		c1 := newTestClient(t, s)
		c2 := newTestClient(t, s)

		s.handleAuthenticate(c1, &Authenticate{UserId: "u1", UserName: "alice"})
		s.handleAuthenticate(c1, &Authenticate{UserId: "u1", UserName: "alice"})

		assert.NotNil(t, nextMessage(c2), "expected first broadcast")
		assert.NotNil(t, nextMessage(c2), "expected repeated broadcast, presence is idempotent")
	})

	t.Run("rebinding to another user broadcasts userOffline for the old id", func(t *testing.T) {
		su := newMockStats()
		defer su.AssertExpectations(t)
		su.On("Set", statOnlineUsers, 1).Times(2)

		s := newTestServer(t, su)
		c1 := newTestClient(t, s)
		observer := newTestClient(t, s)

		s.handleAuthenticate(c1, &Authenticate{UserId: "u1", UserName: "alice"})
		msg := nextMessage(observer)
		if assert.NotNil(t, msg, "expected u1's userOnline") {
			assert.Equal(t, "u1", msg.UserOnline.UserId)
		}

		s.handleAuthenticate(c1, &Authenticate{UserId: "u2", UserName: "also-alice"})

		msg = nextMessage(observer)
		if assert.NotNil(t, msg, "expected a presence event after the rebind") {
			if assert.NotNil(t, msg.UserOffline, "expected the abandoned identity to go offline first") {
				assert.Equal(t, "u1", msg.UserOffline.UserId)
			}
		}

		msg = nextMessage(observer)
		if assert.NotNil(t, msg, "expected the new identity's userOnline") {
			if assert.NotNil(t, msg.UserOnline) {
				assert.Equal(t, "u2", msg.UserOnline.UserId)
			}
		}

		assert.Nil(t, s.registry.ResolveConn("u1"), "expected u1 to be unreachable")
		assert.Equal(t, c1, s.registry.ResolveConn("u2"))
	})

	t.Run("supersede stops the previous connection", func(t *testing.T) {
		su := newMockStats()
		defer su.AssertExpectations(t)
		su.On("Set", statOnlineUsers, 1).Once()

		s := newTestServer(t, su)
		c1 := newTestClient(t, s)
		c2 := newTestClient(t, s)

		s.handleAuthenticate(c1, &Authenticate{UserId: "u1", UserName: "alice"})
		s.handleAuthenticate(c2, &Authenticate{UserId: "u1", UserName: "alice"})

		assert.Equal(t, c2, s.registry.ResolveConn("u1"), "expected the new connection to be bound")
		select {
		case <-c1.stop:
			// superseded connection was retired
		default:
			t.Error("expected the superseded connection to be stopped")
		}
	})
}

func TestRunRegisterDeregister(t *testing.T) {
	su := newMockStats()
	su.On("Incr", statConnections).Times(2)
	su.On("Decr", statConnections).Once()
	su.On("Set", statOnlineUsers, mock.Anything).Times(3)

	s := newTestServer(t, su)
	go s.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	}()

	c1 := &Client{log: testutil.TestLogger(t), server: s, send: make(chan *ServerMessage, 16), stop: make(chan struct{})}
	c2 := &Client{log: testutil.TestLogger(t), server: s, send: make(chan *ServerMessage, 16), stop: make(chan struct{})}

	s.RegisterChan <- c1
	s.RegisterChan <- c2

	assert.Eventually(t, func() bool {
		return len(s.snapshotClients()) == 2
	}, time.Second, 10*time.Millisecond, "expected both clients to be registered")

	msg := <-c1.send
	assert.NotNil(t, msg.RequestAuth, "expected requestAuth to be pushed on connect")
	<-c2.send

	s.handleAuthenticate(c1, &Authenticate{UserId: "u1", UserName: "alice"})
	s.handleAuthenticate(c2, &Authenticate{UserId: "u2", UserName: "bob"})
	nextMessage(c1) // u2's userOnline

	s.deRegisterChan <- c2

	assert.Eventually(t, func() bool {
		msg := nextMessage(c1)
		return msg != nil && msg.UserOffline != nil && msg.UserOffline.UserId == "u2"
	}, time.Second, 10*time.Millisecond, "expected u1 to observe u2 going offline")

	assert.Nil(t, s.registry.ResolveConn("u2"), "expected u2 to be unreachable")
}

func TestServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		s := newTestServer(t, newMockStats())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		go func() {
			select {
			case req := <-s.stop:
				close(req.done)
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := s.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		s := newTestServer(t, newMockStats())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		go func() {
			select {
			case <-s.stop:
				// do not close req.done to simulate a hang
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := s.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})

	t.Run("stops registered clients", func(t *testing.T) {
		su := newMockStats()
		su.On("Incr", statConnections).Once()

		s := newTestServer(t, su)
		go s.Run()

		c := &Client{log: testutil.TestLogger(t), server: s, send: make(chan *ServerMessage, 16), stop: make(chan struct{})}
		s.RegisterChan <- c

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := s.Shutdown(ctx)
		assert.NoError(t, err)

		select {
		case <-c.stop:
			// client was retired
		case <-time.After(time.Second):
			t.Error("expected client stop channel to be closed on shutdown")
		}
	})

	t.Run("cleanup after shutdown does not block", func(t *testing.T) {
		su := newMockStats()
		su.On("Incr", statConnections).Once()

		s := newTestServer(t, su)
		go s.Run()

		c := &Client{log: testutil.TestLogger(t), server: s, send: make(chan *ServerMessage, 16), stop: make(chan struct{})}
		s.RegisterChan <- c

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))

		// the read pump retires through cleanup after the run loop is
		// gone; it must not hang on the deregister channel
		finished := make(chan struct{})
		go func() {
			c.cleanup()
			close(finished)
		}()

		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Error("expected cleanup to return after shutdown")
		}
	})
}

func TestDispatchUnknownEvent(t *testing.T) {
	s := newTestServer(t, newMockStats())
	c := newTestClient(t, s)

	assert.NotPanics(t, func() {
		s.dispatch(&ClientMessage{client: c})
	}, "expected an empty envelope to be dropped without panicking")
	assert.Nil(t, nextMessage(c), "expected no response to an unrecognized event")
}
