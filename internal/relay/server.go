package relay

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/go-chat-relay/internal/stats"
)

const (
	statConnections     = "Connections"
	statOnlineUsers     = "OnlineUsers"
	statMessagesRelayed = "MessagesRelayed"
	statActiveCalls     = "ActiveCalls"
)

type shutdownReq struct {
	done chan struct{}
}

// Server owns the set of live connections and the run loop that
// registers and retires them. Event dispatch itself happens on each
// connection's read goroutine; the registry and call table serialize
// their own state.
type Server struct {
	log            *log.Logger
	registry       *Registry
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	calls          map[string]*CallSession
	callsLock      sync.Mutex
	newCallId      func() string
	stop           chan shutdownReq
	// done is closed when the run loop exits so late deregistrations
	// do not block forever
	done chan struct{}
}

func NewServer(logger *log.Logger, registry *Registry, su stats.StatsProvider) (*Server, error) {
	s := &Server{
		log:            logger,
		registry:       registry,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		calls:          make(map[string]*CallSession),
		newCallId:      generateCallId,
		stop:           make(chan shutdownReq),
		done:           make(chan struct{}),
	}

	su.RegisterMetric(statConnections)
	su.RegisterMetric(statOnlineUsers)
	su.RegisterMetric(statMessagesRelayed)
	su.RegisterMetric(statActiveCalls)

	return s, nil
}

func (s *Server) Run() {
	for {
		select {
		case client := <-s.RegisterChan:
			s.log.Printf("conn %s: connected", client.id)
			s.addClient(client)
			s.stats.Incr(statConnections)
			client.queueMessage(RequestAuthMessage())
		case client := <-s.deRegisterChan:
			s.removeClient(client)
			s.stats.Decr(statConnections)

			userId, ok := s.registry.Disconnect(client)
			if !ok {
				// never authenticated, nothing to announce
				s.log.Printf("conn %s: disconnected", client.id)
				continue
			}

			s.log.Printf("conn %s: user %q disconnected", client.id, userId)
			s.stats.Set(statOnlineUsers, s.registry.OnlineCount())
			s.dropCallsFor(userId)
			s.broadcast(UserOfflineMessage(userId), client)
		case req := <-s.stop:
			s.clientsLock.Lock()
			for c := range s.clients {
				c.stopClient()
			}
			s.clientsLock.Unlock()

			close(s.done)
			close(req.done)
			return
		}
	}
}

// dispatch routes one inbound event to its handler. Unknown or
// malformed events are dropped with a diagnostic; a bad event from one
// connection must never affect the others.
func (s *Server) dispatch(msg *ClientMessage) {
	c := msg.client

	switch {
	case msg.Authenticate != nil:
		s.handleAuthenticate(c, msg.Authenticate)
	case msg.Message != nil:
		s.relayMessage(c, msg.Message)
	case msg.MessageEdited != nil:
		s.relayEdit(c, msg.MessageEdited)
	case msg.MessageDeleted != nil:
		s.relayDeletion(c, msg.MessageDeleted)
	case msg.Typing != nil:
		s.relayTyping(c, msg.Typing)
	case msg.InitiateCall != nil:
		s.initiateCall(c, msg.InitiateCall)
	case msg.AnswerCall != nil:
		s.answerCall(c, msg.AnswerCall)
	case msg.DeclineCall != nil:
		s.declineCall(c, msg.DeclineCall)
	case msg.EndCall != nil:
		s.endCall(c, msg.EndCall)
	case msg.Offer != nil:
		s.relayOffer(c, msg.Offer)
	case msg.Answer != nil:
		s.relayAnswer(c, msg.Answer)
	case msg.IceCandidate != nil:
		s.relayIceCandidate(c, msg.IceCandidate)
	default:
		s.log.Printf("conn %s: dropping event with no recognized payload", c.id)
	}
}

func (s *Server) handleAuthenticate(c *Client, auth *Authenticate) {
	if auth.UserId == "" {
		s.log.Printf("conn %s: dropping authenticate with empty userId", c.id)
		return
	}

	prev, wentOffline, newlyOnline := s.registry.Authenticate(c, auth.UserId, auth.UserName)
	if prev != nil {
		// the new binding wins; retire the superseded connection so it
		// does not linger unroutable
		s.log.Printf("conn %s: superseded by conn %s for user %q", prev.id, c.id, auth.UserId)
		prev.stopClient()
	}

	if wentOffline != "" {
		// the connection abandoned its previous identity; that user
		// just went offline and the other clients need to hear it
		s.dropCallsFor(wentOffline)
		s.broadcast(UserOfflineMessage(wentOffline), c)
	}

	if newlyOnline || wentOffline != "" {
		s.stats.Set(statOnlineUsers, s.registry.OnlineCount())
	}

	s.log.Printf("conn %s: user %q (%s) authenticated", c.id, auth.UserName, auth.UserId)

	// presence events are idempotent signals, so a re-authenticate
	// broadcasting again is fine
	s.broadcast(UserOnlineMessage(auth.UserId), c)
}

// broadcast queues msg on every live connection except skip. The
// client set is snapshotted first; connections joining mid-broadcast
// do not receive this event.
func (s *Server) broadcast(msg *ServerMessage, skip *Client) {
	for _, c := range s.snapshotClients() {
		if c == skip {
			continue
		}
		c.queueMessage(msg)
	}
}

func (s *Server) snapshotClients() []*Client {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()

	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}

	return clients
}

func (s *Server) addClient(c *Client) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *Client) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()
	delete(s.clients, c)
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) Shutdown(ctx context.Context) error {
	req := shutdownReq{done: make(chan struct{})}

	select {
	case s.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
