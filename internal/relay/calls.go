package relay

import (
	"fmt"
	"time"

	"github.com/teris-io/shortid"
)

type CallStatus string

const (
	// CallCalling means the caller initiated but the callee has not
	// been reached yet (offline callee stays here until the call is
	// abandoned).
	CallCalling CallStatus = "calling"
	// CallRinging means the callee's client has been handed the
	// callInitiated event.
	CallRinging   CallStatus = "ringing"
	CallConnected CallStatus = "connected"
)

// CallSession tracks one voice or video call between two users. It
// exists from initiation until a terminal transition (answer ends in
// connected, decline/end remove it), at which point it is dropped; the
// relay keeps no call history.
type CallSession struct {
	Id       string
	CallerId string
	CalleeId string
	Type     string
	Status   CallStatus
}

func generateCallId() string {
	id, err := shortid.Generate()
	if err != nil {
		// shortid only fails on clock skew; fall back to a timestamp
		return fmt.Sprintf("call_%d", time.Now().UnixMilli())
	}

	return "call_" + id
}

// initiateCall generates a fresh call id and forwards callInitiated to
// the callee. An offline callee is not an error: the session is
// recorded and the caller's client is responsible for giving up.
func (s *Server) initiateCall(c *Client, req *InitiateCall) {
	callerId, ok := s.registry.ResolveUser(c)
	if !ok {
		s.log.Printf("conn %s: dropping initiateCall from unauthenticated connection", c.id)
		return
	}
	if req.ReceiverId == "" {
		s.log.Printf("conn %s: dropping initiateCall with no receiverId", c.id)
		return
	}

	session := &CallSession{
		Id:       s.newCallId(),
		CallerId: callerId,
		CalleeId: req.ReceiverId,
		Type:     req.Type,
		Status:   CallCalling,
	}

	if target := s.registry.ResolveConn(req.ReceiverId); target != nil {
		target.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			CallInitiated: &CallInitiated{
				From:   callerId,
				Type:   req.Type,
				CallId: session.Id,
			},
		})
		session.Status = CallRinging
	}

	s.addCall(session)
	s.log.Printf("call %s: %s -> %s (%s) %s", session.Id, callerId, req.ReceiverId, req.Type, session.Status)
}

// answerCall fans callAnswered to both ends: the caller needs it to
// leave the outgoing-call screen and the answering client needs it to
// enter the connected state.
func (s *Server) answerCall(c *Client, req *AnswerCall) {
	calleeId, ok := s.registry.ResolveUser(c)
	if !ok {
		s.log.Printf("conn %s: dropping answerCall from unauthenticated connection", c.id)
		return
	}

	if session := s.findCall(req.CallerId, calleeId); session != nil {
		session.Status = CallConnected
		s.log.Printf("call %s: answered by %s", session.Id, calleeId)
	}

	if target := s.registry.ResolveConn(req.CallerId); target != nil {
		target.queueMessage(CallAnsweredMessage())
	}

	c.queueMessage(CallAnsweredMessage())
}

func (s *Server) declineCall(c *Client, req *DeclineCall) {
	calleeId, ok := s.registry.ResolveUser(c)
	if !ok {
		s.log.Printf("conn %s: dropping declineCall from unauthenticated connection", c.id)
		return
	}

	if session := s.findCall(req.CallerId, calleeId); session != nil {
		s.removeCall(session.Id)
		s.log.Printf("call %s: declined by %s", session.Id, calleeId)
	}

	if target := s.registry.ResolveConn(req.CallerId); target != nil {
		target.queueMessage(CallDeclinedMessage())
	}
}

// endCall notifies only the other participant. Either side may end the
// call; ending one that is already gone finds no session and no live
// receiver, which is a harmless no-op.
func (s *Server) endCall(c *Client, req *EndCall) {
	senderId, ok := s.registry.ResolveUser(c)
	if !ok {
		s.log.Printf("conn %s: dropping endCall from unauthenticated connection", c.id)
		return
	}

	if session := s.findCallBetween(senderId, req.ParticipantId); session != nil {
		s.removeCall(session.Id)
		s.log.Printf("call %s: ended by %s", session.Id, senderId)
	}

	if target := s.registry.ResolveConn(req.ParticipantId); target != nil {
		target.queueMessage(CallEndedMessage())
	}
}

// WebRTC signaling passthrough. The SDP and ICE payloads are opaque;
// the relay resolves the named target and stamps the sender's resolved
// identity as "from" so a client cannot spoof another user.

func (s *Server) relayOffer(c *Client, offer *Offer) {
	senderId, ok := s.registry.ResolveUser(c)
	if !ok {
		s.log.Printf("conn %s: dropping offer from unauthenticated connection", c.id)
		return
	}

	if target := s.registry.ResolveConn(offer.ReceiverId); target != nil {
		target.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Offer:       &Offer{From: senderId, Offer: offer.Offer},
		})
	}
}

func (s *Server) relayAnswer(c *Client, answer *Answer) {
	senderId, ok := s.registry.ResolveUser(c)
	if !ok {
		s.log.Printf("conn %s: dropping answer from unauthenticated connection", c.id)
		return
	}

	if target := s.registry.ResolveConn(answer.CallerId); target != nil {
		target.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Answer:      &Answer{From: senderId, Answer: answer.Answer},
		})
	}
}

func (s *Server) relayIceCandidate(c *Client, cand *IceCandidate) {
	senderId, ok := s.registry.ResolveUser(c)
	if !ok {
		s.log.Printf("conn %s: dropping ice candidate from unauthenticated connection", c.id)
		return
	}

	if target := s.registry.ResolveConn(cand.ReceiverId); target != nil {
		target.queueMessage(&ServerMessage{
			BaseMessage:  BaseMessage{Timestamp: Now()},
			IceCandidate: &IceCandidate{From: senderId, Candidate: cand.Candidate},
		})
	}
}

func (s *Server) addCall(session *CallSession) {
	s.callsLock.Lock()
	defer s.callsLock.Unlock()

	s.calls[session.Id] = session
	s.stats.Incr(statActiveCalls)
}

func (s *Server) removeCall(id string) {
	s.callsLock.Lock()
	defer s.callsLock.Unlock()

	if _, ok := s.calls[id]; ok {
		delete(s.calls, id)
		s.stats.Decr(statActiveCalls)
	}
}

// findCall locates the session initiated by callerId toward calleeId.
func (s *Server) findCall(callerId, calleeId string) *CallSession {
	s.callsLock.Lock()
	defer s.callsLock.Unlock()

	for _, session := range s.calls {
		if session.CallerId == callerId && session.CalleeId == calleeId {
			return session
		}
	}

	return nil
}

// findCallBetween locates a session between two users regardless of
// which of them initiated it.
func (s *Server) findCallBetween(a, b string) *CallSession {
	s.callsLock.Lock()
	defer s.callsLock.Unlock()

	for _, session := range s.calls {
		if (session.CallerId == a && session.CalleeId == b) ||
			(session.CallerId == b && session.CalleeId == a) {
			return session
		}
	}

	return nil
}

// dropCallsFor discards any sessions involving userId. Called when the
// user disconnects; the peer learns nothing from the relay, which
// mirrors a never-answered call being a client-side timeout concern.
func (s *Server) dropCallsFor(userId string) {
	s.callsLock.Lock()
	defer s.callsLock.Unlock()

	for id, session := range s.calls {
		if session.CallerId == userId || session.CalleeId == userId {
			delete(s.calls, id)
			s.stats.Decr(statActiveCalls)
		}
	}
}
