package relay

// relayMessage forwards a chat message to the receiver's live
// connection, then acknowledges to the sender whether the receiver was
// reachable. "Delivered" means handed to a live transport, nothing
// more; the relay never queues for offline users.
func (s *Server) relayMessage(c *Client, msg *MessagePayload) {
	if msg.ReceiverId == "" {
		s.log.Printf("conn %s: dropping message %q with no receiverId", c.id, msg.Id)
		return
	}

	delivered := false
	if target := s.registry.ResolveConn(msg.ReceiverId); target != nil {
		delivered = target.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Message:     msg,
		})
	}

	if delivered {
		s.stats.Incr(statMessagesRelayed)
	}

	c.queueMessage(MessageDeliveredMessage(msg.Id, delivered))
}

func (s *Server) relayEdit(c *Client, msg *MessagePayload) {
	if msg.ReceiverId == "" {
		s.log.Printf("conn %s: dropping edit of %q with no receiverId", c.id, msg.Id)
		return
	}

	if target := s.registry.ResolveConn(msg.ReceiverId); target != nil {
		target.queueMessage(&ServerMessage{
			BaseMessage:   BaseMessage{Timestamp: Now()},
			MessageEdited: msg,
		})
	}
}

func (s *Server) relayDeletion(c *Client, del *MessageDeleted) {
	if del.ReceiverId == "" {
		s.log.Printf("conn %s: dropping deletion of %q with no receiverId", c.id, del.MessageId)
		return
	}

	if target := s.registry.ResolveConn(del.ReceiverId); target != nil {
		target.queueMessage(&ServerMessage{
			BaseMessage:    BaseMessage{Timestamp: Now()},
			MessageDeleted: &MessageDeleted{MessageId: del.MessageId},
		})
	}
}

// relayTyping stamps the sender's identity from the registry, never
// from the payload. Typing is an ephemeral signal: an offline receiver
// or an unauthenticated sender means a silent drop.
func (s *Server) relayTyping(c *Client, typing *Typing) {
	senderId, ok := s.registry.ResolveUser(c)
	if !ok {
		s.log.Printf("conn %s: dropping typing from unauthenticated connection", c.id)
		return
	}

	if target := s.registry.ResolveConn(typing.ReceiverId); target != nil {
		target.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			UserTyping:  &UserTyping{UserId: senderId, IsTyping: typing.IsTyping},
		})
	}
}
