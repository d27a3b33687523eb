package relay

import (
	"encoding/json"
	"time"
)

type BaseMessage struct {
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the envelope for every client-to-server event.
// Exactly one payload field is expected to be set; the field name is
// the event name on the wire.
type ClientMessage struct {
	BaseMessage
	Authenticate   *Authenticate   `json:"authenticate,omitempty"`
	Message        *MessagePayload `json:"message,omitempty"`
	MessageEdited  *MessagePayload `json:"messageEdited,omitempty"`
	MessageDeleted *MessageDeleted `json:"messageDeleted,omitempty"`
	Typing         *Typing         `json:"typing,omitempty"`
	InitiateCall   *InitiateCall   `json:"initiateCall,omitempty"`
	AnswerCall     *AnswerCall     `json:"answerCall,omitempty"`
	DeclineCall    *DeclineCall    `json:"declineCall,omitempty"`
	EndCall        *EndCall        `json:"endCall,omitempty"`
	Offer          *Offer          `json:"offer,omitempty"`
	Answer         *Answer         `json:"answer,omitempty"`
	IceCandidate   *IceCandidate   `json:"ice-candidate,omitempty"`

	client *Client
}

type Authenticate struct {
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
}

// MessagePayload is the chat message envelope. The relay only reads
// SenderId and ReceiverId for routing; everything else is forwarded
// untouched and persisted elsewhere.
type MessagePayload struct {
	Id         string `json:"id"`
	ChatId     string `json:"chatId,omitempty"`
	SenderId   string `json:"senderId"`
	ReceiverId string `json:"receiverId"`
	Content    string `json:"content,omitempty"`
	Type       string `json:"type,omitempty"`
	ImageUrl   string `json:"imageUrl,omitempty"`
}

type MessageDeleted struct {
	MessageId  string `json:"messageId"`
	ReceiverId string `json:"receiverId,omitempty"`
}

type Typing struct {
	ReceiverId string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

type InitiateCall struct {
	ReceiverId string `json:"receiverId"`
	Type       string `json:"type"`
}

type AnswerCall struct {
	CallerId string `json:"callerId"`
}

type DeclineCall struct {
	CallerId string `json:"callerId"`
}

type EndCall struct {
	ParticipantId string `json:"participantId"`
}

// Offer, Answer and IceCandidate carry opaque SDP/ICE blobs. The relay
// never parses them; it only stamps From with the sender's resolved
// identity on the way out.
type Offer struct {
	ReceiverId string          `json:"receiverId,omitempty"`
	From       string          `json:"from,omitempty"`
	Offer      json.RawMessage `json:"offer"`
}

type Answer struct {
	CallerId string          `json:"callerId,omitempty"`
	From     string          `json:"from,omitempty"`
	Answer   json.RawMessage `json:"answer"`
}

type IceCandidate struct {
	ReceiverId string          `json:"receiverId,omitempty"`
	From       string          `json:"from,omitempty"`
	Candidate  json.RawMessage `json:"candidate"`
}

// ServerMessage is the envelope for every server-to-client event.
type ServerMessage struct {
	BaseMessage
	RequestAuth      *RequestAuth      `json:"requestAuth,omitempty"`
	UserOnline       *PresenceEvent    `json:"userOnline,omitempty"`
	UserOffline      *PresenceEvent    `json:"userOffline,omitempty"`
	Message          *MessagePayload   `json:"message,omitempty"`
	MessageEdited    *MessagePayload   `json:"messageEdited,omitempty"`
	MessageDeleted   *MessageDeleted   `json:"messageDeleted,omitempty"`
	UserTyping       *UserTyping       `json:"userTyping,omitempty"`
	MessageDelivered *MessageDelivered `json:"messageDelivered,omitempty"`
	CallInitiated    *CallInitiated    `json:"callInitiated,omitempty"`
	CallAnswered     *CallAnswered     `json:"callAnswered,omitempty"`
	CallDeclined     *CallDeclined     `json:"callDeclined,omitempty"`
	CallEnded        *CallEnded        `json:"callEnded,omitempty"`
	Offer            *Offer            `json:"offer,omitempty"`
	Answer           *Answer           `json:"answer,omitempty"`
	IceCandidate     *IceCandidate     `json:"ice-candidate,omitempty"`
}

type RequestAuth struct{}

type PresenceEvent struct {
	UserId string `json:"userId"`
}

type UserTyping struct {
	UserId   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type MessageDelivered struct {
	MessageId string    `json:"messageId"`
	Delivered bool      `json:"delivered"`
	Timestamp time.Time `json:"timestamp"`
}

type CallInitiated struct {
	From   string `json:"from"`
	Type   string `json:"type"`
	CallId string `json:"callId"`
}

type CallAnswered struct{}

type CallDeclined struct{}

type CallEnded struct{}

func RequestAuthMessage() *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		RequestAuth: &RequestAuth{},
	}
}

func UserOnlineMessage(userId string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		UserOnline:  &PresenceEvent{UserId: userId},
	}
}

func UserOfflineMessage(userId string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		UserOffline: &PresenceEvent{UserId: userId},
	}
}

func MessageDeliveredMessage(messageId string, delivered bool) *ServerMessage {
	now := Now()
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: now},
		MessageDelivered: &MessageDelivered{
			MessageId: messageId,
			Delivered: delivered,
			Timestamp: now,
		},
	}
}

func CallAnsweredMessage() *ServerMessage {
	return &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		CallAnswered: &CallAnswered{},
	}
}

func CallDeclinedMessage() *ServerMessage {
	return &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		CallDeclined: &CallDeclined{},
	}
}

func CallEndedMessage() *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		CallEnded:   &CallEnded{},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
