package relay

import (
	"testing"
	"time"

	"github.com/npezzotti/go-chat-relay/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{} // Pre-fill the send channel to simulate a full channel
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	message := UserOnlineMessage("u1")

	// Ensure the timestamp is in the expected format
	expected := `{"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","userOnline":{"userId":"u1"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()

	select {
	case <-c.stop:
		// Channel is closed as expected
	default:
		t.Error("expected stop channel to be closed")
	}

	// a connection can be retired twice (disconnect + supersede)
	assert.NotPanics(t, func() { c.stopClient() }, "expected repeated stopClient to be safe")
}

func TestNewClient(t *testing.T) {
	s := newTestServer(t, newMockStats())
	c := NewClient(nil, s, testutil.TestLogger(t))

	assert.NotEmpty(t, c.id, "expected client id to be generated")
	assert.Equal(t, s, c.server, "expected server to be set")
	assert.NotNil(t, c.send, "expected send channel to be initialized")
	assert.NotNil(t, c.stop, "expected stop channel to be initialized")
	assert.False(t, c.createdAt.IsZero(), "expected creation time to be stamped")
}
