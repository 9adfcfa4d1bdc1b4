package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
)

// captureEventService records the SubscribeAll handler so tests can
// inject events directly.
type captureEventService struct {
	handler interfaces.EventHandler
}

func (c *captureEventService) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}

func (c *captureEventService) SubscribeAll(handler interfaces.EventHandler) error {
	c.handler = handler
	return nil
}

func (c *captureEventService) Publish(ctx context.Context, event interfaces.Event) error {
	if c.handler != nil {
		return c.handler(ctx, event)
	}
	return nil
}

func (c *captureEventService) PublishSync(ctx context.Context, event interfaces.Event) error {
	return c.Publish(ctx, event)
}

func (c *captureEventService) Close() error { return nil }

func TestEventStreamBroadcastsJobEvents(t *testing.T) {
	bus := &captureEventService{}
	handler := NewEventsHandler(bus, authForTests(&mockRegistry{}), testLogger())
	require.NotNil(t, bus.handler, "constructor subscribes to all events")

	server := httptest.NewServer(http.HandlerFunc(handler.EventsWebSocketHandler))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?key=admin-secret"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// First frame is the hello with the server instance id.
	var hello WSMessage
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)
	payload, ok := hello.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, payload["server_instance_id"])

	// Wait until the server registered the client before publishing.
	require.Eventually(t, func() bool { return handler.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	err = bus.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventJobCompleted,
		Payload: models.JobEvent{
			JobID:   "job-7",
			BlogURL: "https://example.com/post",
			Status:  models.JobStatusCompleted,
		},
	})
	require.NoError(t, err)

	var frame WSMessage
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "job_completed", frame.Type)
	event, ok := frame.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "job-7", event["job_id"])
	assert.Equal(t, "completed", event["status"])
}

func TestEventStreamRejectsNonAdmin(t *testing.T) {
	handler := NewEventsHandler(&captureEventService{}, authForTests(&mockRegistry{}), testLogger())

	server := httptest.NewServer(http.HandlerFunc(handler.EventsWebSocketHandler))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)

	require.Error(t, err, "handshake must fail without the admin key")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, handler.ClientCount())
}

func TestEventStreamClientCleanup(t *testing.T) {
	handler := NewEventsHandler(&captureEventService{}, authForTests(&mockRegistry{}), testLogger())

	server := httptest.NewServer(http.HandlerFunc(handler.EventsWebSocketHandler))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?key=admin-secret"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return handler.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return handler.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
