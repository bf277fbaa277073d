package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/middleware"
)

func startEventsServer(t *testing.T, hub *EventsHub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/v1/calls/ws/events", func(c *gin.Context) {
		if id, err := uuid.Parse(c.Query("user")); err == nil {
			c.Set(middleware.ContextUserID, id)
		}
		c.Next()
	}, hub.ServeWS)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/calls/ws/events?user=" + userID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventsHub_DeliversToParticipants(t *testing.T) {
	hub := NewEventsHub(nil, nil, nil)
	t.Cleanup(hub.Close)
	server := startEventsServer(t, hub)

	caller, receiver, outsider := uuid.New(), uuid.New(), uuid.New()
	receiverConn := dial(t, server, receiver)
	outsiderConn := dial(t, server, outsider)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	call := &domain.Call{CallID: uuid.New(), CallerID: caller, ReceiverID: receiver, MediaKind: domain.MediaKindAudio, Status: domain.CallStatusRinging}
	require.NoError(t, hub.Publish(context.Background(), domain.NewCallEvent(domain.CallEventCreated, call, caller)))

	receiverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := receiverConn.ReadMessage()
	require.NoError(t, err)

	var event domain.CallEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, domain.CallEventCreated, event.Type)
	assert.Equal(t, call.CallID, event.CallID)

	outsiderConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = outsiderConn.ReadMessage()
	assert.Error(t, err)
}

func TestEventsHub_UnregistersOnClose(t *testing.T) {
	hub := NewEventsHub(nil, nil, nil)
	t.Cleanup(hub.Close)
	server := startEventsServer(t, hub)

	conn := dial(t, server, uuid.New())
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventsHub_RequiresUser(t *testing.T) {
	hub := NewEventsHub(nil, nil, nil)
	t.Cleanup(hub.Close)
	server := startEventsServer(t, hub)

	resp, err := http.Get(server.URL + "/v1/calls/ws/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
