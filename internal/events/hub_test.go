package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesOnlyPlanSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("p1")
	b := h.Subscribe("p2")

	h.Publish(models.PlanEvent{PlanID: "p1", Index: 1, Status: "running"})

	select {
	case evt := <-a:
		assert.Equal(t, 1, evt.Index)
	default:
		t.Fatal("p1 subscriber got nothing")
	}
	assert.Len(t, b, 0)

	h.Unsubscribe("p1", a)
	_, open := <-a
	assert.False(t, open)
	assert.Zero(t, h.Subscribers("p1"))
	assert.Equal(t, 1, h.Subscribers("p2"))
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe("p1")
	for i := 0; i < bufferSize+10; i++ {
		h.Publish(models.PlanEvent{PlanID: "p1", Index: i})
	}
	assert.Len(t, ch, bufferSize)
}

func TestFinal(t *testing.T) {
	assert.True(t, Final(models.PlanEvent{PlanID: "p", Status: "failed"}))
	assert.False(t, Final(models.PlanEvent{PlanID: "p", Status: "running"}))
	assert.False(t, Final(models.PlanEvent{PlanID: "p", StepID: "s", Status: "succeeded"}))
}

func TestStreamWritesEventsUntilPlanFinishes(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Stream(w, r, "p1")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Subscribers("p1") == 1 }, time.Second, 5*time.Millisecond)

	h.Publish(models.PlanEvent{PlanID: "p1", StepID: "s1", Index: 1, Status: "succeeded", Output: "done"})
	h.Publish(models.PlanEvent{PlanID: "p1", Status: "succeeded"})

	var evt models.PlanEvent
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "s1", evt.StepID)
	assert.Equal(t, "done", evt.Output)

	var final models.PlanEvent
	require.NoError(t, conn.ReadJSON(&final))
	assert.Empty(t, final.StepID)
	assert.True(t, Final(final))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.Eventually(t, func() bool { return h.Subscribers("p1") == 0 }, time.Second, 5*time.Millisecond)
}
