// internal/operator/websocket_test.go
package operator

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
	"go.uber.org/goleak"
	"go.uber.org/zap"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt event
	require.NoError(t, json.Unmarshal(frame, &evt))
	return evt
}

func TestHubDeliversSubmission(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(taskRequest{
		Objective: "find the cheapest flight",
		StartURL:  "https://flights.example",
	}))

	select {
	case sub := <-hub.Submissions():
		assert.Equal(t, "find the cheapest flight", sub.Objective())
		assert.Equal(t, "https://flights.example", sub.StartURL())
		assert.False(t, sub.Resume())
		require.NotNil(t, sub.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("no submission delivered")
	}
}

func TestHubEventsReachTheOperator(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(taskRequest{Objective: "x"}))
	var sub Submission
	select {
	case sub = <-hub.Submissions():
	case <-time.After(2 * time.Second):
		t.Fatal("no submission delivered")
	}

	sub.Channel.EmitUIMessage(schemas.UIMessage{
		TaskID: "t-1", Kind: schemas.UIThinking, Content: "Next goal: search",
	})
	evt := readEvent(t, conn)
	assert.Equal(t, "ui_message", evt.Type)
	require.NotNil(t, evt.Message)
	assert.Equal(t, "Next goal: search", evt.Message.Content)

	sub.Channel.EmitDone("t-1", true, "all set")
	evt = readEvent(t, conn)
	assert.Equal(t, "done", evt.Type)
	assert.True(t, evt.Success)
	assert.Equal(t, "all set", evt.FinalMessage)
}

func TestHubRejectsEmptyObjective(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(taskRequest{}))
	evt := readEvent(t, conn)
	assert.Equal(t, "error", evt.Type)
	assert.Contains(t, evt.Error, "objective is required")
}

func TestHubDisconnectClosesChannel(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(taskRequest{Objective: "x"}))
	var sub Submission
	select {
	case sub = <-hub.Submissions():
	case <-time.After(2 * time.Second):
		t.Fatal("no submission delivered")
	}

	conn.Close()
	select {
	case <-sub.Channel.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close on disconnect")
	}
}

func TestHubShutdownUnblocksClients(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		hub.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(taskRequest{Objective: "x"}))
	var sub Submission
	select {
	case sub = <-hub.Submissions():
	case <-time.After(2 * time.Second):
		t.Fatal("no submission delivered")
	}

	cancel()
	<-runDone

	// Shutdown closes every connected channel.
	select {
	case <-sub.Channel.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close on hub shutdown")
	}

	// Dropping the connection after shutdown must not strand its read pump on
	// an unregister nobody receives.
	conn.Close()

	// A connection arriving after shutdown is turned away, not leaked.
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		late.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, readErr := late.ReadMessage()
		assert.Error(t, readErr)
		late.Close()
	}
}

func TestHubResumeRequestWithoutObjective(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(taskRequest{TaskID: "t-9", Resume: true}))
	select {
	case sub := <-hub.Submissions():
		assert.Equal(t, "t-9", sub.TaskID())
		assert.True(t, sub.Resume())
	case <-time.After(2 * time.Second):
		t.Fatal("no submission delivered")
	}
}
