package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/DialogStudio/internal/branch"
	"github.com/AaronLay10/DialogStudio/internal/events"
)

// dialEvents opens the event stream of a fresh server. query is appended
// to the URL as is.
func dialEvents(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	s := NewServer(branch.NewStore(branch.NewMemoryBackend()))
	server := httptest.NewServer(http.HandlerFunc(s.wsEventsHandler))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+query, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	return e
}

// waitFor polls a condition until it returns true or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("timeout waiting for: %s", msg)
}

func TestWebSocketSendsBacklogFirst(t *testing.T) {
	events.Clear()
	for i := 0; i < 3; i++ {
		events.Emit("info", "branch.created", "", map[string]interface{}{"i": i})
	}

	conn := dialEvents(t, "")
	for i := 0; i < 3; i++ {
		e := readEvent(t, conn)
		if e.Name != "branch.created" || e.Fields["i"] != float64(i) {
			t.Errorf("backlog event %d: got %s %v", i, e.Name, e.Fields)
		}
	}
}

func TestWebSocketStreamsLiveEvents(t *testing.T) {
	events.Clear()
	conn := dialEvents(t, "")
	waitFor(t, time.Second, func() bool { return events.SubscriberCount() > 0 }, "subscription")

	events.Emit("info", "branch.merged", "", map[string]interface{}{"source": "feature"})

	e := readEvent(t, conn)
	if e.Name != "branch.merged" || e.Fields["source"] != "feature" {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestWebSocketFilter(t *testing.T) {
	events.Clear()
	events.Emit("info", "scenario.created", "", nil)
	events.Emit("info", "branch.created", "", map[string]interface{}{"branch": "old"})

	conn := dialEvents(t, "?events=branch.")
	if e := readEvent(t, conn); e.Fields["branch"] != "old" {
		t.Errorf("expected filtered backlog, got %+v", e)
	}

	events.Emit("info", "scenario.updated", "", nil)
	events.Emit("info", "branch.deleted", "", map[string]interface{}{"branch": "new"})
	if e := readEvent(t, conn); e.Name != "branch.deleted" {
		t.Errorf("expected branch.deleted, got %s", e.Name)
	}
}

func TestWebSocketDisconnectCleansUp(t *testing.T) {
	events.Clear()
	events.CloseAllSubscribers()

	conn := dialEvents(t, "")
	waitFor(t, time.Second, func() bool { return events.SubscriberCount() == 1 }, "subscription")
	conn.Close()

	waitFor(t, 5*time.Second, func() bool {
		return events.SubscriberCount() == 0
	}, "subscriber count to return to 0 after close")
}

func TestEventsEndpointFilterAndLimit(t *testing.T) {
	events.Clear()
	for i := 0; i < 4; i++ {
		events.Emit("info", "branch.updated", "", map[string]interface{}{"i": i})
		events.Emit("info", "scenario.updated", "", nil)
	}
	srv, _ := newTestServer(t)

	resp := do(t, "GET", srv.URL+"/api/v1/events?events=branch.&limit=2", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got []events.Event
	decode(t, resp, &got)
	if len(got) != 2 || got[0].Fields["i"] != float64(2) || got[1].Fields["i"] != float64(3) {
		t.Errorf("unexpected events %+v", got)
	}

	if resp := do(t, "GET", srv.URL+"/api/v1/events?limit=-1", "", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for negative limit, got %d", resp.StatusCode)
	}
}
