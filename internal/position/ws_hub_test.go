package position

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"

	"github.com/atmx/dsc-engine/internal/engine"
)

func TestWSHub_BroadcastsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewWSHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish(engine.Event{
		Type:        engine.EventDscMinted,
		OperationID: "op-1",
		User:        "alice",
		Amount:      uint256.NewInt(42),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["type"] != engine.EventDscMinted || got["user"] != "alice" || got["operation_id"] != "op-1" {
		t.Errorf("unexpected message: %s", data)
	}

	cancel()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to close on shutdown")
	}
}

func TestWSHub_PublishNeverBlocks(t *testing.T) {
	hub := NewWSHub() // not running
	for i := 0; i < cap(hub.broadcast)+10; i++ {
		hub.Publish(engine.Event{Type: engine.EventDscBurned, Amount: uint256.NewInt(1)})
	}
	if len(hub.broadcast) != cap(hub.broadcast) {
		t.Errorf("expected full buffer, got %d", len(hub.broadcast))
	}
}
