package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestBroadcastReachesClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !hub.Broadcast("feed", map[string]string{"node_id": "n1"}) {
		t.Fatal("broadcast dropped")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		Type    string            `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "feed" || env.Payload["node_id"] != "n1" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(zap.NewNop())
	// no Run loop: the queue fills up and further messages are dropped
	dropped := false
	for i := 0; i < 300; i++ {
		if !hub.Broadcast("feed", i) {
			dropped = true
			break
		}
	}
	if !dropped {
		t.Fatal("expected a drop once the queue is full")
	}
}
