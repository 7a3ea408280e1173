package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// serveScript drives the full handshake+auth+one-event sequence against
// one accepted connection. Read errors end the script silently, since
// the client side may cancel mid-sequence during test teardown.
func serveScript(ws *websocket.Conn) {
	defer ws.Close()

	expect := func(prefix string) bool {
		_, msg, err := ws.ReadMessage()
		return err == nil && strings.HasPrefix(string(msg), prefix)
	}

	_ = ws.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"abc","pingInterval":25000,"pingTimeout":20000}`))
	if !expect("40") {
		return
	}

	_ = ws.WriteMessage(websocket.TextMessage, []byte(`42["authed",false]`))
	if !expect(`42["authed"`) { // the unix-millis hello
		return
	}

	_ = ws.WriteMessage(websocket.TextMessage, []byte(`42["authed",false]`))
	if !expect(`42["auth"`) { // the real credentials
		return
	}

	_ = ws.WriteMessage(websocket.TextMessage, []byte(`42["authSuccess",{}]`))
	if !expect(`42["subscribe"`) {
		return
	}

	_ = ws.WriteMessage(websocket.TextMessage, []byte(`42["file-rename",{"uuid":"u1","metadata":"enc","name":""}]`))

	// hold the connection open until the client goes away
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func TestConnHandshakeAuthAndEvent(t *testing.T) {
	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		served.Add(1)
		serveScript(ws)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	gotAuth := make(chan struct{}, 1)
	gotRename := make(chan *FileRename, 1)
	conn := NewConn(Config{
		URL:    url,
		APIKey: func() string { return "test-key" },
		Decode: func(f Frame) (Event, error) {
			if f.Name == "fileRename" {
				var payload struct {
					UUID string `json:"uuid"`
				}
				_ = json.Unmarshal(f.Data, &payload)
				return &FileRename{UUID: payload.UUID}, nil
			}
			return nil, nil
		},
	})
	conn.Subscribe(func(Event) {
		select {
		case gotAuth <- struct{}{}:
		default:
		}
	}, EventAuthSuccess)
	conn.Subscribe(func(e Event) {
		if fr, ok := e.(*FileRename); ok {
			select {
			case gotRename <- fr:
			default:
			}
		}
	}, EventFileRename)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = conn.Run(ctx)
		close(done)
	}()

	select {
	case <-gotAuth:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for AuthSuccess")
	}
	select {
	case fr := <-gotRename:
		if fr.UUID != "u1" {
			t.Errorf("unexpected rename uuid %q", fr.UUID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for fileRename event")
	}

	cancel()
	<-done

	if served.Load() == 0 {
		t.Error("server never saw a connection")
	}
}

func TestAuthFailedStopsReconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"abc","pingInterval":25000,"pingTimeout":20000}`))
		_, _, _ = ws.ReadMessage() // 40
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`42["authed",false]`))
		_, _, _ = ws.ReadMessage() // hello
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`42["authed",false]`))
		_, _, _ = ws.ReadMessage() // auth
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`42["authFailed",{}]`))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	gotFailed := make(chan struct{}, 1)
	conn := NewConn(Config{
		URL:    url,
		APIKey: func() string { return "bad-key" },
		Decode: func(Frame) (Event, error) { return nil, nil },
	})
	conn.Subscribe(func(Event) {
		select {
		case gotFailed <- struct{}{}:
		default:
		}
	}, EventAuthFailed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := conn.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to return the auth error")
	}
	if !strings.Contains(err.Error(), "authentication failed") {
		t.Errorf("unexpected error %v", err)
	}

	select {
	case <-gotFailed:
	case <-time.After(time.Second):
		t.Error("AuthFailed was never dispatched")
	}
}
