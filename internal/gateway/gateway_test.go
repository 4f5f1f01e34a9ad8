package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"

	"github.com/gateway-ingress/uptime/internal/config"
	"github.com/gateway-ingress/uptime/internal/tracker"
)

// recorder collects sent updates for assertions.
type recorder struct {
	mu   sync.Mutex
	msgs []tracker.UpdateMessage
}

func (r *recorder) Send(msg tracker.UpdateMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) messages() []tracker.UpdateMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tracker.UpdateMessage(nil), r.msgs...)
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name string
		data string
		want tracker.UpdateMessage
		ok   bool
	}{
		{"GuildOnline", `{"op":"guild_online","guild_id":42}`, tracker.UpdateMessage{Kind: tracker.GuildOnline, GuildID: 42}, true},
		{"GuildOffline", `{"op":"guild_offline","guild_id":7}`, tracker.UpdateMessage{Kind: tracker.GuildOffline, GuildID: 7}, true},
		{"UnknownOp", `{"op":"presence_update","guild_id":1}`, tracker.UpdateMessage{}, false},
		{"BadJSON", `{"op":`, tracker.UpdateMessage{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseFrame([]byte(tt.data))
			if ok != tt.ok {
				t.Fatalf("parseFrame ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("parseFrame = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRunTranslatesFeedAndEdges(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"guild_online","guild_id":42}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"guild_offline","guild_id":42}`))
		conn.Close()
	}))
	defer srv.Close()

	rec := &recorder{}
	cfg := config.GatewayConfig{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		HeartbeatInterval: config.Duration(time.Minute),
		ReconnectMin:      config.Duration(time.Second),
		ReconnectMax:      config.Duration(30 * time.Second),
	}
	c := New(cfg, rec, quartz.NewMock(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// Wait for the server-side close to propagate: the client reports the
	// drop and parks in the (mock-clock) backoff sleep.
	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := rec.messages()
		if len(msgs) >= 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for updates, got %v", msgs)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}

	msgs := rec.messages()
	want := []tracker.UpdateMessage{
		{Kind: tracker.GatewayOnline},
		{Kind: tracker.GuildOnline, GuildID: 42},
		{Kind: tracker.GuildOffline, GuildID: 42},
		{Kind: tracker.GatewayOffline},
	}
	if len(msgs) < len(want) {
		t.Fatalf("got %d updates, want at least %d: %v", len(msgs), len(want), msgs)
	}
	for i, w := range want {
		if msgs[i] != w {
			t.Errorf("msgs[%d] = %v, want %v", i, msgs[i], w)
		}
	}
}
