package ws

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/elara/pkg/events"
)

func newRequestWithOrigin(t *testing.T, origin string) *http.Request {
	t.Helper()
	r, err := http.NewRequest(http.MethodGet, "http://localhost/ws", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func jwtWithSub(t *testing.T, sub string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256"}`))
	payload, err := json.Marshal(map[string]string{"sub": sub})
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestUserIDFromJWT(t *testing.T) {
	token := jwtWithSub(t, "user-42")
	if got := userIDFromToken(token); got != "user-42" {
		t.Errorf("userIDFromToken = %q", got)
	}
}

func TestUserIDFromRawToken(t *testing.T) {
	if got := userIDFromToken("plain-user-id"); got != "plain-user-id" {
		t.Errorf("userIDFromToken = %q", got)
	}
}

func TestUserIDFromJWTWithoutSubFallsBack(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"exp":123}`))
	token := header + "." + payload + "."
	if got := userIDFromToken(token); got != token {
		t.Errorf("userIDFromToken = %q", got)
	}
}

func TestUserIDEmptyToken(t *testing.T) {
	if got := userIDFromToken("  "); got != "" {
		t.Errorf("userIDFromToken = %q", got)
	}
}

func TestCheckOrigin(t *testing.T) {
	tr := New(Config{AllowedOrigins: []string{"https://app.example.com", "other.example.com"}}, nil)

	cases := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.com", true},
		{"https://app.example.com/", true},
		{"https://other.example.com", true},
		{"http://other.example.com", true},
		{"https://evil.example.com", false},
		{"", true},
	}
	for _, tc := range cases {
		r := newRequestWithOrigin(t, tc.origin)
		if got := tr.checkOrigin(r); got != tc.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestCheckOriginAnyByDefault(t *testing.T) {
	tr := New(Config{}, nil)
	r := newRequestWithOrigin(t, "https://anything.example.com")
	if !tr.checkOrigin(r) {
		t.Error("default config should allow any origin")
	}
}

func dialTestSession(t *testing.T) (*clientSession, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- c
	}))
	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	cs := newClientSession(<-connCh)
	return cs, func() {
		_ = client.Close()
		srv.Close()
	}
}

func TestSessionSendDuringCloseDoesNotPanic(t *testing.T) {
	cs, cleanup := dialTestSession(t)
	defer cleanup()
	go cs.loop()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = cs.SendEvent(events.StateChange("thinking", "req-1"))
			}
		}()
	}
	_ = cs.Close()
	wg.Wait()

	if err := cs.SendEvent(events.StateChange("completed", "req-1")); err == nil {
		t.Error("send after close must fail")
	}
}
