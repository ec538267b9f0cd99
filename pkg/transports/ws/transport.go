// Package ws serves the mobile client's WebSocket connection and
// bridges frames into the orchestrator.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/elara/pkg/events"
	"github.com/harunnryd/elara/pkg/logging"
	"github.com/harunnryd/elara/pkg/orchestrator"
)

const closeCodeUnauthenticated = 4001

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	Version        string   `mapstructure:"version"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

type Transport struct {
	cfg      Config
	orch     *orchestrator.Orchestrator
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger
	draining atomic.Bool
}

func New(cfg Config, orch *orchestrator.Orchestrator) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:  cfg,
		orch: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logging.NewComponentLogger(slog.Default(), "ws_transport"),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("server_error", "error", err.Error())
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	userID := userIDFromToken(r.URL.Query().Get("token"))
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if userID == "" {
		msg, _ := json.Marshal(events.Error("Authentication required.", ""))
		_ = conn.WriteMessage(websocket.TextMessage, msg)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCodeUnauthenticated, "missing token"))
		_ = conn.Close()
		return
	}

	cs := newClientSession(conn)
	go cs.loop()
	sess := t.orch.Connect(cs, userID)
	defer func() {
		t.orch.Disconnect(sess)
		_ = cs.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		t.orch.HandleMessage(sess, raw)
	}
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

// userIDFromToken extracts the subject from a JWT's payload segment
// without signature verification: the token is trusted transport-side
// and only identifies the session. A token that does not parse as a
// JWT is used verbatim as the user id.
func userIDFromToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	parts := strings.Split(token, ".")
	if len(parts) == 3 {
		payload, err := base64.RawURLEncoding.DecodeString(parts[1])
		if err == nil {
			var claims struct {
				Sub string `json:"sub"`
			}
			if json.Unmarshal(payload, &claims) == nil && claims.Sub != "" {
				return claims.Sub
			}
		}
	}
	return token
}

// clientSession serializes writes through a buffered channel so slow
// readers cannot block the pipeline. Shutdown is signalled through the
// done channel; sendCh itself is never closed, so a pipeline goroutine
// sending during disconnect cannot panic.
type clientSession struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	closed atomic.Bool
}

func newClientSession(conn *websocket.Conn) *clientSession {
	return &clientSession{
		conn:   conn,
		sendCh: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

func (s *clientSession) SendEvent(ev events.ServerEvent) error {
	if s.closed.Load() {
		return errors.New("session closed")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return errors.New("session closed")
	case s.sendCh <- b:
	default:
	}
	return nil
}

func (s *clientSession) loop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sendCh:
			_ = s.conn.WriteMessage(websocket.TextMessage, msg)
		}
	}
}

func (s *clientSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
	return s.conn.Close()
}
