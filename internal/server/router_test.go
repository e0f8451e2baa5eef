package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lchat/internal/auth"
	"lchat/internal/config"
	"lchat/internal/models"
	"lchat/internal/service"
	"lchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func testConfig() config.Config {
	return config.Config{
		Port:                   "0",
		JWTSecret:              "secret",
		Env:                    "test",
		SessionTokenTTLMinutes: 15,
		HistoryLimit:           200,
		MaxMessageBytes:        4096,
		SendBuffer:             64,
		BcryptCost:             4,
		AvatarBaseURL:          "https://avatars.test/svg",
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	app := New(testConfig(), nil)
	t.Cleanup(app.Close)
	return app
}

func TestApp_CloseIsIdempotent(t *testing.T) {
	app := newTestApp(t)
	app.Close()
	app.Close()

	w := httptest.NewRecorder()
	app.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 after Close, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	app.Engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestUsersAPI(t *testing.T) {
	app := newTestApp(t)
	if _, err := app.Store.Register(context.Background(), "c1", "alice", "100", "pw"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := app.Store.Register(context.Background(), "c2", "bob", "200", "pw"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	token, err := auth.GenerateSessionToken("alice", testConfig().JWTSecret, 5)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
		wantBody string
	}{
		{"list without token", "/api/v1/users", "", http.StatusUnauthorized, ""},
		{"list excludes caller", "/api/v1/users", token, http.StatusOK, `"username":"bob"`},
		{"find by phone", "/api/v1/users/200", token, http.StatusOK, `"username":"bob"`},
		{"find missing", "/api/v1/users/nobody", token, http.StatusNotFound, "user not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			app.Engine.ServeHTTP(w, req)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want to contain %s", w.Body.String(), tt.wantBody)
			}
			if strings.Contains(w.Body.String(), `"username":"alice"`) {
				t.Errorf("caller should be excluded: %s", w.Body.String())
			}
			if strings.Contains(w.Body.String(), "password") {
				t.Errorf("credentials leaked: %s", w.Body.String())
			}
		})
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// expect 读取直到出现指定事件，跳过中间的其他事件。
func expect(t *testing.T, conn *websocket.Conn, event string) ws.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f ws.Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if f.Event == event {
			return f
		}
	}
}

func TestWebSocket_EndToEnd(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Engine)
	defer srv.Close()

	alice := dial(t, srv)
	defer alice.Close()
	bob := dial(t, srv)
	defer bob.Close()

	emit(t, alice, "register", map[string]string{"username": "alice", "phone": "100", "password": "secret"})
	expect(t, alice, service.EventAuthSuccess)
	emit(t, bob, "register", map[string]string{"username": "bob", "phone": "200", "password": "secret"})
	expect(t, bob, service.EventAuthSuccess)
	expect(t, bob, service.EventAllUsers)

	emit(t, alice, "typing", map[string]string{"recipient": "bob"})
	emit(t, alice, "stop_typing", map[string]string{"recipient": "bob"})
	expect(t, bob, service.EventDisplayTyping)
	expect(t, bob, service.EventHideTyping)

	emit(t, alice, "send_message", map[string]string{"recipient": "bob", "text": "hi"})
	var ma, mb models.Message
	_ = json.Unmarshal(expect(t, alice, service.EventReceiveMessage).Data, &ma)
	_ = json.Unmarshal(expect(t, bob, service.EventReceiveMessage).Data, &mb)
	if ma.ID != mb.ID || ma.Text != "hi" || !ma.Timestamp.Equal(mb.Timestamp) {
		t.Errorf("alice copy %+v, bob copy %+v", ma, mb)
	}

	emit(t, bob, "join_room", map[string]string{"peer": "alice"})
	var hist []models.Message
	_ = json.Unmarshal(expect(t, bob, service.EventLoadHistory).Data, &hist)
	if len(hist) != 1 || hist[0].ID != ma.ID {
		t.Errorf("history = %+v", hist)
	}

	alice.Close()
	var sc service.StatusChange
	for sc.Username != "alice" || sc.Online {
		_ = json.Unmarshal(expect(t, bob, service.EventUserStatusChange).Data, &sc)
	}
	if sc.LastSeen == nil {
		t.Error("offline status should carry lastSeen")
	}

	deadline := time.Now().Add(2 * time.Second)
	for app.Hub.Online() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if app.Hub.Online() != 1 {
		t.Errorf("Hub.Online() = %d, want 1", app.Hub.Online())
	}
}

func TestWebSocket_MalformedFrame(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Engine)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	var p ws.ErrorPayload
	_ = json.Unmarshal(expect(t, conn, service.EventError).Data, &p)
	if p.Code != "bad_request" {
		t.Errorf("code = %q, want bad_request", p.Code)
	}
}
