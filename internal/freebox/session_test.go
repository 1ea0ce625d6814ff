package freebox

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/HerbHall/linkbeat/internal/credential"
	"go.uber.org/zap/zaptest"
)

const (
	testAppToken  = "0aPMs1UxcIoAp2lMV0zZnhGWvZAeFc4"
	testChallenge = "haU0zS2JaJjUGabZ1OzxKa2l"
)

func loginProof(appToken, challenge string) string {
	mac := hmac.New(sha1.New, []byte(appToken))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// pairedStore returns a credential store that already holds a token.
func pairedStore(t *testing.T) *credential.Store {
	t.Helper()
	store := credential.NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	if err := store.Save(&credential.Credential{AppToken: testAppToken, AppID: "test.app"}); err != nil {
		t.Fatal(err)
	}
	return store
}

func testClient(t *testing.T, baseURL string, store *credential.Store) *Client {
	t.Helper()
	if store == nil {
		store = pairedStore(t)
	}
	c := NewClient(baseURL, "test.app", store, 5*time.Second, zaptest.NewLogger(t))
	c.pairPollInterval = 5 * time.Millisecond
	return c
}

func writeEnvelope(w http.ResponseWriter, success bool, msg string, result any) {
	resp := map[string]any{"success": success}
	if msg != "" {
		resp["msg"] = msg
	}
	if result != nil {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

// newDeviceServer fakes the router login endpoints. It checks the
// submitted proof against the real HMAC-SHA1 derivation.
func newDeviceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login/", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, true, "", map[string]string{"challenge": testChallenge})
	})
	mux.HandleFunc("POST /login/session/", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AppID    string `json:"app_id"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeEnvelope(w, false, "bad request", nil)
			return
		}
		if body.AppID != "test.app" || body.Password != loginProof(testAppToken, testChallenge) {
			w.WriteHeader(http.StatusForbidden)
			writeEnvelope(w, false, "Invalid password", nil)
			return
		}
		writeEnvelope(w, true, "", map[string]string{"session_token": "sess-token-1"})
	})
	return httptest.NewServer(mux)
}

func TestLogin_Handshake(t *testing.T) {
	srv := newDeviceServer(t)
	defer srv.Close()

	token, err := testClient(t, srv.URL, nil).Login(context.Background())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != "sess-token-1" {
		t.Errorf("token = %q, want %q", token, "sess-token-1")
	}
}

func TestLogin_NotPaired(t *testing.T) {
	srv := newDeviceServer(t)
	defer srv.Close()

	store := credential.NewStore(filepath.Join(t.TempDir(), "missing.json"))
	_, err := testClient(t, srv.URL, store).Login(context.Background())
	if !errors.Is(err, credential.ErrNotPaired) {
		t.Fatalf("expected ErrNotPaired, got %v", err)
	}
}

func TestLogin_ChallengeRefused(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login/", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, false, "internal error", nil)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := testClient(t, srv.URL, nil).Login(context.Background())
	var chErr *ChallengeError
	if !errors.As(err, &chErr) {
		t.Fatalf("expected ChallengeError, got %v", err)
	}
}

func TestLogin_SessionDenied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login/", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, true, "", map[string]string{"challenge": testChallenge})
	})
	mux.HandleFunc("POST /login/session/", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, false, "Invalid app token (invalid_token)", nil)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := testClient(t, srv.URL, nil).Login(context.Background())
	var sessErr *SessionError
	if !errors.As(err, &sessErr) {
		t.Fatalf("expected SessionError, got %v", err)
	}
	if sessErr.Msg == "" {
		t.Error("SessionError must carry the device message")
	}
}

func TestLogin_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL, nil).Login(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", apiErr.Status)
	}
}

func TestLogout_EmptyTokenIsNoop(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		writeEnvelope(w, true, "", nil)
	}))
	defer srv.Close()

	if err := testClient(t, srv.URL, nil).Logout(context.Background(), ""); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no request for empty token, got %d", calls)
	}
}

func TestLogout_SendsSessionHeader(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/logout/", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Fbx-App-Auth")
		writeEnvelope(w, true, "", nil)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if err := testClient(t, srv.URL, nil).Logout(context.Background(), "sess-token-1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if gotAuth != "sess-token-1" {
		t.Errorf("X-Fbx-App-Auth = %q, want session token", gotAuth)
	}
}

func TestLogout_FailureIsLogoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := testClient(t, srv.URL, nil).Logout(context.Background(), "sess-token-1")
	var loErr *LogoutError
	if !errors.As(err, &loErr) {
		t.Fatalf("expected LogoutError, got %v", err)
	}
}
