package freebox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/HerbHall/linkbeat/internal/credential"
)

// newPairingServer fakes the authorize endpoints. The track status goes
// pending for pollsUntilDone polls, then resolves to finalStatus.
func newPairingServer(t *testing.T, pollsUntilDone int, finalStatus string) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/authorize/", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, true, "", map[string]any{"app_token": "fresh-app-token", "track_id": 7})
	})
	mux.HandleFunc("GET /login/authorize/7", func(w http.ResponseWriter, _ *http.Request) {
		status := trackPending
		if int(polls.Add(1)) > pollsUntilDone {
			status = finalStatus
		}
		writeEnvelope(w, true, "", map[string]string{"status": status})
	})
	return httptest.NewServer(mux)
}

func TestPair_GrantedPersistsCredential(t *testing.T) {
	srv := newPairingServer(t, 2, trackGranted)
	defer srv.Close()

	store := credential.NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	client := testClient(t, srv.URL, store)

	var prompt strings.Builder
	cred, err := client.Pair(context.Background(), "linkbeat", "0.1.0", "test-host", &prompt)
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}

	if cred.AppToken != "fresh-app-token" || cred.TrackID != 7 {
		t.Errorf("credential = %+v, want token/track from device", cred)
	}
	if !strings.Contains(prompt.String(), "front panel") {
		t.Errorf("prompt should tell the operator to approve on the device, got %q", prompt.String())
	}

	// Credential must be loadable afterwards.
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load after pair: %v", err)
	}
	if loaded.AppToken != "fresh-app-token" {
		t.Errorf("persisted app_token = %q, want fresh-app-token", loaded.AppToken)
	}
}

func TestPair_Denied(t *testing.T) {
	srv := newPairingServer(t, 0, trackDenied)
	defer srv.Close()

	store := credential.NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	_, err := testClient(t, srv.URL, store).Pair(context.Background(), "linkbeat", "0.1.0", "test-host", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected denial error, got %v", err)
	}
	if _, err := store.Load(); err == nil {
		t.Error("no credential should be persisted on denial")
	}
}

func TestPair_Timeout(t *testing.T) {
	srv := newPairingServer(t, 0, trackTimeout)
	defer srv.Close()

	store := credential.NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	_, err := testClient(t, srv.URL, store).Pair(context.Background(), "linkbeat", "0.1.0", "test-host", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestPair_ContextCancelled(t *testing.T) {
	srv := newPairingServer(t, 1000, trackGranted)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := credential.NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	_, err := testClient(t, srv.URL, store).Pair(ctx, "linkbeat", "0.1.0", "test-host", io.Discard)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestPair_AuthorizeRefused(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/authorize/", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, false, "too many pending requests", nil)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := credential.NewStore(filepath.Join(t.TempDir(), "credentials.json"))
	_, err := testClient(t, srv.URL, store).Pair(context.Background(), "linkbeat", "0.1.0", "test-host", io.Discard)
	if err == nil || !strings.Contains(fmt.Sprint(err), "refused") {
		t.Fatalf("expected refusal error, got %v", err)
	}
}
