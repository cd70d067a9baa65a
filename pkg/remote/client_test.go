package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(ClientConfig{
		BaseURL:    server.URL,
		APIVersion: "2024-01-01",
	}, StaticTokenSource("test-token"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	return client, server
}

func TestResourceRef_Path(t *testing.T) {
	ref := NewResourceRef("/workspaces/prod/", "settings", "EntityAnalytics")

	if got, want := ref.Path(), "/workspaces/prod/settings/EntityAnalytics"; got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
	if got, want := ref.CollectionPath(), "/workspaces/prod/settings"; got != want {
		t.Errorf("CollectionPath() = %q, want %q", got, want)
	}
}

func TestHTTPClient_Get_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	result, err := client.Get(context.Background(), NewResourceRef("/ws", "settings", "Ueba"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if result.Exists {
		t.Error("Get() on 404 should report Exists=false")
	}
	if result.VersionToken != "" {
		t.Errorf("Get() on 404 returned token %q", result.VersionToken)
	}
}

func TestHTTPClient_Get_VersionTokenFromHeader(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("api-version"); got != "2024-01-01" {
			t.Errorf("api-version = %q", got)
		}
		w.Header().Set("ETag", `"abc-123"`)
		w.Write([]byte(`{"properties":{}}`))
	}))

	result, err := client.Get(context.Background(), NewResourceRef("/ws", "settings", "Ueba"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !result.Exists {
		t.Fatal("Get() should report Exists=true")
	}
	if result.VersionToken != `"abc-123"` {
		t.Errorf("VersionToken = %q, want header ETag", result.VersionToken)
	}
}

func TestHTTPClient_Get_VersionTokenFromBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"etag":"body-etag","properties":{}}`))
	}))

	result, err := client.Get(context.Background(), NewResourceRef("/ws", "settings", "Anomalies"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if result.VersionToken != "body-etag" {
		t.Errorf("VersionToken = %q, want body etag fallback", result.VersionToken)
	}
}

func TestHTTPClient_Put_MatchModes(t *testing.T) {
	tests := []struct {
		name      string
		mode      MatchMode
		token     string
		wantErr   bool
		ifMatch   string
		ifNoneVal string
	}{
		{name: "if-match with token", mode: MatchModeIfMatch, token: `"v1"`, ifMatch: `"v1"`},
		{name: "if-match without token", mode: MatchModeIfMatch, wantErr: true},
		{name: "if-none-match", mode: MatchModeIfNoneMatch, ifNoneVal: "*"},
		{name: "unconditional", mode: MatchModeNone},
		{name: "unknown mode", mode: MatchMode("bogus"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotIfMatch, gotIfNone string
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotIfMatch = r.Header.Get("If-Match")
				gotIfNone = r.Header.Get("If-None-Match")
				w.WriteHeader(http.StatusOK)
			}))

			result, err := client.Put(context.Background(),
				NewResourceRef("/ws", "settings", "Ueba"),
				json.RawMessage(`{}`), tt.token, tt.mode)

			if tt.wantErr {
				if err == nil {
					t.Fatal("Put() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if !result.Succeeded() {
				t.Errorf("Succeeded() = false for status %d", result.StatusCode)
			}
			if gotIfMatch != tt.ifMatch {
				t.Errorf("If-Match = %q, want %q", gotIfMatch, tt.ifMatch)
			}
			if gotIfNone != tt.ifNoneVal {
				t.Errorf("If-None-Match = %q, want %q", gotIfNone, tt.ifNoneVal)
			}
		})
	}
}

func TestHTTPClient_Put_Non2xxIsNotError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"message":"already exists"}}`))
	}))

	result, err := client.Put(context.Background(),
		NewResourceRef("/ws", "settings", "Ueba"),
		json.RawMessage(`{}`), "", MatchModeIfNoneMatch)
	if err != nil {
		t.Fatalf("Put() should not error on application-level refusal: %v", err)
	}
	if result.Succeeded() {
		t.Error("Succeeded() = true for 409")
	}
	if result.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d, want 409", result.StatusCode)
	}
}

func TestHTTPClient_TransportError(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := client.Get(context.Background(), NewResourceRef("/ws", "settings", "Ueba"))
	if err == nil {
		t.Fatal("Get() against closed server should fail")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Errorf("error %v is not a TransportError", err)
	}
}
