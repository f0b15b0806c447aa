package compress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/usman-khan12/Vectr/internal/domain"
)

func TestCompress(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tc-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"output":"pt 67M chest pain","original_input_tokens":40}`))
	}))
	defer srv.Close()

	c := NewClient("tc-key", WithURL(srv.URL))
	got, err := c.Compress(context.Background(), "The patient is a 67 year old male with chest pain.", 0.3)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if got != "pt 67M chest pain" {
		t.Errorf("Compress = %q", got)
	}

	if body["model"] != "bear-1" {
		t.Errorf("model = %v", body["model"])
	}
	settings, ok := body["compression_settings"].(map[string]any)
	if !ok {
		t.Fatalf("missing compression_settings: %v", body)
	}
	if settings["aggressiveness"] != 0.3 {
		t.Errorf("aggressiveness = %v", settings["aggressiveness"])
	}
	if v, present := settings["max_output_tokens"]; !present || v != nil {
		t.Errorf("max_output_tokens should be an explicit null, got %v (present=%v)", v, present)
	}
}

func TestCompressFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non-success status", http.StatusTooManyRequests, `{"error":"slow down"}`},
		{"output missing", http.StatusOK, `{"result":"x"}`},
		{"output not a string", http.StatusOK, `{"output":42}`},
		{"output null", http.StatusOK, `{"output":null}`},
		{"not json", http.StatusOK, `<html>`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient("k", WithURL(srv.URL)).Compress(context.Background(), "text", 0.5)
			if !domain.IsUpstream(err) {
				t.Fatalf("expected UpstreamError, got %v", err)
			}
		})
	}
}

func TestCompressSendsAggressivenessAsIs(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var sent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body compressRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		sent.Store(body.Settings.Aggressiveness)
		_, _ = w.Write([]byte(`{"output":"x"}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithURL(srv.URL))
	for _, a := range []float64{-0.1, 1.5} {
		if _, err := c.Compress(context.Background(), "text", a); err != nil {
			t.Fatalf("aggressiveness %v: %v", a, err)
		}
		if got := sent.Load(); got != a {
			t.Errorf("sent aggressiveness = %v, want %v", got, a)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestCompressWithoutKey(t *testing.T) {
	t.Parallel()

	if _, err := NewClient("").Compress(context.Background(), "text", 0.5); !domain.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError without key, got %v", err)
	}
}

func TestValidAggressiveness(t *testing.T) {
	t.Parallel()

	for a, want := range map[float64]bool{0: true, 0.5: true, 1: true, -0.01: false, 1.5: false} {
		if got := ValidAggressiveness(a); got != want {
			t.Errorf("ValidAggressiveness(%v) = %v", a, got)
		}
	}
}
