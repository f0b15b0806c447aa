package agent

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/usman-khan12/Vectr/internal/channel"
	"github.com/usman-khan12/Vectr/internal/identity"
)

func newFeedServer(t *testing.T) (*Feed, *identity.Registry, *httptest.Server) {
	t.Helper()
	feed := NewFeed(nil)
	reg := identity.NewRegistry()
	r := chi.NewRouter()
	feed.RegisterRoutes(r, reg)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		feed.Close()
		srv.Close()
	})
	return feed, reg, srv
}

// readEvents collects SSE event names and data lines until want events named
// name have been seen.
func readEvents(t *testing.T, sc *bufio.Scanner, name string, want int) []string {
	t.Helper()
	var data []string
	current := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && current == name:
			data = append(data, strings.TrimPrefix(line, "data: "))
			if len(data) == want {
				return data
			}
		}
	}
	t.Fatalf("stream ended after %d %q events: %v", len(data), name, sc.Err())
	return nil
}

func openStream(t *testing.T, ctx context.Context, url, lastEventID string) *bufio.Scanner {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	return bufio.NewScanner(resp.Body)
}

func TestFeedStreamsUtterances(t *testing.T) {
	t.Parallel()

	feed, reg, srv := newFeedServer(t)
	grant := reg.Issue("incident-1", identity.DispatcherIdentity, identity.DispatcherName)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sc := openStream(t, ctx, srv.URL+"/incident/incident-1/stream?token="+grant.Token, "")
	readEvents(t, sc, "connected", 1)

	feed.Utterance(channel.Utterance{ID: "other", Room: "incident-2", Text: "not for you"})
	feed.Utterance(channel.Utterance{ID: "u1", Room: "incident-1", Text: "Copy, en route."})

	got := readEvents(t, sc, "utterance", 1)
	if !strings.Contains(got[0], "Copy, en route.") {
		t.Errorf("utterance event = %s", got[0])
	}
}

func TestFeedReplaysMissedUtterances(t *testing.T) {
	t.Parallel()

	feed, reg, srv := newFeedServer(t)
	grant := reg.Issue("incident-3", identity.CrewIdentity, identity.CrewName)

	feed.Utterance(channel.Utterance{ID: "a", Room: "incident-3", Text: "first"})
	feed.Utterance(channel.Utterance{ID: "b", Room: "incident-3", Text: "second"})
	waitFor(t, 2*time.Second, func() bool { return len(feed.queue.Since("incident-3", 0)) == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sc := openStream(t, ctx, srv.URL+"/incident/incident-3/stream?token="+grant.Token, "1")

	got := readEvents(t, sc, "utterance", 1)
	if !strings.Contains(got[0], "second") {
		t.Errorf("replayed = %s, want only the utterance after event 1", got[0])
	}
}

func TestFeedForgetEndsStream(t *testing.T) {
	t.Parallel()

	feed, reg, srv := newFeedServer(t)
	grant := reg.Issue("incident-4", identity.DispatcherIdentity, identity.DispatcherName)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sc := openStream(t, ctx, srv.URL+"/incident/incident-4/stream?token="+grant.Token, "")
	readEvents(t, sc, "connected", 1)

	waitFor(t, 2*time.Second, func() bool {
		feed.connectionsMu.RLock()
		defer feed.connectionsMu.RUnlock()
		return len(feed.connections["incident-4"]) == 1
	})
	feed.Forget("incident-4")

	for sc.Scan() {
	}
	if ctx.Err() != nil {
		t.Fatal("stream did not end after Forget")
	}
}

func TestFeedRejectsForeignToken(t *testing.T) {
	t.Parallel()

	_, reg, srv := newFeedServer(t)
	grant := reg.Issue("incident-5", identity.CrewIdentity, identity.CrewName)

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"wrong room", srv.URL + "/incident/incident-6/stream?token=" + grant.Token, http.StatusForbidden},
		{"no token", srv.URL + "/incident/incident-5/stream", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		resp, err := http.Get(tt.url)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, resp.StatusCode, tt.want)
		}
	}
}

func TestReplayQueueBounded(t *testing.T) {
	t.Parallel()

	q := NewReplayQueue(3)
	for i := int64(1); i <= 5; i++ {
		q.Enqueue(i, channel.Utterance{Room: "r"})
	}
	got := q.Since("r", 0)
	if len(got) != 3 || got[0].EventID != 3 {
		t.Fatalf("queue kept %d, first %d", len(got), got[0].EventID)
	}
	q.Prune("r")
	if q.Since("r", 0) != nil {
		t.Error("Prune left history")
	}
}
