package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/usman-khan12/Vectr/internal/agent"
	"github.com/usman-khan12/Vectr/internal/channel"
	"github.com/usman-khan12/Vectr/internal/domain"
	"github.com/usman-khan12/Vectr/internal/identity"
	"github.com/usman-khan12/Vectr/internal/imagery"
	"github.com/usman-khan12/Vectr/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

type fakeEnricher struct {
	mu  sync.Mutex
	got []domain.Incident
}

func (f *fakeEnricher) Enrich(_ context.Context, inc domain.Incident) domain.EnrichmentBundle {
	f.mu.Lock()
	f.got = append(f.got, inc)
	f.mu.Unlock()
	return domain.EnrichmentBundle{
		SceneAnalysis:         "Two-story residence, driveway on north side.",
		PositioningGuidance:   "Stage on Oak Street facing east.",
		EMSReport:             "Structure fire, occupants out.",
		CompressedScene:       "2-story res, N driveway.",
		CompressedPositioning: "Stage Oak St, face E.",
		StructuredPositioning: &domain.StructuredPositioning{
			POIs:               []domain.PointOfInterest{{Type: domain.POIParking, Heading: 90, Priority: 1}},
			RecommendedHeading: 90,
		},
	}
}

func (f *fakeEnricher) last() domain.Incident {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[len(f.got)-1]
}

type fakeGeocoder struct {
	place      imagery.Place
	address    string
	err        error
	reverseErr error
}

func (f fakeGeocoder) Geocode(context.Context, string) (imagery.Place, error) {
	return f.place, f.err
}

func (f fakeGeocoder) ReverseGeocode(context.Context, domain.Coordinates) (string, error) {
	return f.address, f.reverseErr
}

type fakeSessions map[string]*agent.Controller

func (f fakeSessions) Session(room string) (*agent.Controller, bool) {
	c, ok := f[room]
	return c, ok
}

type incidentFixture struct {
	hub      *channel.Hub
	tokens   *identity.Registry
	enricher *fakeEnricher
	limiter  *agent.RateLimiter
	sessions fakeSessions
	srv      *httptest.Server
}

func newIncidentFixture(t *testing.T, geo Geocoder) *incidentFixture {
	t.Helper()
	f := &incidentFixture{
		hub:      channel.NewHub(16384, testLogger()),
		tokens:   identity.NewRegistry(),
		enricher: &fakeEnricher{},
		limiter:  agent.NewRateLimiter(2, time.Minute),
		sessions: fakeSessions{},
	}
	h := NewIncidentHandler(IncidentDeps{
		Enricher:         f.enricher,
		Geocoder:         geo,
		Rooms:            f.hub,
		Tokens:           f.tokens,
		Sessions:         f.sessions,
		Limiter:          f.limiter,
		SideChannelLimit: 1000,
	})
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	f.srv = httptest.NewServer(r)
	t.Cleanup(func() {
		f.srv.Close()
		f.limiter.Stop()
		f.hub.CloseAll("test done")
	})
	return f
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCreateIncident(t *testing.T) {
	t.Parallel()

	f := newIncidentFixture(t, nil)
	resp := postJSON(t, f.srv.URL+"/incident/create", CreateIncidentRequest{
		IncidentID:  "fire-42",
		Address:     "123 Oak Street",
		Lat:         37.77,
		Lng:         -122.41,
		CallerNotes: "smoke from second floor",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got CreateIncidentResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}

	if got.RoomName != "incident-fire-42" {
		t.Errorf("room_name = %q", got.RoomName)
	}
	if got.SceneAnalysis == "" || got.EMSReport == "" || got.StructuredPositioning == nil {
		t.Errorf("response missing enrichment: %+v", got)
	}

	for token, wantIdentity := range map[string]string{
		got.TokenDispatcher: identity.DispatcherIdentity,
		got.TokenEMT:        identity.CrewIdentity,
	} {
		grant, ok := f.tokens.Lookup(token)
		if !ok {
			t.Fatalf("token for %s was not registered", wantIdentity)
		}
		if grant.Room != got.RoomName || grant.Identity != wantIdentity {
			t.Errorf("grant = %+v", grant)
		}
	}

	room, err := f.hub.Get(got.RoomName)
	if err != nil {
		t.Fatalf("room not opened: %v", err)
	}
	meta, err := pipeline.ParseMetadata(room.Metadata())
	if err != nil {
		t.Fatal(err)
	}
	if meta.Address != "123 Oak Street" || meta.SceneAnalysis != "2-story res, N driveway." {
		t.Errorf("metadata = %+v, want compressed enrichment", meta)
	}
}

func TestCreateIncidentValidation(t *testing.T) {
	t.Parallel()

	f := newIncidentFixture(t, nil)
	tests := []struct {
		name string
		body any
	}{
		{"no location", CreateIncidentRequest{IncidentID: "a"}},
		{"bad id", CreateIncidentRequest{IncidentID: "../etc", Address: "1 Main St"}},
		{"lat out of range", CreateIncidentRequest{IncidentID: "b", Lat: 91, Lng: 1}},
		{"not json", "not an object"},
	}
	for _, tt := range tests {
		resp := postJSON(t, f.srv.URL+"/incident/create", tt.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, resp.StatusCode)
		}
	}
	if len(f.hub.Names()) != 0 {
		t.Errorf("rooms opened for invalid requests: %v", f.hub.Names())
	}
}

func TestCreateIncidentResolvesLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		geo         fakeGeocoder
		req         CreateIncidentRequest
		wantAddress string
		wantCoords  domain.Coordinates
	}{
		{
			name:        "geocodes address",
			geo:         fakeGeocoder{place: imagery.Place{Coordinates: domain.Coordinates{Lat: 40.7, Lng: -74}}},
			req:         CreateIncidentRequest{IncidentID: "g1", Address: "1 Main St"},
			wantAddress: "1 Main St",
			wantCoords:  domain.Coordinates{Lat: 40.7, Lng: -74},
		},
		{
			name:        "geocode failure continues",
			geo:         fakeGeocoder{err: domain.Upstream("google_maps", "no results", nil)},
			req:         CreateIncidentRequest{IncidentID: "g2", Address: "nowhere"},
			wantAddress: "nowhere",
		},
		{
			name:        "reverse geocodes coordinates",
			geo:         fakeGeocoder{address: "5 Pine Ave"},
			req:         CreateIncidentRequest{IncidentID: "g3", Lat: 1.5, Lng: 2.5},
			wantAddress: "5 Pine Ave",
			wantCoords:  domain.Coordinates{Lat: 1.5, Lng: 2.5},
		},
		{
			name:        "reverse failure uses coordinates",
			geo:         fakeGeocoder{reverseErr: &domain.ConfigurationError{Setting: "GOOGLE_MAPS_API_KEY"}},
			req:         CreateIncidentRequest{IncidentID: "g4", Lat: 1.5, Lng: 2.5},
			wantAddress: "1.5,2.5",
			wantCoords:  domain.Coordinates{Lat: 1.5, Lng: 2.5},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newIncidentFixture(t, tt.geo)
			resp := postJSON(t, f.srv.URL+"/incident/create", tt.req)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			inc := f.enricher.last()
			if inc.Address != tt.wantAddress || inc.Coordinates != tt.wantCoords {
				t.Errorf("enriched %+v, want address %q at %v", inc, tt.wantAddress, tt.wantCoords)
			}
		})
	}
}

// subscribe records data packets published into room.
func subscribe(t *testing.T, room *channel.Room) func() []channel.Packet {
	t.Helper()
	var mu sync.Mutex
	var got []channel.Packet
	unsubscribe := room.Subscribe(func(p channel.Packet) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})
	t.Cleanup(unsubscribe)
	return func() []channel.Packet {
		mu.Lock()
		defer mu.Unlock()
		return append([]channel.Packet(nil), got...)
	}
}

func TestBriefingAndUpdateReachRoom(t *testing.T) {
	t.Parallel()

	f := newIncidentFixture(t, nil)
	room, _, err := f.hub.Create("incident-7", nil)
	if err != nil {
		t.Fatal(err)
	}
	packets := subscribe(t, room)

	resp := postJSON(t, f.srv.URL+"/incident/briefing", BriefingRequest{RoomName: "incident-7", BriefingText: "Use the rear alley."})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("briefing status = %d", resp.StatusCode)
	}
	resp = postJSON(t, f.srv.URL+"/incident/update", SceneUpdateRequest{RoomName: "incident-7"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}

	waitFor(t, 2*time.Second, func() bool { return len(packets()) == 2 })
	got := packets()

	if got[0].From != identity.DispatcherIdentity || got[0].Kind != channel.PacketData {
		t.Errorf("packet = %+v", got[0])
	}
	ev, err := domain.ParseDispatcherEvent(got[0].Data)
	if err != nil || ev.Kind != domain.EventTacticalBriefing || ev.Payload != "Use the rear alley." {
		t.Errorf("briefing event = %+v, %v", ev, err)
	}
	ev, err = domain.ParseDispatcherEvent(got[1].Data)
	if err != nil || ev.Kind != domain.EventSceneUpdate || ev.Payload != domain.DefaultSceneUpdateSummary {
		t.Errorf("update event = %+v, %v", ev, err)
	}
}

func TestBriefingRejections(t *testing.T) {
	t.Parallel()

	f := newIncidentFixture(t, nil)
	if _, _, err := f.hub.Create("incident-8", nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		room string
		want int
	}{
		{"missing room", "", http.StatusBadRequest},
		{"unknown room", "incident-none", http.StatusNotFound},
		{"first", "incident-8", http.StatusOK},
		{"second", "incident-8", http.StatusOK},
		{"throttled", "incident-8", http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		resp := postJSON(t, f.srv.URL+"/incident/briefing", BriefingRequest{RoomName: tt.room, BriefingText: "x"})
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, resp.StatusCode, tt.want)
		}
	}

	if err := f.hub.Close("incident-8", "test"); err != nil {
		t.Fatal(err)
	}
	f.limiter.Forget("incident-8")
	resp := postJSON(t, f.srv.URL+"/incident/update", SceneUpdateRequest{RoomName: "incident-8", Summary: "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("closed room: status = %d, want 404", resp.StatusCode)
	}
}

func TestIncidentStatus(t *testing.T) {
	t.Parallel()

	f := newIncidentFixture(t, nil)
	room, _, err := f.hub.Create("incident-9", nil)
	if err != nil {
		t.Fatal(err)
	}
	f.sessions["incident-9"] = agent.NewController(room, agent.Tools{}, nil, testLogger())

	resp, err := http.Get(f.srv.URL + "/incident/incident-9")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var s agent.Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Room != "incident-9" || !s.ChannelOpen || s.State != domain.StateIdle.String() {
		t.Errorf("session = %+v", s)
	}

	missing, err := http.Get(f.srv.URL + "/incident/incident-unknown")
	if err != nil {
		t.Fatal(err)
	}
	_ = missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", missing.StatusCode)
	}
}
