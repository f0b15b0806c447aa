package agent

import (
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/usman-khan12/Vectr/internal/channel"
	"github.com/usman-khan12/Vectr/internal/config"
	"github.com/usman-khan12/Vectr/internal/identity"
)

const (
	defaultKeepalive  = 10 * time.Second
	defaultRetryDelay = 5 * time.Second
	replayPerRoom     = 100
	feedBuffer        = 256
)

// sseConnection is a single SSE client connection.
type sseConnection struct {
	ID          int64
	Room        string
	Identity    string
	ConnectedAt time.Time
	EventID     int64
	Writer      http.ResponseWriter
	Flusher     http.Flusher
	Done        chan struct{}
	mu          sync.Mutex
	once        sync.Once
}

func (c *sseConnection) close() {
	c.once.Do(func() { close(c.Done) })
}

// QueuedUtterance is an utterance kept for replay.
type QueuedUtterance struct {
	EventID   int64
	Utterance channel.Utterance
}

// ReplayQueue keeps the most recent utterances per room so a reconnecting
// console can catch up from its Last-Event-ID.
type ReplayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

// NewReplayQueue creates a queue holding up to maxSize utterances per room.
func NewReplayQueue(maxSize int) *ReplayQueue {
	if maxSize <= 0 {
		maxSize = replayPerRoom
	}
	return &ReplayQueue{queues: make(map[string]*list.List), maxSize: maxSize}
}

// Enqueue records an utterance, evicting the room's oldest beyond maxSize.
func (q *ReplayQueue) Enqueue(eventID int64, u channel.Utterance) {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.queues[u.Room]
	if !ok {
		l = list.New()
		q.queues[u.Room] = l
	}
	l.PushBack(&QueuedUtterance{EventID: eventID, Utterance: u})
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// Since returns the room's utterances after afterEventID, oldest first.
func (q *ReplayQueue) Since(room string, afterEventID int64) []*QueuedUtterance {
	q.mu.RLock()
	defer q.mu.RUnlock()
	l, ok := q.queues[room]
	if !ok {
		return nil
	}
	var missed []*QueuedUtterance
	for e := l.Front(); e != nil; e = e.Next() {
		msg := e.Value.(*QueuedUtterance)
		if msg.EventID > afterEventID {
			missed = append(missed, msg)
		}
	}
	return missed
}

// Prune drops a room's history.
func (q *ReplayQueue) Prune(room string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, room)
}

// Feed streams every utterance spoken in a room to the dispatcher console over
// SSE. It is a channel.Sink.
type Feed struct {
	keepalive  time.Duration
	retryDelay time.Duration

	updates chan channel.Utterance
	queue   *ReplayQueue

	connectionsMu sync.RWMutex
	connections   map[string]map[int64]*sseConnection

	eventCounter atomic.Int64
	connectionID atomic.Int64

	done chan struct{}
	once sync.Once
}

// NewFeed creates a feed and starts its broadcaster. cfg may be nil.
func NewFeed(cfg *config.Config) *Feed {
	f := &Feed{
		keepalive:   defaultKeepalive,
		retryDelay:  defaultRetryDelay,
		updates:     make(chan channel.Utterance, feedBuffer),
		queue:       NewReplayQueue(replayPerRoom),
		connections: make(map[string]map[int64]*sseConnection),
		done:        make(chan struct{}),
	}
	if cfg != nil {
		f.keepalive = cfg.SSE.KeepaliveInterval
		f.retryDelay = cfg.SSE.RetryDelay
	}
	go f.broadcastLoop()
	return f
}

// Utterance queues u for fan-out without blocking the room's speech queue.
func (f *Feed) Utterance(u channel.Utterance) {
	select {
	case f.updates <- u:
	case <-f.done:
	default:
		slog.Warn("[FEED] Update buffer full, dropping utterance", "room", u.Room, "id", u.ID)
	}
}

// Forget disconnects the room's streams and drops its history. Wire it to room
// teardown.
func (f *Feed) Forget(room string) {
	f.connectionsMu.RLock()
	conns := make([]*sseConnection, 0, len(f.connections[room]))
	for _, c := range f.connections[room] {
		conns = append(conns, c)
	}
	f.connectionsMu.RUnlock()

	for _, c := range conns {
		c.close()
	}
	f.queue.Prune(room)
}

// RegisterRoutes registers the stream route behind token authentication.
func (f *Feed) RegisterRoutes(r chi.Router, reg *identity.Registry) {
	r.With(identity.Middleware(reg)).Get("/incident/{room}/stream", f.HandleStream)
}

// Close stops the broadcaster.
func (f *Feed) Close() {
	f.once.Do(func() { close(f.done) })
}

func (f *Feed) broadcastLoop() {
	slog.Info("[FEED] Broadcast loop started")
	for {
		select {
		case <-f.done:
			slog.Info("[FEED] Broadcast loop shutting down")
			return
		case u := <-f.updates:
			eventID := f.eventCounter.Add(1)
			f.queue.Enqueue(eventID, u)

			f.connectionsMu.RLock()
			roomConns := f.connections[u.Room]
			conns := make([]*sseConnection, 0, len(roomConns))
			for _, c := range roomConns {
				conns = append(conns, c)
			}
			f.connectionsMu.RUnlock()

			for _, conn := range conns {
				f.sendToConnection(conn, eventID, u)
			}
		}
	}
}

func (f *Feed) sendToConnection(conn *sseConnection, eventID int64, u channel.Utterance) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	select {
	case <-conn.Done:
		return
	default:
	}

	data, err := json.Marshal(u)
	if err != nil {
		slog.Error("[SEND] Failed to marshal utterance", "error", err, "conn_id", conn.ID)
		return
	}
	if err := writeSSEWithID(conn.Writer, eventID, "utterance", string(data)); err != nil {
		slog.Error("[SEND] Failed to write to SSE connection", "error", err, "conn_id", conn.ID, "room", conn.Room)
		return
	}
	conn.Flusher.Flush()
	conn.EventID = eventID
}

// HandleStream handles GET /incident/{room}/stream. The token must grant the
// same room. Reconnecting clients get missed utterances replayed from
// Last-Event-ID (or ?lastEventId=).
//
//nolint:gocognit,gocyclo // SSE lifecycle handling intentionally keeps branches together.
func (f *Feed) HandleStream(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	grant, ok := identity.GrantFromContext(r.Context())
	if !ok || grant.Room != room {
		http.Error(w, `{"error": "token not valid for this room"}`, http.StatusForbidden)
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			slog.Info("SSE client reconnecting with Last-Event-ID", "room", room, "last_event_id", lastEventID)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", f.retryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "room", room)
		return
	}
	flusher.Flush()

	connID := f.connectionID.Add(1)
	conn := &sseConnection{
		ID:          connID,
		Room:        room,
		Identity:    grant.Identity,
		ConnectedAt: time.Now(),
		Writer:      w,
		Flusher:     flusher,
		Done:        make(chan struct{}),
	}

	f.connectionsMu.Lock()
	if _, exists := f.connections[room]; !exists {
		f.connections[room] = make(map[int64]*sseConnection)
	}
	f.connections[room][connID] = conn
	f.connectionsMu.Unlock()

	defer func() {
		conn.close()
		f.connectionsMu.Lock()
		if roomConns, exists := f.connections[room]; exists {
			delete(roomConns, connID)
			if len(roomConns) == 0 {
				delete(f.connections, room)
			}
		}
		f.connectionsMu.Unlock()
		slog.Info("SSE connection closed", "room", room, "conn_id", connID)
	}()

	if lastEventID > 0 {
		missed := f.queue.Since(room, lastEventID)
		if len(missed) > 0 {
			slog.Info("Sending missed utterances", "room", room, "count", len(missed))
		}
		for _, msg := range missed {
			f.sendToConnection(conn, msg.EventID, msg.Utterance)
		}
	}

	conn.mu.Lock()
	connected := fmt.Sprintf(`{"status":"connected","room":%q,"identity":%q}`, room, grant.Identity)
	err := writeSSE(w, "connected", connected)
	if err == nil {
		flusher.Flush()
	}
	conn.mu.Unlock()
	if err != nil {
		slog.Warn("failed to write SSE connected event", "error", err, "room", room)
		return
	}
	slog.Info("SSE connection established", "room", room, "identity", grant.Identity, "reconnect", lastEventID > 0)

	keepalive := time.NewTicker(f.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("Incident stream disconnected", "room", room)
			return
		case <-conn.Done:
			slog.Info("Incident stream closed with room", "room", room)
			return
		case <-f.done:
			return
		case <-keepalive.C:
			conn.mu.Lock()
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				conn.mu.Unlock()
				slog.Warn("failed to write SSE keepalive ping", "error", err, "room", room)
				return
			}
			flusher.Flush()
			conn.mu.Unlock()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
