package channel

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Sink observes every utterance spoken in any room.
type Sink interface {
	Utterance(u Utterance)
}

// Hub is the registry of open rooms.
type Hub struct {
	mu            sync.RWMutex
	rooms         map[string]*Room
	metadataLimit int
	sinks         []Sink
	onCreated     []func(*Room)
	onClosed      []func(name string)
	log           *slog.Logger
}

// NewHub creates a hub that rejects metadata larger than metadataLimit bytes.
func NewHub(metadataLimit int, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms:         make(map[string]*Room),
		metadataLimit: metadataLimit,
		log:           log,
	}
}

// AddSink registers an utterance observer. Call before rooms are created.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// OnRoomCreated registers fn to run for every new room before Create returns.
// fn must not block; long-running work belongs on a goroutine it starts.
func (h *Hub) OnRoomCreated(fn func(*Room)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCreated = append(h.onCreated, fn)
}

// OnRoomClosed registers fn to run after a room is torn down.
func (h *Hub) OnRoomClosed(fn func(name string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClosed = append(h.onClosed, fn)
}

// Create opens a room, or replaces the metadata of an existing one. created is
// false when the room already existed.
func (h *Hub) Create(name string, metadata []byte) (room *Room, created bool, err error) {
	if h.metadataLimit > 0 && len(metadata) > h.metadataLimit {
		return nil, false, fmt.Errorf("%w: %d > %d bytes", ErrMetadataTooLarge, len(metadata), h.metadataLimit)
	}

	h.mu.Lock()
	if existing, ok := h.rooms[name]; ok && !existing.Closed() {
		h.mu.Unlock()
		existing.setMetadata(metadata)
		h.log.Info("Room already exists, metadata replaced", "room", name)
		return existing, false, nil
	}

	room = newRoom(name, metadata, h.emit, h.log)
	h.rooms[name] = room
	hooks := append([]func(*Room){}, h.onCreated...)
	h.mu.Unlock()

	h.log.Info("Room created", "room", name, "metadata_bytes", len(metadata))
	for _, fn := range hooks {
		fn(room)
	}
	return room, true, nil
}

// Get returns an open room.
func (h *Hub) Get(name string) (*Room, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[name]
	if !ok || room.Closed() {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	return room, nil
}

// Names returns the open room names, sorted.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close tears a room down and forgets it.
func (h *Hub) Close(name, reason string) error {
	h.mu.Lock()
	room, ok := h.rooms[name]
	if ok {
		delete(h.rooms, name)
	}
	hooks := append([]func(string){}, h.onClosed...)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}

	room.close(reason)
	for _, fn := range hooks {
		fn(name)
	}
	return nil
}

// CloseAll tears every room down, used at shutdown.
func (h *Hub) CloseAll(reason string) {
	for _, name := range h.Names() {
		_ = h.Close(name, reason)
	}
}

func (h *Hub) emit(u Utterance) {
	h.mu.RLock()
	sinks := append([]Sink{}, h.sinks...)
	h.mu.RUnlock()
	for _, s := range sinks {
		s.Utterance(u)
	}
}
