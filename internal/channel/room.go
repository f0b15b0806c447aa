// Package channel is the voice channel transport: incident rooms, their
// participants, data packet delivery, and serialized speech output.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

var (
	// ErrRoomClosed is returned when publishing to or speaking in a closed room.
	ErrRoomClosed = errors.New("room closed")
	// ErrRoomNotFound is returned for unknown room names.
	ErrRoomNotFound = errors.New("room not found")
	// ErrMetadataTooLarge is returned when metadata exceeds the hub's limit.
	ErrMetadataTooLarge = errors.New("room metadata exceeds size limit")
)

// PacketKind distinguishes data packets from tool requests.
type PacketKind string

const (
	PacketData PacketKind = "data"
	PacketTool PacketKind = "tool"
)

// Packet is one inbound message delivered to a room's subscribers.
type Packet struct {
	Kind PacketKind
	From string
	Data []byte
	Tool string
}

// Utterance is one piece of speech emitted into a room.
type Utterance struct {
	ID     string    `json:"id"`
	Room   string    `json:"room"`
	Text   string    `json:"text"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Conn is the subset of *websocket.Conn a participant needs.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Participant is a connected client in a room.
type Participant struct {
	Identity string
	Name     string
	conn     Conn
}

// NewParticipant wraps a connection.
func NewParticipant(identity, name string, conn Conn) *Participant {
	return &Participant{Identity: identity, Name: name, conn: conn}
}

const (
	dataQueueSize = 64
	writeTimeout  = 5 * time.Second
)

// Room is one incident's voice channel. Inbound packets are delivered to
// subscribers one at a time in arrival order; speech is emitted one utterance at
// a time through the room's speech queue.
type Room struct {
	name string
	log  *slog.Logger

	mu           sync.RWMutex
	metadata     []byte
	participants map[*Participant]struct{}
	subscribers  map[int]func(Packet)
	nextSub      int
	emptySince   time.Time
	createdAt    time.Time

	data   chan Packet
	speech *SpeechQueue
	done   chan struct{}
	once   sync.Once
}

func newRoom(name string, metadata []byte, sink func(Utterance), log *slog.Logger) *Room {
	now := time.Now()
	r := &Room{
		name:         name,
		log:          log.With("room", name),
		metadata:     metadata,
		participants: make(map[*Participant]struct{}),
		subscribers:  make(map[int]func(Packet)),
		emptySince:   now,
		createdAt:    now,
		data:         make(chan Packet, dataQueueSize),
		done:         make(chan struct{}),
	}
	r.speech = NewSpeechQueue(r, sink, r.log)
	go r.deliverLoop()
	return r
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// Metadata returns a copy of the room's metadata blob.
func (r *Room) Metadata() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]byte, len(r.metadata))
	copy(out, r.metadata)
	return out
}

func (r *Room) setMetadata(m []byte) {
	r.mu.Lock()
	r.metadata = m
	r.mu.Unlock()
}

// Done is closed when the room is torn down.
func (r *Room) Done() <-chan struct{} { return r.done }

// Closed reports whether the room has been torn down.
func (r *Room) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Subscribe registers fn to receive every inbound packet. fn runs on the room's
// delivery goroutine and must return promptly. The returned func unsubscribes.
func (r *Room) Subscribe(fn func(Packet)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

// Publish queues a packet for delivery. It blocks only while the delivery queue
// is full, and returns ErrRoomClosed once the room is torn down.
func (r *Room) Publish(ctx context.Context, p Packet) error {
	if r.Closed() {
		return ErrRoomClosed
	}
	select {
	case r.data <- p:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Speak queues an utterance for emission to participants and sinks. It waits
// while the room's speech queue is full, until ctx ends or the room closes.
func (r *Room) Speak(ctx context.Context, u Utterance) error {
	if r.Closed() {
		return ErrRoomClosed
	}
	u.Room = r.name
	if u.At.IsZero() {
		u.At = time.Now()
	}
	return r.speech.Enqueue(ctx, u)
}

// Join adds a participant.
func (r *Room) Join(p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Closed() {
		return ErrRoomClosed
	}
	r.participants[p] = struct{}{}
	r.log.Info("Participant joined", "identity", p.Identity, "participants", len(r.participants))
	return nil
}

// Leave removes a participant. The empty timer starts when the last one leaves.
func (r *Room) Leave(p *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[p]; !ok {
		return
	}
	delete(r.participants, p)
	if len(r.participants) == 0 {
		r.emptySince = time.Now()
	}
	r.log.Info("Participant left", "identity", p.Identity, "participants", len(r.participants))
}

// ParticipantCount returns the number of connected participants.
func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// emptyFor reports how long the room has had no participants, or zero if it has some.
func (r *Room) emptyFor(now time.Time) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.participants) > 0 {
		return 0
	}
	return now.Sub(r.emptySince)
}

// broadcast writes a frame to every participant. Failed writes are logged; the
// participant's own read loop notices the broken connection.
func (r *Room) broadcast(frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		r.log.Error("Failed to encode frame", "error", err)
		return
	}

	r.mu.RLock()
	targets := make([]*Participant, 0, len(r.participants))
	for p := range r.participants {
		targets = append(targets, p)
	}
	r.mu.RUnlock()

	for _, p := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := p.conn.Write(ctx, websocket.MessageText, payload); err != nil {
			r.log.Debug("Frame write failed", "identity", p.Identity, "error", err)
		}
		cancel()
	}
}

func (r *Room) deliverLoop() {
	for {
		select {
		case <-r.done:
			return
		case p := <-r.data:
			r.deliver(p)
		}
	}
}

func (r *Room) deliver(p Packet) {
	r.mu.RLock()
	subs := make([]func(Packet), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subs = append(subs, fn)
	}
	r.mu.RUnlock()

	if len(subs) == 0 {
		r.log.Warn("Packet delivered with no subscriber", "kind", p.Kind, "from", p.From)
	}
	for _, fn := range subs {
		r.safeCall(fn, p)
	}

	if p.Kind == PacketData {
		r.broadcast(dataFrame{Type: "data", From: p.From, Payload: json.RawMessage(validJSONOrString(p.Data))})
	}
}

// safeCall shields the delivery loop from a panicking subscriber.
func (r *Room) safeCall(fn func(Packet), p Packet) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Packet subscriber panicked", "panic", rec, "kind", p.Kind)
		}
	}()
	fn(p)
}

// close tears the room down: participants are disconnected, queued speech is
// dropped, and Done is closed. It is idempotent.
func (r *Room) close(reason string) {
	r.once.Do(func() {
		r.mu.Lock()
		close(r.done)
		participants := r.participants
		r.participants = make(map[*Participant]struct{})
		r.mu.Unlock()

		r.speech.Close()

		payload, _ := json.Marshal(closedFrame{Type: "closed", Reason: reason})
		for p := range participants {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			_ = p.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			_ = p.conn.Close(websocket.StatusNormalClosure, reason)
		}
		r.log.Info("Room closed", "reason", reason, "lifetime", time.Since(r.createdAt).Round(time.Second))
	})
}

type dataFrame struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type speechFrame struct {
	Type string `json:"type"`
	Utterance
}

type closedFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// validJSONOrString returns data if it is valid JSON, otherwise data encoded as a
// JSON string.
func validJSONOrString(data []byte) []byte {
	if json.Valid(data) {
		return data
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
