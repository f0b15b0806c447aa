package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/usman-khan12/Vectr/internal/channel"
)

// Supervisor starts a Controller for every room the hub opens and tracks the
// live ones.
type Supervisor struct {
	tools Tools
	voice Voice
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Controller
	stopped  bool
	wg       sync.WaitGroup
}

// NewSupervisor creates a supervisor whose controllers share tools and voice.
func NewSupervisor(tools Tools, voice Voice, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		tools:    tools,
		voice:    voice,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Controller),
	}
}

// Attach registers the supervisor with hub so every new room gets a session.
func (s *Supervisor) Attach(hub *channel.Hub) {
	hub.OnRoomCreated(s.Start)
}

// Start opens a session for room and runs it on its own goroutine. The session
// is subscribed to the room before Start returns, so no packet published
// afterwards is missed. It does nothing if the room already has a live session.
func (s *Supervisor) Start(room *channel.Room) {
	c, ok := s.register(room)
	if !ok {
		return
	}
	c.Join()
	go s.drive(room, c)
}

// Run is Start without the goroutine: it drives a controller for room until the
// room closes.
func (s *Supervisor) Run(room *channel.Room) {
	c, ok := s.register(room)
	if !ok {
		return
	}
	c.Join()
	s.drive(room, c)
}

func (s *Supervisor) register(room *channel.Room) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, false
	}
	if _, ok := s.sessions[room.Name()]; ok {
		s.log.Debug("Session already running", "room", room.Name())
		return nil, false
	}
	c := NewController(room, s.tools, s.voice, s.log)
	s.sessions[room.Name()] = c
	s.wg.Add(1)
	return c, true
}

func (s *Supervisor) drive(room *channel.Room, c *Controller) {
	defer func() {
		s.mu.Lock()
		if s.sessions[room.Name()] == c {
			delete(s.sessions, room.Name())
		}
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.log.Info("VECTR agent joining room", "room", room.Name())
	c.Run(s.ctx)
}

// Session returns the live controller for room.
func (s *Supervisor) Session(room string) (*Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[room]
	return c, ok
}

// Rooms returns the rooms with a live session, sorted.
func (s *Supervisor) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]string, 0, len(s.sessions))
	for name := range s.sessions {
		rooms = append(rooms, name)
	}
	sort.Strings(rooms)
	return rooms
}

// Shutdown stops every session and waits for them to exit or ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
