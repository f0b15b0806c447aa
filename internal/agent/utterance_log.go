package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/usman-khan12/Vectr/internal/channel"
	"github.com/usman-khan12/Vectr/internal/config"
)

// UtteranceLogger records what the agent says. It is a channel.Sink.
type UtteranceLogger interface {
	channel.Sink
	Close() error
}

// UtteranceRecord is one NDJSON line.
type UtteranceRecord struct {
	Timestamp string `json:"ts"`
	Room      string `json:"room"`
	ID        string `json:"id"`
	Source    string `json:"source"`
	TextRaw   string `json:"text_raw"`
	Text      string `json:"text"`
}

type noopUtteranceLogger struct{}

func (noopUtteranceLogger) Utterance(channel.Utterance) {}
func (noopUtteranceLogger) Close() error                { return nil }

// fileUtteranceLogger appends records to one NDJSON file per room. Writes
// happen on a single goroutine; Utterance never blocks.
type fileUtteranceLogger struct {
	dir    string
	queue  chan UtteranceRecord
	files  map[string]*os.File
	log    *slog.Logger
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewUtteranceLogger returns a file-backed logger, or a no-op when disabled.
func NewUtteranceLogger(cfg config.UtteranceLogConfig, log *slog.Logger) (UtteranceLogger, error) {
	if !cfg.Enabled {
		return noopUtteranceLogger{}, nil
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create utterance log dir: %w", err)
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1000
	}
	l := &fileUtteranceLogger{
		dir:   cfg.Dir,
		queue: make(chan UtteranceRecord, size),
		files: make(map[string]*os.File),
		log:   log,
	}
	l.wg.Add(1)
	go l.run()
	log.Info("Utterance log enabled", "dir", cfg.Dir)
	return l, nil
}

func (l *fileUtteranceLogger) Utterance(u channel.Utterance) {
	rec := UtteranceRecord{
		Timestamp: u.At.UTC().Format(time.RFC3339Nano),
		Room:      u.Room,
		ID:        u.ID,
		Source:    u.Source,
		TextRaw:   u.Text,
		Text:      cleanForReadability(u.Text),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- rec:
	default:
		l.log.Warn("Utterance log queue full, dropping record", "room", u.Room, "id", u.ID)
	}
}

func (l *fileUtteranceLogger) run() {
	defer l.wg.Done()
	for rec := range l.queue {
		if err := l.write(rec); err != nil {
			l.log.Warn("Failed to write utterance log", "room", rec.Room, "error", err)
		}
	}
}

func (l *fileUtteranceLogger) write(rec UtteranceRecord) error {
	f, ok := l.files[rec.Room]
	if !ok {
		path := filepath.Join(l.dir, safeFileName(rec.Room)+".ndjson")
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return err
		}
		l.files[rec.Room] = f
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

func (l *fileUtteranceLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	var firstErr error
	for room, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close utterance log for %s: %w", room, err)
		}
	}
	return firstErr
}

// cleanForReadability collapses whitespace and strips control characters.
func cleanForReadability(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func safeFileName(name string) string {
	if name == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
