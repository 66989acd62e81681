// Package audit keeps a tamper-evident, append-only record of lifecycle
// and authorization events. Each entry's hash covers its content and the
// previous entry's hash, so editing or dropping an entry breaks the chain
// from that point on.
package audit

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// EventType classifies an entry.
type EventType string

const (
	EventEngineStart      EventType = "engine_start"
	EventEngineStop       EventType = "engine_stop"
	EventTargetAuthorized EventType = "target_authorized"
	EventTargetRejected   EventType = "target_rejected"
	EventEmergencyStop    EventType = "emergency_stop"
	EventError            EventType = "error"
)

// genesis is the PrevHash of the first entry.
var genesis = hex.EncodeToString(make([]byte, blake2b.Size256))

var ErrClosed = errors.New("audit log closed")

// Entry is one record. Hash is the hex blake2b-256 of the other fields.
type Entry struct {
	Seq      uint64            `json:"seq"`
	Time     time.Time         `json:"time"`
	Type     EventType         `json:"type"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	PrevHash string            `json:"prev_hash"`
	Hash     string            `json:"hash"`
}

func (e Entry) computeHash() string {
	h, _ := blake2b.New256(nil)
	writeField(h, strconv.FormatUint(e.Seq, 10))
	writeField(h, e.Time.UTC().Format(time.RFC3339Nano))
	writeField(h, string(e.Type))
	writeField(h, e.Message)
	// encoding/json sorts map keys, which makes this deterministic.
	fields, _ := json.Marshal(e.Fields)
	writeField(h, string(fields))
	writeField(h, e.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes s so field boundaries cannot be shifted.
func writeField(w io.Writer, s string) {
	fmt.Fprintf(w, "%d:%s", len(s), s)
}

// Logger appends entries in memory and, when opened with a path, as JSON
// lines to that file.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
	file    *os.File
	w       *bufio.Writer
	closed  bool
	now     func() time.Time
}

// New returns an in-memory log.
func New() *Logger {
	return &Logger{now: time.Now}
}

// Open returns a log that also appends to path. An existing file is
// verified and its chain continued.
func Open(path string) (*Logger, error) {
	existing, err := ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if len(existing) > 0 {
		if v := VerifyEntries(existing); !v.Valid {
			return nil, fmt.Errorf("existing audit log %s: %s", path, v.Reason)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Logger{
		entries: existing,
		file:    f,
		w:       bufio.NewWriter(f),
		now:     time.Now,
	}, nil
}

// Append adds an entry and returns it with its hash filled in.
func (l *Logger) Append(typ EventType, message string, fields map[string]string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Entry{}, ErrClosed
	}
	if len(fields) == 0 {
		// Empty maps are omitted on disk and read back as nil.
		fields = nil
	}
	prev := genesis
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].Hash
	}
	e := Entry{
		Seq:      uint64(len(l.entries)),
		Time:     l.now().UTC(),
		Type:     typ,
		Message:  message,
		Fields:   fields,
		PrevHash: prev,
	}
	e.Hash = e.computeHash()

	if l.w != nil {
		line, err := json.Marshal(e)
		if err != nil {
			return Entry{}, err
		}
		if _, err := l.w.Write(append(line, '\n')); err != nil {
			return Entry{}, fmt.Errorf("write audit entry: %w", err)
		}
		if err := l.w.Flush(); err != nil {
			return Entry{}, fmt.Errorf("flush audit entry: %w", err)
		}
	}
	l.entries = append(l.entries, e)
	return e, nil
}

func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the log.
func (l *Logger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Verify checks the in-memory chain.
func (l *Logger) Verify() ChainVerification {
	return VerifyEntries(l.Entries())
}

// ExportJSON returns the whole log as an indented JSON array.
func (l *Logger) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(l.Entries(), "", "  ")
}

// Close flushes and closes the backing file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
