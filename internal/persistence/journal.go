package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/conclave/internal/engine"
)

// Journal appends events as zstd-compressed JSON lines, one file per
// session per wall-clock hour.
type Journal struct {
	dir     string
	session string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewJournal writes under dir for the given session ID.
func NewJournal(dir, session string) *Journal {
	return &Journal{dir: dir, session: session, now: time.Now}
}

// SetSession switches later writes to a new session's files.
func (j *Journal) SetSession(session string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if session == j.session {
		return nil
	}
	j.session = session
	j.curHour = ""
	return j.closeLocked()
}

// Write appends one event.
func (j *Journal) Write(e engine.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	hour := j.now().UTC().Format("2006-01-02-15")
	if hour != j.curHour {
		if err := j.rotateLocked(hour); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	return j.w.Flush()
}

// Close flushes and closes the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) rotateLocked(hour string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.path(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f = f
	j.enc = enc
	j.w = bufio.NewWriterSize(enc, 64*1024)
	j.curHour = hour
	return nil
}

func (j *Journal) closeLocked() error {
	var err error
	if j.w != nil {
		_ = j.w.Flush()
	}
	if j.enc != nil {
		err = j.enc.Close()
		j.enc = nil
	}
	if j.f != nil {
		_ = j.f.Close()
		j.f = nil
	}
	j.w = nil
	return err
}

func (j *Journal) path(hour string) string {
	return filepath.Join(j.dir, fmt.Sprintf("events-%s-%s.jsonl.zst", j.session, hour))
}

// ReadJournal decodes every event in one journal file.
func ReadJournal(path string) ([]engine.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var events []engine.Event
	jd := json.NewDecoder(dec)
	for {
		var e engine.Event
		if err := jd.Decode(&e); err != nil {
			if err == io.EOF {
				return events, nil
			}
			return events, fmt.Errorf("decode journal: %w", err)
		}
		events = append(events, e)
	}
}
