package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/HanTheDev/support-chat-gateway/internal/models"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// FileName maps a session id to its transcript file name.
func FileName(sessionID string) string {
	return unsafeFilenameChars.ReplaceAllString(sessionID, "_") + ".json"
}

// FileRecorder keeps one JSON document per session in a directory.
type FileRecorder struct {
	dir string

	// mu guards locks. Each file's read-modify-write holds its own lock, so
	// sessions never wait on each other.
	mu    sync.Mutex
	locks map[string]*fileLock
}

type fileLock struct {
	sync.Mutex
	refs int
}

func NewFileRecorder(dir string) (*FileRecorder, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &FileRecorder{dir: dir, locks: make(map[string]*fileLock)}, nil
}

// lock takes the lock for one transcript file and returns its release.
// Entries are dropped once no caller holds or waits on them.
func (r *FileRecorder) lock(name string) func() {
	r.mu.Lock()
	l, ok := r.locks[name]
	if !ok {
		l = &fileLock{}
		r.locks[name] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(r.locks, name)
		}
		r.mu.Unlock()
	}
}

func (r *FileRecorder) RecordTurn(_ context.Context, turn Turn) error {
	name := FileName(turn.SessionID)
	defer r.lock(name)()

	path := filepath.Join(r.dir, name)
	t, err := r.read(path)
	if err != nil {
		return err
	}
	if t.SessionID == "" {
		t = models.Transcript{
			SessionID: turn.SessionID,
			IP:        turn.ClientIP,
			UserAgent: userAgentOrUnknown(turn.UserAgent),
			StartTime: turn.Time,
			Messages:  []models.TranscriptMessage{},
		}
	}

	t.Messages = append(t.Messages,
		models.TranscriptMessage{Role: models.RoleUser, Content: turn.UserMessage, Timestamp: turn.Time},
		models.TranscriptMessage{Role: models.RoleAssistant, Content: turn.Response, Timestamp: turn.Time, Provider: turn.Provider},
	)
	t.LastUpdate = turn.Time
	if turn.Escalated {
		t.Escalated = true
		if t.EscalationTime == nil {
			at := turn.Time
			t.EscalationTime = &at
		}
	}

	return r.write(path, t)
}

// Read returns the stored transcript for a session.
func (r *FileRecorder) Read(sessionID string) (models.Transcript, error) {
	name := FileName(sessionID)
	defer r.lock(name)()
	path := filepath.Join(r.dir, name)
	if _, err := os.Stat(path); err != nil {
		return models.Transcript{}, err
	}
	return r.read(path)
}

// read treats a missing or corrupt file as an empty transcript.
func (r *FileRecorder) read(path string) (models.Transcript, error) {
	var t models.Transcript
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("read transcript: %w", err)
	}
	if json.Unmarshal(data, &t) != nil {
		return models.Transcript{}, nil
	}
	return t, nil
}

func (r *FileRecorder) write(path string, t models.Transcript) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
