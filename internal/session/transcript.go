package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dayuer/askrelay/internal/agent"
	"github.com/dayuer/askrelay/internal/utils"
)

// Transcript is the persisted record of one conversation run.
type Transcript struct {
	ID         string       `json:"id"`
	Key        string       `json:"key"`
	Prompt     string       `json:"prompt"`
	Final      string       `json:"final"`
	Failed     bool         `json:"failed"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Turns      []agent.Turn `json:"-"`
}

// TranscriptInfo is the metadata line of a stored transcript.
type TranscriptInfo struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Failed     bool      `json:"failed"`
	Turns      int       `json:"turns"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// metaLine is the first JSONL line; turns follow one per line.
type metaLine struct {
	Type string `json:"_type"`
	Transcript
	TurnCount int `json:"turns"`
}

// TranscriptStore writes one JSONL file per run.
type TranscriptStore struct {
	dir string
	mu  sync.Mutex
}

// NewTranscriptStore creates the directory if needed.
func NewTranscriptStore(dir string) (*TranscriptStore, error) {
	if _, err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("transcripts dir: %w", err)
	}
	return &TranscriptStore{dir: dir}, nil
}

// Save writes the transcript, replacing any previous file for the run.
func (s *TranscriptStore) Save(t *Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Create(s.path(t.ID))
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	if err := enc.Encode(metaLine{Type: "metadata", Transcript: *t, TurnCount: len(t.Turns)}); err != nil {
		return err
	}
	for _, turn := range t.Turns {
		if err := enc.Encode(turn); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Load reads a transcript by run ID.
func (s *TranscriptStore) Load(id string) (*Transcript, error) {
	f, err := os.Open(s.path(id))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)

	var t *Transcript
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if t == nil {
			var meta metaLine
			if err := json.Unmarshal([]byte(line), &meta); err != nil || meta.Type != "metadata" {
				return nil, fmt.Errorf("transcript %s: missing metadata line", id)
			}
			t = &meta.Transcript
			continue
		}
		var turn agent.Turn
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			continue
		}
		t.Turns = append(t.Turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("transcript %s: empty file", id)
	}
	return t, nil
}

// List returns metadata for stored transcripts, newest first.
func (s *TranscriptStore) List() ([]TranscriptInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var result []TranscriptInfo
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, ok := s.readMeta(filepath.Join(s.dir, entry.Name()))
		if ok {
			result = append(result, info)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	return result, nil
}

func (s *TranscriptStore) readMeta(path string) (TranscriptInfo, bool) {
	f, err := os.Open(path)
	if err != nil {
		return TranscriptInfo{}, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	if !scanner.Scan() {
		return TranscriptInfo{}, false
	}
	var meta metaLine
	if json.Unmarshal(scanner.Bytes(), &meta) != nil || meta.Type != "metadata" {
		return TranscriptInfo{}, false
	}
	return TranscriptInfo{
		ID:         meta.ID,
		Key:        meta.Key,
		Failed:     meta.Failed,
		Turns:      meta.TurnCount,
		StartedAt:  meta.StartedAt,
		FinishedAt: meta.FinishedAt,
	}, true
}

func (s *TranscriptStore) path(id string) string {
	return filepath.Join(s.dir, utils.SafeFilename(id)+".jsonl")
}
