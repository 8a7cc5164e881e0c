// Package runstore persists run records as JSON files with a JSONL index.
package runstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/exambuilder-verify/internal/harness"
)

const (
	runsDirName   = "runs"
	indexFileName = "index.jsonl"
	fileTimestamp = "20060102T150405Z"
)

// ErrRunNotFound is returned by Load when no stored run matches.
var ErrRunNotFound = errors.New("runstore: run not found")

// Record is everything one CLI invocation produced.
type Record struct {
	ID         string            `json:"id"`
	BaseURL    string            `json:"base_url"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Config     map[string]string `json:"config,omitempty"`
	Results    []harness.Result  `json:"results"`
}

// NewRecord starts a record. An empty id gets a fresh UUID.
func NewRecord(id, baseURL string, startedAt time.Time) Record {
	if id == "" {
		id = uuid.NewString()
	}
	return Record{ID: id, BaseURL: baseURL, StartedAt: startedAt.UTC()}
}

// Passed reports whether every scenario passed. An empty run has not passed.
func (r Record) Passed() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Counts returns the number of passed and failed scenarios, and the number of
// scenarios that passed with warnings.
func (r Record) Counts() (passed, failed, warned int) {
	for _, res := range r.Results {
		if res.Passed {
			passed++
			if len(res.Warnings) > 0 {
				warned++
			}
		} else {
			failed++
		}
	}
	return passed, failed, warned
}

// FirstFailure returns the first failed result, or nil.
func (r Record) FirstFailure() *harness.Result {
	for i := range r.Results {
		if !r.Results[i].Passed {
			return &r.Results[i]
		}
	}
	return nil
}

// IndexEntry is one line of runs/index.jsonl.
type IndexEntry struct {
	ID        string    `json:"id"`
	File      string    `json:"file"`
	StartedAt time.Time `json:"started_at"`
	BaseURL   string    `json:"base_url"`
	Scenarios int       `json:"scenarios"`
	Failed    int       `json:"failed"`
}

// Store writes records under <root>/runs.
type Store struct {
	dir string
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNow is useful for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store rooted at the output directory.
func New(root string, opts ...Option) *Store {
	s := &Store{dir: filepath.Join(root, runsDirName), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the runs directory.
func (s *Store) Dir() string { return s.dir }

// Save writes the record to runs/<timestamp>_<id>.json and appends it to the
// index. It returns the path of the record file.
func (s *Store) Save(rec Record) (string, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return "", errors.New("runstore: record id is required")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("runstore: create %s: %w", s.dir, err)
	}

	ts := rec.StartedAt
	if ts.IsZero() {
		ts = s.now()
		rec.StartedAt = ts
	}
	filename := fmt.Sprintf("%s_%s.json", ts.UTC().Format(fileTimestamp), slugify(rec.ID))
	path := filepath.Join(s.dir, filename)

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("runstore: marshal %s: %w", rec.ID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", fmt.Errorf("runstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("runstore: rename %s: %w", path, err)
	}

	_, failed, _ := rec.Counts()
	if err := s.appendIndex(IndexEntry{
		ID:        rec.ID,
		File:      filename,
		StartedAt: rec.StartedAt.UTC(),
		BaseURL:   rec.BaseURL,
		Scenarios: len(rec.Results),
		Failed:    failed,
	}); err != nil {
		return path, fmt.Errorf("runstore: update index: %w", err)
	}
	return path, nil
}

func (s *Store) appendIndex(entry IndexEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.dir, indexFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// List returns the index entries, newest first. Malformed lines are skipped.
func (s *Store) List() ([]IndexEntry, error) {
	f, err := os.Open(filepath.Join(s.dir, indexFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runstore: open index: %w", err)
	}
	defer f.Close()

	var entries []IndexEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e IndexEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.ID == "" {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("runstore: read index: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].StartedAt.After(entries[j].StartedAt) })
	return entries, nil
}

// Load reads a stored record by its full id or an unambiguous id prefix.
func (s *Store) Load(id string) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, ErrRunNotFound
	}
	entries, err := s.List()
	if err != nil {
		return Record{}, err
	}

	var matches []IndexEntry
	for _, e := range entries {
		if e.ID == id {
			matches = []IndexEntry{e}
			break
		}
		if strings.HasPrefix(e.ID, id) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return Record{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
	default:
		return Record{}, fmt.Errorf("runstore: id prefix %q matches %d runs", id, len(matches))
	}

	b, err := os.ReadFile(filepath.Join(s.dir, matches[0].File))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s (file %s missing)", ErrRunNotFound, id, matches[0].File)
	}
	if err != nil {
		return Record{}, fmt.Errorf("runstore: read %s: %w", matches[0].File, err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("runstore: decode %s: %w", matches[0].File, err)
	}
	return rec, nil
}

// slugify produces a safe filename component.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "run"
	}
	return out
}
