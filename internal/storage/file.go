package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"umabot/pkg/logx"
)

// fileStore keeps everything in memory and rewrites a single JSON snapshot
// (tmp + rename) after each mutation. An empty path disables persistence.
//
// A store-wide mutex serializes writers, which is plenty for the write rate
// of a chat bot and keeps read-modify-write sequences trivially safe.
type fileStore struct {
	log  logx.Logger
	path string
	now  func() time.Time

	mu     sync.Mutex
	closed bool
	state  fileState
}

type fileState struct {
	Users         map[int64]*User  `json:"users"`
	Conversations map[int64][]Turn `json:"conversations"`
	Broadcasts    []BroadcastJob   `json:"broadcasts"`
	NextJobID     int64            `json:"next_job_id"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := newFileStore(path, log)
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func newFileStore(path string, log logx.Logger) *fileStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &fileStore{
		log:  log,
		path: path,
		now:  time.Now,
		state: fileState{
			Users:         map[int64]*User{},
			Conversations: map[int64][]Turn{},
			NextJobID:     1,
		},
	}
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		// A corrupt snapshot should not brick the bot; start over and keep the file for inspection.
		s.log.Error("storage snapshot unreadable, starting empty", logx.String("path", s.path), logx.Err(err))
		_ = os.Rename(s.path, s.path+".corrupt")
		return nil
	}
	if st.Users != nil {
		s.state.Users = st.Users
	}
	if st.Conversations != nil {
		s.state.Conversations = st.Conversations
	}
	s.state.Broadcasts = st.Broadcasts
	if st.NextJobID > 0 {
		s.state.NextJobID = st.NextJobID
	}
	return nil
}

func (s *fileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// persistOrUndo writes the snapshot and reverts the in-memory mutation
// when the write fails, so memory never holds state the caller saw fail.
func (s *fileStore) persistOrUndo(undo func()) error {
	if err := s.persistLocked(); err != nil {
		undo()
		return err
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.persistLocked()
}

func (s *fileStore) AddUser(ctx context.Context, id int64, username, firstName string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	now := s.now()
	u, ok := s.state.Users[id]
	if !ok {
		s.state.Users[id] = &User{
			ID:           id,
			Username:     username,
			FirstName:    firstName,
			RegisteredAt: now,
			LastActivity: now,
			Active:       true,
		}
		return s.persistOrUndo(func() { delete(s.state.Users, id) })
	}
	prev := *u
	u.LastActivity = now
	if username != "" {
		u.Username = username
	}
	if firstName != "" {
		u.FirstName = firstName
	}
	return s.persistOrUndo(func() { *u = prev })
}

func (s *fileStore) GetUser(ctx context.Context, id int64) (User, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return User{}, ErrClosed
	}
	u, ok := s.state.Users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

func (s *fileStore) ListActiveUsers(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := make([]int64, 0, len(s.state.Users))
	for id, u := range s.state.Users {
		if u.Active {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *fileStore) AppendTurn(ctx context.Context, userID int64, t Turn) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if t.At.IsZero() {
		t.At = s.now()
	}
	t.Input.Refs = slices.Clone(t.Input.Refs)
	prev, had := s.state.Conversations[userID]
	h := append(slices.Clip(prev), t)
	if n := len(h); n > HistoryRetention {
		h = slices.Clone(h[n-HistoryRetention:])
	}
	s.state.Conversations[userID] = h
	return s.persistOrUndo(func() {
		if had {
			s.state.Conversations[userID] = prev
		} else {
			delete(s.state.Conversations, userID)
		}
	})
}

func (s *fileStore) History(ctx context.Context, userID int64, limit int) ([]Turn, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	h := s.state.Conversations[userID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]Turn, len(h))
	for i, t := range h {
		t.Input.Refs = slices.Clone(t.Input.Refs)
		out[i] = t
	}
	return out, nil
}

func (s *fileStore) ClearHistory(ctx context.Context, userID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, ok := s.state.Conversations[userID]
	if !ok {
		return nil
	}
	delete(s.state.Conversations, userID)
	return s.persistOrUndo(func() { s.state.Conversations[userID] = prev })
}

func (s *fileStore) CreateBroadcastJob(ctx context.Context, message string, scheduledAt *time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	job := BroadcastJob{
		ID:        s.state.NextJobID,
		Message:   message,
		CreatedAt: s.now(),
	}
	if scheduledAt != nil {
		at := *scheduledAt
		job.ScheduledAt = &at
	}
	n := len(s.state.Broadcasts)
	s.state.NextJobID++
	s.state.Broadcasts = append(s.state.Broadcasts, job)
	err := s.persistOrUndo(func() {
		s.state.NextJobID--
		s.state.Broadcasts = s.state.Broadcasts[:n]
	})
	if err != nil {
		return 0, err
	}
	return job.ID, nil
}

func (s *fileStore) ListUnsentJobs(ctx context.Context) ([]BroadcastJob, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []BroadcastJob
	for _, j := range s.state.Broadcasts {
		if !j.Sent {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (s *fileStore) MarkJobSent(ctx context.Context, id int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for i := range s.state.Broadcasts {
		j := &s.state.Broadcasts[i]
		if j.ID != id {
			continue
		}
		if j.Sent {
			return nil
		}
		now := s.now()
		j.Sent = true
		j.SentAt = &now
		return s.persistOrUndo(func() {
			j.Sent = false
			j.SentAt = nil
		})
	}
	return ErrNotFound
}

func (s *fileStore) Statistics(ctx context.Context, now time.Time) (Statistics, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Statistics{}, ErrClosed
	}
	t := newStatsTally(now)
	for id, u := range s.state.Users {
		t.user(*u)
		for _, tn := range s.state.Conversations[id] {
			t.turn(tn)
		}
	}
	return t.s, nil
}
