package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fileUser struct {
	worklog.Credentials
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type fileShot struct {
	ID          int64     `json:"id"`
	User        string    `json:"user"`
	Description string    `json:"description"`
	File        string    `json:"file"`
	CreatedAt   time.Time `json:"created_at"`
}

type fileState struct {
	NextID      int64      `json:"next_id"`
	Users       []fileUser `json:"users"`
	Screenshots []fileShot `json:"screenshots"`
}

// FileStore keeps everything in one JSON document, with screenshot PNGs
// written alongside it. Suitable for a single process only.
type FileStore struct {
	mu      sync.Mutex
	path    string
	shotDir string
	log     *zap.Logger
	now     func() time.Time
}

var _ Backend = (*FileStore)(nil)

// OpenFile prepares the document at path, creating parent directories.
func OpenFile(path, shotDir string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file driver selected but database.file_path is empty")
	}
	if shotDir == "" {
		shotDir = filepath.Join(filepath.Dir(path), "screenshots")
	}
	for _, dir := range []string{filepath.Dir(path), shotDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	s := &FileStore{path: path, shotDir: shotDir, log: logger.Named("store"), now: time.Now}
	if _, err := s.read(); err != nil {
		return nil, err
	}
	logger.Info("File store ready.", zap.String("path", path), zap.String("screenshots", shotDir))
	return s, nil
}

func (s *FileStore) read() (*fileState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &fileState{NextID: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	st := &fileState{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, st); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", s.path, err)
		}
	}
	if st.NextID < 1 {
		st.NextID = 1
	}
	return st, nil
}

// write replaces the document atomically.
func (s *FileStore) write(st *fileState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".worklog-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, key string) (worklog.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return worklog.Credentials{}, err
	}
	for _, u := range st.Users {
		if u.Key() == key {
			return u.Credentials, nil
		}
	}
	return worklog.Credentials{}, fmt.Errorf("user %s: %w", worklog.MaskKey(key), ErrNotFound)
}

func (s *FileStore) LoadAll(_ context.Context) ([]worklog.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]worklog.Credentials, 0, len(st.Users))
	for _, u := range st.Users {
		out = append(out, u.Credentials)
	}
	return out, nil
}

func (s *FileStore) Save(_ context.Context, c worklog.Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.AuthSessionID = c.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	updated := false
	for i := range st.Users {
		if st.Users[i].Key() == c.AuthSessionID {
			st.Users[i].Credentials = c
			st.Users[i].UpdatedAt = now
			updated = true
			break
		}
	}
	if !updated {
		st.Users = append(st.Users, fileUser{Credentials: c, CreatedAt: now, UpdatedAt: now})
	}
	if err := s.write(st); err != nil {
		return err
	}
	s.log.Info("Configuration saved.", zap.String("user", c.MaskedKey()), zap.Bool("updated", updated))
	return nil
}

func (s *FileStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return 0, err
	}
	return len(st.Users), nil
}

func (s *FileStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	for _, sh := range st.Screenshots {
		if err := os.Remove(filepath.Join(s.shotDir, sh.File)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Could not remove screenshot file.", zap.String("file", sh.File), zap.Error(err))
		}
	}
	n := len(st.Users)
	if err := s.write(&fileState{NextID: st.NextID}); err != nil {
		return err
	}
	s.log.Info("All user configurations deleted.", zap.Int("rows", n))
	return nil
}

// SaveScreenshot writes png under the screenshot directory. Screenshots for
// unknown users are rejected, mirroring the foreign key of the SQL backends.
func (s *FileStore) SaveScreenshot(_ context.Context, key, description string, png []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	known := false
	for _, u := range st.Users {
		if u.Key() == key {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("failed to save screenshot for %s: %w", worklog.MaskKey(key), ErrNotFound)
	}

	id := st.NextID
	name := fmt.Sprintf("%s-%06d.png", keyDigest(key), id)
	if err := os.WriteFile(filepath.Join(s.shotDir, name), png, 0o644); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	st.NextID++
	st.Screenshots = append(st.Screenshots, fileShot{
		ID:          id,
		User:        key,
		Description: description,
		File:        name,
		CreatedAt:   s.now().UTC(),
	})
	return s.write(st)
}

func (s *FileStore) Recent(_ context.Context, key string, limit int) ([]Screenshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return nil, err
	}
	var matched []fileShot
	for _, sh := range st.Screenshots {
		if sh.User == key {
			matched = append(matched, sh)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if n := limitOrDefault(limit); len(matched) > n {
		matched = matched[:n]
	}

	out := make([]Screenshot, 0, len(matched))
	for _, sh := range matched {
		data, err := os.ReadFile(filepath.Join(s.shotDir, sh.File))
		if err != nil {
			return nil, fmt.Errorf("failed to read screenshot %d: %w", sh.ID, err)
		}
		out = append(out, Screenshot{ID: sh.ID, Description: sh.Description, Data: data, CreatedAt: sh.CreatedAt})
	}
	return out, nil
}

func (s *FileStore) Close() error { return nil }

// keyDigest names screenshot files without putting session tokens on disk.
func keyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
