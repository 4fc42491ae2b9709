package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "tgscraper/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.posts.jsonl               (append-only JSON Lines)
//   - <prefix>.cycles.jsonl              (append-only JSON Lines)
//   - <prefix>.checkpoints.snapshot.json (periodic snapshot)
//   - <prefix>.checkpoints.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	postsFile  *os.File
	cyclesFile *os.File

	snapshotPath string
	journalFile  *os.File
	checkpoints  map[string]int64

	journalWrites int
	compactEvery  int
}

type checkpointRecord struct {
	Channel string `json:"channel"`
	LastID  int64  `json:"last_id"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".checkpoints.snapshot.json"
	journalPath := prefix + ".checkpoints.journal.jsonl"

	pf, err := os.OpenFile(prefix+".posts.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	cf, err := os.OpenFile(prefix+".cycles.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = pf.Close()
		return nil, err
	}

	checkpoints := map[string]int64{}
	if err := loadCheckpointSnapshot(snapPath, checkpoints); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("checkpoint snapshot unreadable", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayCheckpointJournal(journalPath, checkpoints); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("checkpoint journal unreadable", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = pf.Close()
		_ = cf.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		postsFile:    pf,
		cyclesFile:   cf,
		snapshotPath: snapPath,
		journalFile:  jf,
		checkpoints:  checkpoints,
		compactEvery: 1000,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range []**os.File{&s.postsFile, &s.cyclesFile, &s.journalFile} {
		if *f == nil {
			continue
		}
		if err := (*f).Close(); err != nil {
			errs = append(errs, err)
		}
		*f = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) LastPostID(ctx context.Context, channel string) (int64, bool, error) {
	_ = ctx
	key := channelKey(channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.checkpoints[key]
	return id, ok, nil
}

func (s *fileStore) SavePosts(ctx context.Context, channel string, posts []Post) (int, error) {
	_ = ctx
	key := channelKey(channel)
	if key == "" {
		return 0, errors.New("channel is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.postsFile == nil || s.journalFile == nil {
		return 0, errors.New("file store closed")
	}

	last, known := s.checkpoints[key]
	fresh := newPosts(posts, last, known)
	if len(fresh) == 0 {
		return 0, nil
	}

	enc := json.NewEncoder(s.postsFile)
	for _, p := range fresh {
		p.Channel = key
		if err := enc.Encode(p); err != nil {
			return 0, err
		}
	}

	newest := fresh[len(fresh)-1].ID
	s.checkpoints[key] = newest
	if err := json.NewEncoder(s.journalFile).Encode(checkpointRecord{Channel: key, LastID: newest}); err != nil {
		return len(fresh), err
	}
	s.journalWrites++
	if s.compactEvery > 0 && s.journalWrites%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("checkpoint compact failed", logx.Err(err))
		}
	}
	return len(fresh), nil
}

func (s *fileStore) AppendCycle(ctx context.Context, rec CycleRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cyclesFile == nil {
		return errors.New("cycles file closed")
	}
	return json.NewEncoder(s.cyclesFile).Encode(rec)
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.checkpoints); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadCheckpointSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayCheckpointJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r checkpointRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Channel == "" {
			continue
		}
		if r.LastID > out[r.Channel] {
			out[r.Channel] = r.LastID
		}
	}
	return s.Err()
}
