// Package persist implements the Persistence Store: one JSON
// document per session under <config dir>/sessions/<uuid>.json, written
// atomically (tmp file, fsync, rename), plus a reverse-map side file
// (<config dir>/sessions/reverse_map.json, multiplexer-session-name ->
// workspace-path, written in the same step as the session snapshot) used as
// an orphan-inference hint during reconciliation.
//
// This is a deliberate redesign away from a single state.json blob: it
// requires per-session files so a corrupt or concurrently-written record
// can't take down the whole registry on load. Save holds an exclusive
// config.FileLock on the sessions directory while it writes; Load, LoadAll
// and ReverseMap take no lock. The corrupt-data posture
// (backup-then-default) becomes LoadAll's skip-and-warn-per-file.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/config"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/log"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
)

const reverseMapFileName = "reverse_map.json"

// record is the persisted subset of session.Session: transient
// fields (Status, Preview, Env) are recomputed at load time and never
// written here.
type record struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	WorkspacePath          string `json:"workspace_path"`
	WorktreePath           string `json:"worktree_path"`
	BranchName             string `json:"branch_name"`
	MultiplexerSessionName string `json:"multiplexer_session_name"`
	CreatedAt              string `json:"created_at"`
	LastAccessedAt         string `json:"last_accessed_at"`
	Mode                   string `json:"mode"`
	BossPrompt             string `json:"boss_prompt"`
	SkipPermissions        bool   `json:"skip_permissions"`
}

// Store is the Persistence Store (C5).
type Store struct {
	dir  string // <config dir>/sessions
	lock *config.FileLock
}

// NewStore returns a Store rooted at dir (typically config.GetSessionsDir()).
func NewStore(dir string) *Store {
	return &Store{dir: dir, lock: config.NewFileLock(dir)}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func toRecord(sess session.Session) record {
	return record{
		ID:                     sess.ID,
		Name:                   sess.Name,
		WorkspacePath:          sess.WorkspacePath,
		WorktreePath:           sess.WorktreePath,
		BranchName:             sess.BranchName,
		MultiplexerSessionName: sess.MultiplexerSessionName,
		CreatedAt:              sess.CreatedAt.Format(timeLayout),
		LastAccessedAt:         sess.LastAccessedAt.Format(timeLayout),
		Mode:                   sess.Mode.String(),
		BossPrompt:             sess.BossPrompt,
		SkipPermissions:        sess.SkipPermissions,
	}
}

func (r record) toSession() session.Session {
	mode := session.Interactive
	if r.Mode == session.Boss.String() {
		mode = session.Boss
	}
	return session.Session{
		ID:                     r.ID,
		Name:                   r.Name,
		WorkspacePath:          r.WorkspacePath,
		WorktreePath:           r.WorktreePath,
		BranchName:             r.BranchName,
		MultiplexerSessionName: r.MultiplexerSessionName,
		CreatedAt:              parseTime(r.CreatedAt),
		LastAccessedAt:         parseTime(r.LastAccessedAt),
		Mode:                   mode,
		BossPrompt:             r.BossPrompt,
		SkipPermissions:        r.SkipPermissions,
		// Status is not persisted; the caller (Lifecycle Orchestrator's
		// reconciliation step) sets it from live multiplexer state.
	}
}

// Save atomically writes sess's persisted subset to <id>.json: write to
// <id>.json.tmp, fsync, rename. It also updates the reverse-map
// entry for sess's multiplexer session name, consulted as an
// orphan-inference hint during reconciliation.
func (s *Store) Save(sess session.Session) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("persist save %s: %w", sess.ID, err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("persist save %s: %w", sess.ID, err)
	}
	defer s.lock.Unlock()

	data, err := json.MarshalIndent(toRecord(sess), "", "  ")
	if err != nil {
		return fmt.Errorf("persist save %s: %w", sess.ID, err)
	}

	final := s.path(sess.ID)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("persist save %s: %w", sess.ID, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("persist save %s: %w", sess.ID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("persist save %s: %w", sess.ID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("persist save %s: %w", sess.ID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("persist save %s: %w", sess.ID, err)
	}

	if err := s.updateReverseMap(sess.MultiplexerSessionName, sess.WorkspacePath); err != nil {
		log.WarningLog.Printf("persist: failed to update reverse map for %s: %v", sess.ID, err)
	}

	return nil
}

// Load reads a single session's persisted record.
func (s *Store) Load(id string) (session.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return session.Session{}, fmt.Errorf("persist load %s: %w", id, err)
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return session.Session{}, fmt.Errorf("persist load %s: %w", id, err)
	}
	return r.toSession(), nil
}

// LoadAll reads every persisted session, skipping (and warning about) files
// that fail to parse.
func (s *Store) LoadAll() ([]session.Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persist load_all: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || e.Name() == reverseMapFileName {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var sessions []session.Session
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			log.WarningLog.Printf("persist: skipping unreadable file %s: %v", name, err)
			continue
		}
		var r record
		if err := json.Unmarshal(data, &r); err != nil {
			log.WarningLog.Printf("persist: skipping unparseable file %s: %v", name, err)
			continue
		}
		sessions = append(sessions, r.toSession())
	}
	return sessions, nil
}

// Delete removes id's persisted record. Idempotent: deleting an
// already-gone session succeeds.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persist delete %s: %w", id, err)
	}
	return nil
}

// ReverseMap loads the multiplexer-session-name -> workspace-path map used
// as reconciliation's first-choice orphan classifier. A missing or corrupt
// file returns an empty map rather than an error, since it is only ever a
// fallback-improving hint.
func (s *Store) ReverseMap() map[string]string {
	data, err := os.ReadFile(filepath.Join(s.dir, reverseMapFileName))
	if err != nil {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		log.WarningLog.Printf("persist: reverse map file corrupt, ignoring: %v", err)
		return map[string]string{}
	}
	return m
}

func (s *Store) updateReverseMap(multiplexerName, workspacePath string) error {
	if multiplexerName == "" {
		return nil
	}
	m := s.ReverseMap()
	m[multiplexerName] = workspacePath

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, reverseMapFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

const timeLayout = time.RFC3339Nano

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(timeLayout, s)
	if err != nil {
		log.WarningLog.Printf("persist: failed to parse timestamp %q: %v", s, err)
		return time.Time{}
	}
	return parsed
}
