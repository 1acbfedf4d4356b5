// Package worktree implements the Worktree Store. It owns
// <config dir>/worktrees/ with two subdirectories: by-session/ (symlinks)
// and by-name/ (real worktrees), and is the only component that mutates
// that tree.
//
// The branch/path derivation and the Setup/Cleanup sequencing key off a
// session UUID rather than a human-chosen name, and shell out through an
// injected cmdexec.Executor instead of exec.Command directly, so tests can
// run without a git binary.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/internal/cmdexec"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/log"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
)

const shortIDLen = 8

// Store is the Worktree Store. Construct one with NewStore and keep it
// around for the process lifetime; it has no in-memory state of its own
// besides the root path and the executor seam.
type Store struct {
	root string // <config dir>/worktrees
	exec cmdexec.Executor
}

// NewStore returns a Store rooted at root (typically config.GetWorktreesDir()).
func NewStore(root string, executor cmdexec.Executor) *Store {
	if executor == nil {
		executor = cmdexec.New()
	}
	return &Store{root: root, exec: executor}
}

func (s *Store) bySessionDir() string { return filepath.Join(s.root, "by-session") }
func (s *Store) byNameDir() string    { return filepath.Join(s.root, "by-name") }

// Create provisions a worktree for sessionID against repoPath, checking out
// branch. If branch does not exist locally it is created from baseBranch,
// or (if baseBranch is empty) from the repository's default branch, probed
// in the order main, then master, then the current HEAD.
func (s *Store) Create(sessionID, repoPath, branch, baseBranch string) (session.WorktreeInfo, error) {
	if err := ValidateBranchName(branch); err != nil {
		return session.WorktreeInfo{}, fmt.Errorf("worktree create: %w: %v", session.ErrInvalidBranchName, err)
	}

	repoPath, err := filepath.Abs(repoPath)
	if err != nil {
		return session.WorktreeInfo{}, err
	}

	if err := os.MkdirAll(s.bySessionDir(), 0755); err != nil {
		return session.WorktreeInfo{}, err
	}
	if err := os.MkdirAll(s.byNameDir(), 0755); err != nil {
		return session.WorktreeInfo{}, err
	}

	slug := fmt.Sprintf("%s--%s", sanitize(filepath.Base(repoPath)), sanitize(branch))
	shortID := sessionID
	if len(shortID) > shortIDLen {
		shortID = shortID[:shortIDLen]
	}
	dirName := fmt.Sprintf("%s--%s", slug, shortID)
	worktreePath := filepath.Join(s.byNameDir(), dirName)

	if _, err := os.Stat(worktreePath); err == nil {
		return session.WorktreeInfo{}, fmt.Errorf("worktree create %s: %w", worktreePath, session.ErrAlreadyExists)
	}

	symlinkPath := filepath.Join(s.bySessionDir(), sessionID)

	branchExists, err := s.branchExists(repoPath, branch)
	if err != nil {
		return session.WorktreeInfo{}, err
	}

	var headCommit string
	if branchExists {
		if err := s.run(repoPath, "worktree", "add", worktreePath, branch); err != nil {
			return session.WorktreeInfo{}, fmt.Errorf("worktree create: %w: %v", session.ErrCommandFailed, err)
		}
	} else {
		base := baseBranch
		if base == "" {
			base, err = s.probeDefaultBranch(repoPath)
			if err != nil {
				return session.WorktreeInfo{}, err
			}
		}
		if err := s.run(repoPath, "worktree", "add", "-b", branch, worktreePath, base); err != nil {
			return session.WorktreeInfo{}, fmt.Errorf("worktree create: %w: %v", session.ErrCommandFailed, err)
		}
	}

	if err := os.Symlink(worktreePath, symlinkPath); err != nil {
		// Partial state: the worktree exists but the dual lookup doesn't.
		// Remove the symlink attempt's target is moot (it never landed);
		// undo the worktree itself so Create fails atomically.
		_ = s.run(repoPath, "worktree", "remove", "-f", worktreePath)
		return session.WorktreeInfo{}, fmt.Errorf("worktree create: failed to link by-session entry: %w", err)
	}

	headCommit, err = s.headCommit(worktreePath)
	if err != nil {
		log.WarningLog.Printf("worktree store: failed to read head commit for %s: %v", worktreePath, err)
	}

	return session.WorktreeInfo{
		SessionID:          sessionID,
		PrimaryPath:        worktreePath,
		SessionSymlinkPath: symlinkPath,
		BranchName:         branch,
		SourceRepository:   repoPath,
		HeadCommit:         headCommit,
	}, nil
}

// Remove resolves the by-session symlink, force-removes the worktree, then
// deletes the symlink. It is idempotent: removing an already-gone worktree
// succeeds.
func (s *Store) Remove(sessionID string) error {
	symlinkPath := filepath.Join(s.bySessionDir(), sessionID)

	target, err := os.Readlink(symlinkPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("worktree remove: failed to resolve symlink: %w", err)
	}

	repoPath, findErr := s.repoPathFor(target)
	if findErr == nil {
		if err := s.run(repoPath, "worktree", "remove", "-f", target); err != nil {
			log.WarningLog.Printf("worktree store: worktree remove failed for %s, forcing directory cleanup: %v", target, err)
			_ = os.RemoveAll(target)
		}
	} else {
		_ = os.RemoveAll(target)
	}

	if err := os.Remove(symlinkPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("worktree remove: failed to remove symlink: %w", err)
	}
	return nil
}

// ListAll iterates by-session/, dereferences each symlink, and opens each
// target as a repository to recover branch and head commit.
func (s *Store) ListAll() (map[string]session.WorktreeInfo, error) {
	result := make(map[string]session.WorktreeInfo)

	entries, err := os.ReadDir(s.bySessionDir())
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		sessionID := entry.Name()
		info, err := s.Get(sessionID)
		if err != nil {
			log.WarningLog.Printf("worktree store: skipping %s during list_all: %v", sessionID, err)
			continue
		}
		result[sessionID] = info
	}
	return result, nil
}

// FindForWorkspace filters ListAll by source repository.
func (s *Store) FindForWorkspace(repoPath string) ([]session.WorktreeInfo, error) {
	repoPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	all, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	var out []session.WorktreeInfo
	for _, info := range all {
		if info.SourceRepository == repoPath {
			out = append(out, info)
		}
	}
	return out, nil
}

// Get resolves a single session's WorktreeInfo, falling back to the legacy
// flat by-name layout (no by-session symlink) for backward compatibility.
func (s *Store) Get(sessionID string) (session.WorktreeInfo, error) {
	symlinkPath := filepath.Join(s.bySessionDir(), sessionID)
	target, err := os.Readlink(symlinkPath)
	if err != nil {
		legacy := filepath.Join(s.byNameDir(), sessionID)
		if st, statErr := os.Stat(legacy); statErr == nil && st.IsDir() {
			target = legacy
		} else {
			return session.WorktreeInfo{}, fmt.Errorf("worktree get %s: %w", sessionID, session.ErrNotFound)
		}
	}

	repoPath, err := s.repoPathFor(target)
	if err != nil {
		return session.WorktreeInfo{}, err
	}
	branch, err := s.currentBranch(target)
	if err != nil {
		log.WarningLog.Printf("worktree store: failed to read branch for %s: %v", target, err)
	}
	head, err := s.headCommit(target)
	if err != nil {
		log.WarningLog.Printf("worktree store: failed to read head commit for %s: %v", target, err)
	}

	return session.WorktreeInfo{
		SessionID:          sessionID,
		PrimaryPath:        target,
		SessionSymlinkPath: symlinkPath,
		BranchName:         branch,
		SourceRepository:   repoPath,
		HeadCommit:         head,
	}, nil
}

func (s *Store) branchExists(repoPath, branch string) (bool, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return false, fmt.Errorf("worktree create: failed to open repository: %w", err)
	}
	_, err = repo.Reference(plumbing.NewBranchReferenceName(branch), false)
	if err == nil {
		return true, nil
	}
	if err == plumbing.ErrReferenceNotFound {
		return false, nil
	}
	return false, err
}

// probeDefaultBranch tries main, then master, then the repository's current
// HEAD, in that order.
func (s *Store) probeDefaultBranch(repoPath string) (string, error) {
	for _, candidate := range []string{"main", "master"} {
		if ok, _ := s.branchExists(repoPath, candidate); ok {
			return candidate, nil
		}
	}
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", fmt.Errorf("worktree create: failed to open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("worktree create: could not determine base branch (tried main, master, HEAD): %w", err)
	}
	return head.Name().Short(), nil
}

func (s *Store) headCommit(worktreePath string) (string, error) {
	repo, err := git.PlainOpen(worktreePath)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}

func (s *Store) currentBranch(worktreePath string) (string, error) {
	repo, err := git.PlainOpen(worktreePath)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	return head.Name().Short(), nil
}

// repoPathFor recovers the source repository path by running
// `git rev-parse --git-common-dir` in the worktree and taking the parent
// directory of the shared .git directory it reports.
func (s *Store) repoPathFor(worktreePath string) (string, error) {
	out, err := s.output(worktreePath, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", fmt.Errorf("worktree: failed to resolve source repository: %w", err)
	}
	commonDir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(worktreePath, commonDir)
	}
	return filepath.Dir(commonDir), nil
}

func (s *Store) run(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := s.exec.CombinedOutput(cmd)
	if err != nil {
		return fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *Store) output(dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return s.exec.Output(cmd)
}

// ValidateBranchName enforces Git's branch-naming rules: no whitespace,
// none of ~^:?*[\, no leading -, no trailing /, no //.
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("branch name must not be empty")
	}
	if strings.ContainsAny(name, " \t\n~^:?*[\\") {
		return fmt.Errorf("branch name %q contains disallowed characters", name)
	}
	if strings.HasPrefix(name, "-") {
		return fmt.Errorf("branch name %q must not start with '-'", name)
	}
	if strings.HasSuffix(name, "/") {
		return fmt.Errorf("branch name %q must not end with '/'", name)
	}
	if strings.Contains(name, "//") {
		return fmt.Errorf("branch name %q must not contain '//'", name)
	}
	return nil
}

// sanitize replaces any character outside [A-Za-z0-9_-] with '-' and trims
// leading/trailing '-'.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
