// Package workspace materializes repository state for trajectory expansion.
// A trajectory's state is the base checkout plus the file content updates
// accumulated along its root path; the package applies those updates into a
// directory, or clones the base checkout into an isolated per-trajectory
// working copy. All create/write operations go through a uniform bounded
// retry policy to absorb transient filesystem failures.
package workspace

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hupe1980/agenttree/internal/util"
	"github.com/hupe1980/agenttree/logging"
)

// Options configure a Workspace.
type Options struct {
	// CloneRoot is the directory under which per-trajectory clones are
	// created. Defaults to os.TempDir().
	CloneRoot string
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Workspace binds the engine to one repository checkout.
type Workspace struct {
	rootDir    string
	repoName   string
	baseCommit string
	cloneRoot  string
	logger     logging.Logger
}

// New creates a workspace over the given checkout. The root directory must
// exist; repoName and baseCommit are identity metadata carried into
// checkpoints.
func New(rootDir, repoName, baseCommit string, optFns ...func(o *Options)) (*Workspace, error) {
	opts := Options{CloneRoot: os.TempDir(), Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	info, err := os.Stat(rootDir)
	if err != nil {
		return nil, fmt.Errorf("workspace root %q: %w", rootDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %q is not a directory", rootDir)
	}
	return &Workspace{
		rootDir:    rootDir,
		repoName:   repoName,
		baseCommit: baseCommit,
		cloneRoot:  opts.CloneRoot,
		logger:     opts.Logger,
	}, nil
}

// RootDir returns the base checkout directory.
func (w *Workspace) RootDir() string { return w.rootDir }

// RepoName returns the repository identity.
func (w *Workspace) RepoName() string { return w.repoName }

// BaseCommit returns the base commit hash the checkout was taken from.
func (w *Workspace) BaseCommit() string { return w.baseCommit }

// Materialize applies accumulated file content updates into dir. Parent
// directories are created as needed and every write uses the bounded retry
// policy. Updates are applied in path order so failures are deterministic.
func (w *Workspace) Materialize(ctx context.Context, dir string, updates map[string]string) error {
	paths := make([]string, 0, len(updates))
	for p := range updates {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		target, err := securePath(dir, p)
		if err != nil {
			return err
		}
		if err := WriteFileWithRetry(ctx, target, updates[p]); err != nil {
			return fmt.Errorf("materialize %s: %w", p, err)
		}
	}
	return nil
}

// CloneForTrajectory copies the base checkout into an isolated working copy
// named after the repository plus a random suffix, guaranteeing collision-free
// names across concurrent trajectories. The returned cleanup removes the
// clone and must be called on completion or error.
func (w *Workspace) CloneForTrajectory(ctx context.Context, trajectoryID string) (string, func() error, error) {
	name := fmt.Sprintf("agenttree-%s-%s-%s", sanitize(w.repoName), sanitize(trajectoryID), uuid.NewString()[:8])
	dest := filepath.Join(w.cloneRoot, name)

	if _, err := util.Retry(ctx, util.DefaultRetryAttempts, util.DefaultRetryDelay, func() error {
		return copyDir(w.rootDir, dest)
	}); err != nil {
		_ = os.RemoveAll(dest)
		return "", nil, fmt.Errorf("clone %s: %w", w.repoName, err)
	}

	w.logger.Debug("Working copy cloned", "trajectory", trajectoryID, "dir", dest)
	cleanup := func() error { return os.RemoveAll(dest) }
	return dest, cleanup, nil
}

// WriteFileWithRetry writes content to path atomically-enough for a single
// writer (create parents, write, no rename) with the uniform retry policy.
func WriteFileWithRetry(ctx context.Context, path, content string) error {
	_, err := util.Retry(ctx, util.DefaultRetryAttempts, util.DefaultRetryDelay, func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(path, []byte(content), 0o644)
	})
	return err
}

// securePath joins rel onto base and rejects escapes above base.
func securePath(base, rel string) (string, error) {
	target := filepath.Join(base, filepath.FromSlash(rel))
	cleanBase := filepath.Clean(base)
	if target != cleanBase && !strings.HasPrefix(target, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace root", rel)
	}
	return target, nil
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
	if s == "" {
		return "repo"
	}
	return s
}

// copyDir recursively copies src into dst preserving file modes. Symlinks are
// skipped; trajectory state only depends on regular files.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
