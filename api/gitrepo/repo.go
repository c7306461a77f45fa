package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

var (
	ErrNotRepository = errors.New("not an initialized git working tree")
	ErrDetachedHead  = errors.New("HEAD is not on a branch")
)

// ConflictError is returned when a merge stops on conflicts. The merge has
// been aborted by the time the caller sees it.
type ConflictError struct {
	Branch string
	Files  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge %s: conflicts in %s", e.Branch, strings.Join(e.Files, ", "))
}

// Repo is a git working tree on local disk. Reads go through go-git; anything
// that changes the tree shells out to git.
type Repo struct {
	dir         string
	authorName  string
	authorEmail string
}

// Open checks that dir exists and holds a git repository.
func Open(dir, authorName, authorEmail string) (*Repo, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNotRepository, dir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotRepository, dir)
	}
	if _, err := git.PlainOpen(dir); err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	if authorName == "" {
		authorName = "scaffold"
	}
	if authorEmail == "" {
		authorEmail = "scaffold@localhost"
	}
	return &Repo{dir: dir, authorName: authorName, authorEmail: authorEmail}, nil
}

func (r *Repo) Dir() string { return r.dir }

// CurrentBranch returns the short name of the branch HEAD points at. It works
// on a branch without commits yet.
func (r *Repo) CurrentBranch() (string, error) {
	repo, err := git.PlainOpen(r.dir)
	if err != nil {
		return "", err
	}
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Target().Short(), nil
}

// HasCommits reports whether HEAD resolves to a commit. A freshly initialized
// repository sits on an unborn branch and has none.
func (r *Repo) HasCommits() (bool, error) {
	repo, err := git.PlainOpen(r.dir)
	if err != nil {
		return false, err
	}
	_, err = repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Repo) BranchExists(name string) (bool, error) {
	repo, err := git.PlainOpen(r.dir)
	if err != nil {
		return false, err
	}
	_, err = repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	return err == nil, err
}

// IsClean reports whether the working tree has no staged, unstaged or
// untracked changes.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	_, err := r.git(ctx, "checkout", branch)
	return err
}

// CheckoutOrCreate switches to branch, creating it from HEAD when it does
// not exist.
func (r *Repo) CheckoutOrCreate(ctx context.Context, branch string) error {
	exists, err := r.BranchExists(branch)
	if err != nil {
		return err
	}
	if exists {
		return r.Checkout(ctx, branch)
	}
	_, err = r.git(ctx, "checkout", "-b", branch)
	return err
}

// StartBranch creates branch at HEAD, or moves it there, and switches to it.
// Uncommitted changes come along.
func (r *Repo) StartBranch(ctx context.Context, branch string) error {
	_, err := r.git(ctx, "checkout", "-B", branch)
	return err
}

// ForceCheckout switches to branch, throwing away local changes and
// untracked files.
func (r *Repo) ForceCheckout(ctx context.Context, branch string) error {
	if _, err := r.git(ctx, "checkout", "-f", branch); err != nil {
		return err
	}
	_, err := r.git(ctx, "clean", "-fd")
	return err
}

// ResetBranch points branch at rev. branch must not be checked out.
func (r *Repo) ResetBranch(ctx context.Context, branch, rev string) error {
	_, err := r.git(ctx, "branch", "-f", branch, rev)
	return err
}

// CommitAll stages everything and commits it. It reports false when there
// was nothing to commit.
func (r *Repo) CommitAll(ctx context.Context, message string) (bool, error) {
	if _, err := r.git(ctx, "add", "-A"); err != nil {
		return false, err
	}
	if _, err := r.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		return false, nil
	} else if !isExitCode(err, 1) {
		return false, err
	}
	if _, err := r.git(ctx, "commit", "--no-verify", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := r.git(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if isExitCode(err, 1) {
		return false, nil
	}
	return false, err
}

// Merge merges branch into the current branch with a merge commit. On
// conflict the merge is aborted and a *ConflictError returned.
func (r *Repo) Merge(ctx context.Context, branch, message string) error {
	_, err := r.git(ctx, "merge", "--no-ff", "--no-edit", "-m", message, branch)
	if err == nil {
		return nil
	}
	out, _ := r.git(ctx, "diff", "--name-only", "-z", "--diff-filter=U")
	var files []string
	for _, f := range strings.Split(out, "\x00") {
		if f != "" {
			files = append(files, f)
		}
	}
	if _, abortErr := r.git(ctx, "merge", "--abort"); abortErr != nil && len(files) == 0 {
		return fmt.Errorf("%w (abort: %v)", err, abortErr)
	}
	if len(files) > 0 {
		return &ConflictError{Branch: branch, Files: files}
	}
	return err
}

// Head returns the commit hash HEAD resolves to.
func (r *Repo) Head(ctx context.Context) (string, error) {
	out, err := r.git(ctx, "rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

type gitError struct {
	args   []string
	stderr string
	err    error
}

func (e *gitError) Error() string {
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.args, " "), e.err, strings.TrimSpace(e.stderr))
}

func (e *gitError) Unwrap() error { return e.err }

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_AUTHOR_NAME="+r.authorName,
		"GIT_AUTHOR_EMAIL="+r.authorEmail,
		"GIT_COMMITTER_NAME="+r.authorName,
		"GIT_COMMITTER_EMAIL="+r.authorEmail,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), &gitError{args: args, stderr: stderr.String(), err: err}
	}
	return stdout.String(), nil
}

func isExitCode(err error, code int) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == code
}
