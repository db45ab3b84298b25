package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/kiranshivaraju/sdkqual/internal/config"
	"github.com/kiranshivaraju/sdkqual/pkg/models"
	"github.com/kiranshivaraju/sdkqual/pkg/sdk"
)

// Sentinel errors for publish failures.
var (
	ErrRepoUnavailable = errors.New("results repository unavailable")
	ErrPushRejected    = errors.New("results push rejected")
)

// Outcome is what one finished task contributes to the results repository.
type Outcome struct {
	Key         Key
	Requirement sdk.Requirement
	TaskLink    string
	Passed      bool
}

// Status is the log bucket the outcome belongs to.
func (o Outcome) Status() string {
	if o.Passed {
		return models.RunStatusPassed
	}
	return models.RunStatusFailed
}

// Locker serialises publishers sharing one results repository.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(context.Context) error, err error)
}

// Publisher keeps a local clone of the results repository and pushes one
// commit per outcome. It assumes it is the only writer of its WorkDir.
type Publisher struct {
	repoURL    string
	workDir    string
	auth       transport.AuthMethod
	authorName string
	authorMail string
	maxEntries int
	locker     Locker
	now        func() time.Time
}

// NewPublisher creates a Publisher. locker may be nil when a single qualifier
// writes to the repository.
func NewPublisher(cfg config.ResultsConfig, locker Locker) *Publisher {
	p := &Publisher{
		repoURL:    cfg.RepoURL,
		workDir:    cfg.WorkDir,
		authorName: cfg.Username,
		authorMail: cfg.Email,
		maxEntries: cfg.MaxLogEntries,
		locker:     locker,
		now:        time.Now,
	}
	if strings.HasPrefix(cfg.RepoURL, "http://") || strings.HasPrefix(cfg.RepoURL, "https://") {
		p.auth = &githttp.BasicAuth{Username: cfg.Username, Password: cfg.Token}
	}
	return p
}

// Publish records o in the results repository: the clone is synced to the
// remote, the marker is overwritten when o passed, a log entry is always
// prepended, and the change is committed and pushed. Push failures are not
// retried; the next Publish starts again from the remote tip.
func (p *Publisher) Publish(ctx context.Context, o Outcome) (err error) {
	if p.locker != nil {
		unlock, lerr := p.locker.Lock(ctx, o.Key.LockName())
		if lerr != nil {
			return fmt.Errorf("acquire publish lock: %w", lerr)
		}
		defer func() {
			if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
				slog.Warn("release publish lock failed", "key", o.Key.LockName(), "error", uerr)
			}
		}()
	}

	repo, err := p.open(ctx)
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: worktree: %v", ErrRepoUnavailable, err)
	}

	if err := p.sync(ctx, repo, wt); err != nil {
		return err
	}

	if o.Passed {
		marker := filepath.Join(p.workDir, o.Key.MarkerPath())
		slog.Info("updating qualified sdk marker", "file", marker, "requirement", o.Requirement.String())
		if err := WriteMarker(marker, o.Requirement); err != nil {
			return fmt.Errorf("write marker: %w", err)
		}
	}

	logPath := filepath.Join(p.workDir, o.Key.LogPath(o.Status()))
	entry := LogEntry{Time: p.now(), Requirement: o.Requirement, Link: o.TaskLink}
	slog.Info("updating results log", "file", logPath, "task_link", o.TaskLink)
	if err := PrependLog(logPath, entry.String(), p.maxEntries); err != nil {
		return fmt.Errorf("write log: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage results: %w", err)
	}
	msg := "SDK qualification: " + o.Requirement.String()
	if _, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: p.authorName, Email: p.authorMail, When: p.now()},
	}); err != nil {
		return fmt.Errorf("commit results: %w", err)
	}

	slog.Info("pushing results", "remote", redact(p.repoURL))
	err = repo.PushContext(ctx, &git.PushOptions{RemoteName: "origin", Auth: p.auth})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: %v", ErrPushRejected, err)
	}
	return nil
}

// sync moves the clone onto the remote branch tip. Commits left behind by a
// rejected push and stray files from an interrupted publish are discarded, so
// a failed publish never blocks the next one.
func (p *Publisher) sync(ctx context.Context, repo *git.Repository, wt *git.Worktree) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", Auth: p.auth})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: fetch: %v", ErrRepoUnavailable, err)
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("%w: head: %v", ErrRepoUnavailable, err)
	}
	remoteName := plumbing.NewRemoteReferenceName("origin", head.Name().Short())
	remote, err := repo.Reference(remoteName, true)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRepoUnavailable, remoteName, err)
	}

	if head.Hash() != remote.Hash() {
		slog.Warn("local results clone diverged, resetting to remote",
			"local", head.Hash().String(), "remote", remote.Hash().String())
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: remote.Hash()}); err != nil {
		return fmt.Errorf("%w: reset: %v", ErrRepoUnavailable, err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("%w: clean: %v", ErrRepoUnavailable, err)
	}
	return nil
}

// open returns the local clone, cloning it on first use.
func (p *Publisher) open(ctx context.Context) (*git.Repository, error) {
	repo, err := git.PlainOpen(p.workDir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: open %s: %v", ErrRepoUnavailable, p.workDir, err)
	}

	slog.Info("cloning results repository", "remote", redact(p.repoURL), "dir", p.workDir)
	repo, err = git.PlainCloneContext(ctx, p.workDir, false, &git.CloneOptions{
		URL:  p.repoURL,
		Auth: p.auth,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: clone: %v", ErrRepoUnavailable, err)
	}
	return repo, nil
}

// redact drops userinfo from a remote URL before it is logged.
func redact(remote string) string {
	scheme, rest, ok := strings.Cut(remote, "://")
	if !ok {
		return remote
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			rest = rest[at+1:]
		}
	}
	return scheme + "://" + rest
}
