// Package qualifier runs the qualification loop: find the newest SDK, pin it
// in the job profile, run the profile's tests and publish the outcome.
package qualifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sdkqual/internal/config"
	"github.com/kiranshivaraju/sdkqual/internal/poll"
	"github.com/kiranshivaraju/sdkqual/internal/registry"
	"github.com/kiranshivaraju/sdkqual/internal/results"
	"github.com/kiranshivaraju/sdkqual/internal/scheduler"
	"github.com/kiranshivaraju/sdkqual/internal/store"
	"github.com/kiranshivaraju/sdkqual/pkg/models"
	"github.com/kiranshivaraju/sdkqual/pkg/sdk"
)

// ErrProfileDrift means a job profile update was accepted but reading the
// profile back did not show the pinned requirement.
var ErrProfileDrift = errors.New("job profile update not applied")

// Publisher records a finished task's outcome.
type Publisher interface {
	Publish(ctx context.Context, o results.Outcome) error
}

// Options configures a Service.
type Options struct {
	Target  config.TargetConfig
	Package string
	Poller  poll.Poller
	// SettleDelay separates a profile update from the read that verifies it.
	SettleDelay time.Duration
	// DefaultWait applies when the profile configures no post-run wait.
	DefaultWait time.Duration
	// Sleep defaults to poll.Sleep.
	Sleep poll.SleepFunc
}

// Service qualifies one (job profile, namespace, v4 version, branch) tuple.
// Its loop is sequential; Status and Wake may be called from other goroutines.
type Service struct {
	sched     scheduler.Client
	registry  registry.Client
	publisher Publisher
	store     store.Store
	opts      Options

	profileID string
	iteration int

	status statusBox
	wake   chan struct{}
	now    func() time.Time
}

// New creates a Service.
func New(sched scheduler.Client, reg registry.Client, pub Publisher, st store.Store, opts Options) *Service {
	if opts.Sleep == nil {
		opts.Sleep = poll.Sleep
	}
	if opts.Poller.Sleep == nil {
		opts.Poller.Sleep = opts.Sleep
	}
	s := &Service{
		sched:     sched,
		registry:  reg,
		publisher: pub,
		store:     st,
		opts:      opts,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
	s.status.update(func(st *Status) {
		st.State = StateIdle
		st.JobProfile = opts.Target.JobProfile
		st.Namespace = opts.Target.Namespace
		st.Branch = opts.Target.Branch
		st.V4Version = opts.Target.V4Version
		st.Package = opts.Package
	})
	return s
}

// Status returns a snapshot of the loop.
func (s *Service) Status() Status {
	return s.status.get()
}

// Wake ends the current post-run wait early. It only acts while the loop is
// in StateWait and reports false otherwise, or when a wake is already pending.
// A wake that races with the end of a wait is discarded when the next wait
// starts.
func (s *Service) Wake() bool {
	if s.status.get().State != StateWait {
		return false
	}
	select {
	case s.wake <- struct{}{}:
		return true
	default:
		return false
	}
}

// Resolve looks up the job profile id. A missing profile is a configuration
// error and is not retried.
func (s *Service) Resolve(ctx context.Context) error {
	s.setState(StateResolveProfile)
	slog.Info("fetching job profile id", "job_profile", s.opts.Target.JobProfile)

	id, err := s.sched.FindJobProfileID(ctx, s.opts.Target.JobProfile)
	if err != nil {
		return fmt.Errorf("resolve job profile: %w", err)
	}
	s.profileID = id
	s.status.update(func(st *Status) { st.JobProfileID = id })
	slog.Info("job profile resolved", "job_profile", s.opts.Target.JobProfile, "job_profile_id", id)

	s.restoreLastRun(ctx)
	return nil
}

// restoreLastRun seeds the status with the newest stored run for this key so
// a restarted loop reports history before its first iteration finishes.
func (s *Service) restoreLastRun(ctx context.Context) {
	t := s.opts.Target
	last, err := s.store.LatestRun(ctx, store.RunFilter{Namespace: t.Namespace, Branch: t.Branch, V4Version: t.V4Version})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return
	case err != nil:
		slog.Warn("could not load last run", "error", err)
		return
	}
	s.status.update(func(st *Status) { st.LastRun = last })
	slog.Info("restored last run", "run_id", last.ID, "status", last.Status, "sdk_version", last.SDKVersion)
}

// Run resolves the job profile and then runs iterations until ctx is
// cancelled or an iteration fails hard. Between iterations it waits the
// post-run time configured on the job profile.
func (s *Service) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	if err := s.Resolve(ctx); err != nil {
		return err
	}

	for {
		run, err := s.RunOnce(ctx)
		if err != nil {
			return err
		}
		if err := s.waitNext(ctx, time.Duration(run.WaitSeconds)*time.Second); err != nil {
			return err
		}
	}
}

// RunOnce performs one iteration and records it. The returned run carries the
// wait to apply before the next iteration. A non-nil error means the loop must
// stop; skipped iterations are not errors.
func (s *Service) RunOnce(ctx context.Context) (*models.Run, error) {
	if s.profileID == "" {
		return nil, errors.New("job profile not resolved")
	}

	s.iteration++
	run := &models.Run{
		ID:         uuid.New(),
		Iteration:  s.iteration,
		JobProfile: s.opts.Target.JobProfile,
		Namespace:  s.opts.Target.Namespace,
		Branch:     s.opts.Target.Branch,
		V4Version:  s.opts.Target.V4Version,
		Package:    s.opts.Package,
		StartedAt:  s.now().UTC(),
	}
	log := slog.With("iteration", run.Iteration, "run_id", run.ID)
	s.status.update(func(st *Status) {
		st.Iteration = run.Iteration
		st.TaskID = ""
		st.WaitUntil = nil
	})
	log.Info("starting iteration")

	passed, err := s.iterate(ctx, run, log)
	switch {
	case errors.Is(err, registry.ErrNoVersion), errors.Is(err, scheduler.ErrTriggerFailed):
		run.Status = models.RunStatusSkipped
		msg := err.Error()
		run.ErrorMessage = &msg
		log.Warn("iteration skipped", "error", err)
	case err != nil:
		run.Status = models.RunStatusAborted
		msg := err.Error()
		run.ErrorMessage = &msg
		run.FinishedAt = s.now().UTC()
		s.record(ctx, run, log)
		return run, err
	case passed:
		run.Status = models.RunStatusPassed
	default:
		run.Status = models.RunStatusFailed
	}

	wait := s.postRunWait(ctx, passed)
	run.WaitSeconds = int64(wait / time.Second)
	run.FinishedAt = s.now().UTC()
	s.record(ctx, run, log)

	if passed {
		log.Info("sdk qualified", "requirement", sdk.Requirement{Name: run.Package, Version: run.SDKVersion}.String(), "wait", wait)
	} else {
		log.Info("sdk not qualified, will retry", "status", run.Status, "wait", wait)
	}
	return run, nil
}

// iterate runs the remote steps of one iteration and fills run as it goes.
func (s *Service) iterate(ctx context.Context, run *models.Run, log *slog.Logger) (bool, error) {
	t := s.opts.Target

	s.setState(StateFetchVersion)
	version, err := s.registry.LatestVersion(ctx, t.Namespace, t.V4Version, t.Branch)
	if err != nil {
		return false, fmt.Errorf("fetch latest sdk version: %w", err)
	}
	run.SDKVersion = version
	req := sdk.Requirement{Name: s.opts.Package, Version: version}

	s.setState(StateUpdateProfile)
	if err := s.pinRequirement(ctx, req); err != nil {
		return false, err
	}
	log.Info("job profile updated", "job_profile", t.JobProfile, "requirement", req.String())

	s.setState(StateTrigger)
	taskID, err := s.sched.TriggerJobProfile(ctx, s.profileID)
	if err != nil {
		return false, fmt.Errorf("trigger job profile: %w", err)
	}
	run.TaskID = taskID
	run.TaskLink = s.sched.TaskLink(taskID)
	s.status.update(func(st *Status) { st.TaskID = taskID })
	log.Info("job profile triggered", "task_id", taskID, "task_link", run.TaskLink)

	s.setState(StatePoll)
	task, err := s.waitForTask(ctx, taskID, log)
	if err != nil {
		return false, fmt.Errorf("wait for task %s: %w", taskID, err)
	}

	s.setState(StateEvaluate)
	passed := task.Passed()
	log.Info("task finished", "task_id", taskID, "passed", passed,
		"total", task.Total, "succeeded", task.Succeeded, "stages", strings.Join(task.Stages, ","))
	if task.Counted && task.Succeeded > task.Total {
		log.Warn("task reports more successes than tests; treating as failed", "task_id", taskID)
	}

	s.setState(StatePublish)
	outcome := results.Outcome{
		Key:         results.Key{Namespace: t.Namespace, Branch: t.Branch, V4Version: t.V4Version},
		Requirement: req,
		TaskLink:    run.TaskLink,
		Passed:      passed,
	}
	if err := s.publisher.Publish(ctx, outcome); err != nil {
		return passed, fmt.Errorf("publish results: %w", err)
	}
	return passed, nil
}

// pinRequirement writes req into the job profile and verifies it stuck.
func (s *Service) pinRequirement(ctx context.Context, req sdk.Requirement) error {
	profile, err := s.sched.GetJobProfile(ctx, s.profileID)
	if err != nil {
		return fmt.Errorf("read job profile: %w", err)
	}
	profile.SetOverrideSDKs(req.String())
	if err := s.sched.UpdateJobProfile(ctx, profile); err != nil {
		return fmt.Errorf("write job profile: %w", err)
	}

	if err := s.opts.Sleep(ctx, s.opts.SettleDelay); err != nil {
		return err
	}

	check, err := s.sched.GetJobProfile(ctx, s.profileID)
	if err != nil {
		return fmt.Errorf("re-read job profile: %w", err)
	}
	if got := check.OverrideSDKs(); got != req.String() {
		return fmt.Errorf("%w: job profile %s has override %q, want %q",
			ErrProfileDrift, s.opts.Target.JobProfile, got, req.String())
	}
	return nil
}

// waitForTask polls the task until it reaches a terminal stage.
func (s *Service) waitForTask(ctx context.Context, taskID string, log *slog.Logger) (*scheduler.Task, error) {
	p := s.opts.Poller
	p.OnPending = func(attempt int, next time.Duration) {
		log.Info("task still running", "task_id", taskID, "attempt", attempt, "next_poll_in", next)
	}

	var task *scheduler.Task
	err := p.Until(ctx, func(ctx context.Context) (bool, error) {
		t, err := s.sched.GetTask(ctx, taskID)
		if err != nil {
			return false, err
		}
		task = t
		return t.Terminal(), nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// postRunWait reads the wait configured on the job profile for the outcome,
// falling back to the default when it is missing, malformed or unreadable.
func (s *Service) postRunWait(ctx context.Context, passed bool) time.Duration {
	profile, err := s.sched.GetJobProfile(ctx, s.profileID)
	if err != nil {
		slog.Warn("could not read post-run wait, using default", "error", err, "default", s.opts.DefaultWait)
		return s.opts.DefaultWait
	}
	if wait, ok := profile.PostRunWait(passed); ok {
		return wait
	}
	return s.opts.DefaultWait
}

// record stores the run. History is auxiliary, so failures are only logged.
func (s *Service) record(ctx context.Context, run *models.Run, log *slog.Logger) {
	s.setState(StateRecord)
	if err := s.store.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("failed to record run", "error", err)
	}
	cp := *run
	s.status.update(func(st *Status) { st.LastRun = &cp })
}

// waitNext sleeps d unless woken or cancelled.
func (s *Service) waitNext(ctx context.Context, d time.Duration) error {
	select {
	case <-s.wake:
	default:
	}

	until := s.now().Add(d).UTC()
	s.status.update(func(st *Status) {
		st.State = StateWait
		st.WaitUntil = &until
	})
	defer s.status.update(func(st *Status) {
		st.State = StateIdle
		st.WaitUntil = nil
	})

	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.wake:
		slog.Info("woken before post-run wait elapsed")
		return nil
	case <-t.C:
		return nil
	}
}

func (s *Service) setState(state State) {
	s.status.update(func(st *Status) { st.State = state })
}
