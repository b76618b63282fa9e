// Package solve orchestrates plate-solving through the Astrometry.net API:
// submit an image, poll the submission to a terminal state within a bounded
// budget, and translate the outcome into a simple result. The external
// service owns the job state machine; this package only observes it.
package solve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Picklezoid/Astrophotography-Toolkit/internal/astrometry"
	"github.com/Picklezoid/Astrophotography-Toolkit/internal/metrics"
)

// Status is the observed state of a plate-solve request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSolving  Status = "solving"
	StatusSolved   Status = "solved"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// terminal reports whether polling can stop.
func (s Status) terminal() bool {
	return s == StatusSolved || s == StatusFailed || s == StatusTimedOut
}

// Result is the simplified solve outcome relayed to the caller.
type Result struct {
	Status       Status                  `json:"status"`
	SubmissionID int64                   `json:"sub_id"`
	JobID        int64                   `json:"job_id,omitempty"`
	Calibration  *astrometry.Calibration `json:"calibration,omitempty"`
	AnnotatedURL string                  `json:"annotated_image_url,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
}

// Config controls the polling loop.
type Config struct {
	PollInterval time.Duration // default 5s
	PollBudget   time.Duration // default 120s
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollBudget <= 0 {
		c.PollBudget = 120 * time.Second
	}
	return c
}

// Solver submits images and polls for their solutions. Safe for concurrent
// use; each request polls independently.
type Solver struct {
	client  *astrometry.Client
	cfg     Config
	clock   clockwork.Clock
	uploads *uploadStore
	logger  *slog.Logger
}

// NewSolver creates a Solver. Pass clockwork.NewRealClock() outside tests.
func NewSolver(client *astrometry.Client, cfg Config, clock clockwork.Clock, logger *slog.Logger) *Solver {
	return &Solver{
		client:  client,
		cfg:     cfg.withDefaults(),
		clock:   clock,
		uploads: newUploadStore(defaultUploadEntries),
		logger:  logger,
	}
}

// Submit uploads an image and returns the submission ID without waiting for
// a solution. EXIF focal-length metadata, when present, narrows the solver's
// scale search. A stale cached session is refreshed once.
func (s *Solver) Submit(ctx context.Context, filename string, data []byte) (int64, error) {
	hints := ScaleHints(data)
	if hints != nil {
		s.logger.Debug("using EXIF scale hints",
			"scale_lower_deg", fmt.Sprintf("%.2f", hints.ScaleLowerDeg),
			"scale_upper_deg", fmt.Sprintf("%.2f", hints.ScaleUpperDeg),
		)
	}

	subID, err := s.client.Upload(ctx, filename, data, hints)
	if err != nil && isSessionError(err) {
		s.client.InvalidateSession()
		subID, err = s.client.Upload(ctx, filename, data, hints)
	}
	if err != nil {
		return 0, err
	}

	s.uploads.put(subID, filename, data)
	s.logger.Info("image submitted for solving", "sub_id", subID, "bytes", len(data))
	return subID, nil
}

// Solve submits an image and polls until the solve reaches a terminal state
// or the poll budget lapses.
func (s *Solver) Solve(ctx context.Context, filename string, data []byte) (Result, error) {
	subID, err := s.Submit(ctx, filename, data)
	if err != nil {
		return Result{}, err
	}
	return s.Poll(ctx, subID)
}

// Poll observes a submission until terminal or until the budget lapses.
// A lapsed budget is a terminal timed_out result, not an error; errors are
// reserved for transport or service failures.
func (s *Solver) Poll(ctx context.Context, subID int64) (Result, error) {
	metrics.SolveStarted()
	defer metrics.SolveFinished()

	deadline := s.clock.Now().Add(s.cfg.PollBudget)

	var jobID int64
	for {
		res, err := s.observe(ctx, subID, &jobID)
		if err != nil {
			return Result{}, err
		}
		if res.Status.terminal() {
			metrics.IncSolveResult(string(res.Status))
			s.logger.Info("solve finished", "sub_id", subID, "job_id", res.JobID, "status", res.Status)
			return res, nil
		}

		if !s.clock.Now().Before(deadline) {
			res.Status = StatusTimedOut
			res.Reason = fmt.Sprintf("no result within %s", s.cfg.PollBudget)
			metrics.IncSolveResult(string(StatusTimedOut))
			s.logger.Warn("solve timed out", "sub_id", subID, "budget", s.cfg.PollBudget.String())
			return res, nil
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-s.clock.After(s.cfg.PollInterval):
		}
	}
}

// Snapshot performs a single status observation without waiting.
func (s *Solver) Snapshot(ctx context.Context, subID int64) (Result, error) {
	var jobID int64
	if up, ok := s.uploads.bySubmission(subID); ok {
		jobID = up.jobID
	}
	return s.observe(ctx, subID, &jobID)
}

// observe performs one pass of the submission/job state. jobID caches the
// discovered job across calls so later passes skip the submission lookup.
func (s *Solver) observe(ctx context.Context, subID int64, jobID *int64) (Result, error) {
	res := Result{Status: StatusPending, SubmissionID: subID}

	if *jobID == 0 {
		jobs, err := s.client.Submission(ctx, subID)
		if err != nil {
			return Result{}, err
		}
		if len(jobs) == 0 {
			return res, nil
		}
		*jobID = jobs[0]
		s.uploads.setJob(subID, *jobID)
	}
	res.JobID = *jobID

	status, err := s.client.JobStatus(ctx, *jobID)
	if err != nil {
		return Result{}, err
	}

	switch status {
	case "success":
		cal, err := s.client.Calibration(ctx, *jobID)
		if err != nil {
			return Result{}, err
		}
		res.Status = StatusSolved
		res.Calibration = &cal
		res.AnnotatedURL = s.client.AnnotatedDisplayURL(*jobID)
	case "failure":
		res.Status = StatusFailed
		res.Reason = "the field could not be solved"
	default:
		res.Status = StatusSolving
	}
	return res, nil
}

// Annotations relays the annotated-object list for a job.
func (s *Solver) Annotations(ctx context.Context, jobID int64) ([]astrometry.Annotation, error) {
	return s.client.Annotations(ctx, jobID)
}

// Overlay renders a local annotated preview for a solved job from the
// retained upload. Returns os.ErrNotExist-like behavior via ErrUploadGone
// when the upload has aged out.
func (s *Solver) Overlay(ctx context.Context, jobID int64) ([]byte, error) {
	up, ok := s.uploads.byJob(jobID)
	if !ok {
		return nil, ErrUploadGone
	}

	annotations, err := s.client.Annotations(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return renderOverlay(up.data, annotations)
}

// ErrUploadGone means the original upload is no longer retained locally.
var ErrUploadGone = errors.New("original upload no longer available")

// isSessionError recognizes the service's expired-session rejection.
func isSessionError(err error) bool {
	var apiErr *astrometry.APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "session")
}
