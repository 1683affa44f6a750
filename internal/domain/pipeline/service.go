package pipeline

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"postsmith/app/internal/domain/content"
	"postsmith/app/internal/domain/publish"
)

// LeaseName is the lease every run competes for.
const LeaseName = "publish-run"

const defaultLeaseTTL = 5 * time.Minute

// ErrRunInProgress is returned when another run holds the lease.
var ErrRunInProgress = eris.New("another run is in progress")

// ContentGenerator produces a generation result for a single run.
type ContentGenerator interface {
	Generate(ctx context.Context) (content.Result, error)
}

// Locker coordinates runs across processes. Acquire reports false when the lease is held
// by someone else.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// Service runs the generate then publish sequence.
type Service interface {
	Run(ctx context.Context) (Report, error)
	Preview(ctx context.Context) (content.Result, error)
}

// Options wires a Service.
type Options struct {
	Generator ContentGenerator
	Publisher publish.Publisher
	// Locker is optional; without it overlapping runs are not prevented.
	Locker    Locker
	LeaseTTL  time.Duration
	DryRun    bool
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
	Now       func() time.Time
}

// Report summarises one run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Generation content.Result
	PostID     publish.PostID
	Published  bool
	DryRun     bool
}

type service struct {
	generator ContentGenerator
	publisher publish.Publisher
	locker    Locker
	leaseTTL  time.Duration
	dryRun    bool
	logger    *logrus.Logger
	sentryHub *sentry.Hub
	now       func() time.Time
}

var _ Service = (*service)(nil)

// NewService validates opts and returns a Service.
func NewService(opts Options) (Service, error) {
	if opts.Generator == nil {
		return nil, eris.New("content generator is required")
	}
	if opts.Publisher == nil && !opts.DryRun {
		return nil, eris.New("publisher is required unless running dry")
	}

	leaseTTL := opts.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &service{
		generator: opts.Generator,
		publisher: opts.Publisher,
		locker:    opts.Locker,
		leaseTTL:  leaseTTL,
		dryRun:    opts.DryRun,
		logger:    opts.Logger,
		sentryHub: opts.SentryHub,
		now:       now,
	}, nil
}

func (s *service) Run(ctx context.Context) (Report, error) {
	report := Report{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
		DryRun:    s.dryRun,
	}
	fields := logrus.Fields{"run_id": report.RunID}

	if s.locker != nil {
		acquired, err := s.locker.Acquire(ctx, LeaseName, s.leaseTTL)
		if err != nil {
			s.recordError(fields, err, "acquiring run lease")
			return s.finish(report), eris.Wrap(err, "acquiring run lease")
		}
		if !acquired {
			s.logInfo(fields, "skipping run, lease held elsewhere")
			return s.finish(report), ErrRunInProgress
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), LeaseName); err != nil {
				s.recordError(fields, err, "releasing run lease")
			}
		}()
	}

	result, err := s.generator.Generate(ctx)
	report.Generation = result
	fields["topic"] = string(result.Topic)
	fields["attempts"] = len(result.Attempts)
	if err != nil {
		s.recordError(fields, err, "generating post")
		return s.finish(report), eris.Wrap(err, "generating post")
	}

	if !result.OK() {
		failure := result.Err()
		s.recordError(fields, failure, "no post generated")
		return s.finish(report), failure
	}

	if s.dryRun {
		s.logInfo(logrus.Fields{"run_id": report.RunID, "text": result.Post.Text}, "dry run, post not published")
		return s.finish(report), nil
	}

	platform := s.publisher.Platform()
	fields["platform"] = platform

	postID, err := s.publisher.Publish(ctx, result.Post.Text)
	if err != nil {
		s.recordError(fields, err, "publishing post")
		return s.finish(report), eris.Wrapf(err, "publishing post to %s", platform)
	}

	report.PostID = postID
	report.Published = true
	fields["post_id"] = string(postID)
	s.logInfo(fields, "post published")

	return s.finish(report), nil
}

func (s *service) Preview(ctx context.Context) (content.Result, error) {
	result, err := s.generator.Generate(ctx)
	if err != nil {
		s.recordError(nil, err, "generating preview")
		return result, eris.Wrap(err, "generating preview")
	}
	return result, nil
}

func (s *service) finish(report Report) Report {
	report.FinishedAt = s.now()
	return report
}

func (s *service) logInfo(fields logrus.Fields, message string) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(fields).Info(message)
}

func (s *service) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if s.sentryHub != nil {
		s.sentryHub.CaptureException(err)
	}
}
