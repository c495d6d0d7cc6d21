package judge

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PendingSource lists submissions waiting for a verdict.
type PendingSource interface {
	PendingSubmissions(ctx context.Context, status int, limit int) ([]int64, error)
}

type PollerConfig struct {
	FetchPeriod   time.Duration
	ReviewerCount int
	BatchSize     int
}

// Poller periodically fetches pending submissions and hands them to
// reviewer goroutines.
type Poller struct {
	logger  *zap.Logger
	source  PendingSource
	checker *Checker
	cfg     PollerConfig

	waitGroup sync.WaitGroup
	jobs      chan int64

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

func NewPoller(logger *zap.Logger, source PendingSource, checker *Checker, cfg PollerConfig) *Poller {
	if cfg.ReviewerCount < 1 {
		cfg.ReviewerCount = 1
	}
	return &Poller{
		logger:   logger,
		source:   source,
		checker:  checker,
		cfg:      cfg,
		jobs:     make(chan int64),
		inFlight: map[int64]struct{}{},
	}
}

// Run polls until ctx is cancelled, then waits for the reviewers to stop.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.FetchPeriod)
	defer ticker.Stop()

	p.waitGroup.Add(p.cfg.ReviewerCount)
	for id := 1; id <= p.cfg.ReviewerCount; id++ {
		go p.reviewer(ctx, id)
	}
	defer p.waitGroup.Wait()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stopped fetching submissions")
			return
		case <-ticker.C:
			if err := p.fetch(ctx); err != nil {
				p.logger.Error("failed fetching submissions",
					zap.String("error_message", err.Error()))
			}
		}
	}
}

func (p *Poller) fetch(ctx context.Context) error {
	ids, err := p.source.PendingSubmissions(ctx, int(Pending), p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if !p.claim(id) {
			continue
		}
		select {
		case p.jobs <- id:
		case <-ctx.Done():
			p.release(id)
			return nil
		}
	}
	return nil
}

func (p *Poller) claim(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[id]; ok {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Poller) release(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, id)
}

func (p *Poller) reviewer(ctx context.Context, reviewerID int) {
	defer func() {
		p.logger.Info("stopped reviewer", zap.Int("reviewer_id", reviewerID))
		p.waitGroup.Done()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.jobs:
			p.review(ctx, id)
			p.release(id)
		}
	}
}

func (p *Poller) review(ctx context.Context, submissionID int64) {
	err := safeCall(ctx, submissionID, p.checker.CheckSubmission)
	if err == nil || ctx.Err() != nil {
		return
	}
	if err := p.checker.MarkUnknownError(ctx, submissionID, err); err != nil {
		p.logger.Error("failed to mark submission",
			zap.Int64("submission_id", submissionID),
			zap.String("error_message", err.Error()),
		)
	}
}
