package judge

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CheckSubmissions checks every submission independently and returns the
// ids that failed, in input order.
func (c *Checker) CheckSubmissions(ctx context.Context, submissionIDs []int64) []int64 {
	return c.forEach(ctx, "submission_id", submissionIDs, c.CheckSubmission)
}

// GenerateCorrectOutputs regenerates the reference output of every
// assignment and returns the ids that failed, in input order.
func (c *Checker) GenerateCorrectOutputs(ctx context.Context, assignmentIDs []int64) []int64 {
	return c.forEach(ctx, "assignment_id", assignmentIDs, func(ctx context.Context, id int64) error {
		_, err := c.GenerateCorrectOutput(ctx, id)
		return err
	})
}

func (c *Checker) forEach(ctx context.Context, idField string, ids []int64, fn func(context.Context, int64) error) []int64 {
	failed := make([]bool, len(ids))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := safeCall(ctx, id, fn); err != nil {
				c.logger.Error("batch item failed",
					zap.Int64(idField, id),
					zap.String("error_message", err.Error()),
				)
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	var result []int64
	for i, id := range ids {
		if failed[i] {
			result = append(result, id)
		}
	}
	return result
}

func safeCall(ctx context.Context, id int64, fn func(context.Context, int64) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %s", fmt.Sprint(r))
		}
	}()
	return fn(ctx, id)
}
