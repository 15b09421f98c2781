package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"loan-counselor/internal/domain"
	"loan-counselor/internal/lenders"
	"loan-counselor/internal/workpool"
)

const defaultModelTimeout = 30 * time.Second

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// coordinator runs the sub-tasks of a turn on a bounded pool and joins them.
type coordinator struct {
	model   Completer
	catalog *lenders.Catalog
	pool    *workpool.Pool
	timeout time.Duration
}

// turnOutcome is the joined result of one turn's sub-tasks.
type turnOutcome struct {
	response    string
	followUps   []string
	followUpErr *Error
}

// run formats the lender data and student details in parallel, then issues
// the primary call. The follow-up call runs alongside from the start since it
// needs only the transcript and the message. A failed primary call fails the
// turn; a failed follow-up call only degrades it.
func (c *coordinator) run(ctx context.Context, profile domain.StudentProfile, history []domain.Message, message string) (turnOutcome, *Error) {
	followCtx, cancelFollow := context.WithCancel(ctx)
	defer cancelFollow()

	var (
		out        turnOutcome
		primaryErr *Error
		g          errgroup.Group
	)
	g.Go(func() error {
		out.followUps, out.followUpErr = c.followUps(followCtx, history, message)
		return nil
	})
	g.Go(func() error {
		out.response, primaryErr = c.primary(ctx, profile, history, message)
		if primaryErr != nil {
			cancelFollow()
		}
		return nil
	})
	_ = g.Wait()

	if primaryErr != nil {
		return turnOutcome{}, primaryErr
	}
	return out, nil
}

func (c *coordinator) primary(ctx context.Context, profile domain.StudentProfile, history []domain.Message, message string) (string, *Error) {
	var lendersData, studentDetails string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.pool.Run(gctx, func(context.Context) error {
			lendersData = c.catalog.Format()
			return nil
		})
	})
	g.Go(func() error {
		return c.pool.Run(gctx, func(context.Context) error {
			var err error
			studentDetails, err = formatStudentDetails(profile)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return "", classifyWaitError("primary", ctx, err)
	}

	prompt, err := buildCounselorPrompt(promptInputs{
		LendersData:         lendersData,
		StudentDetails:      studentDetails,
		ConversationHistory: renderHistory(history),
		StudentMessage:      message,
	})
	if err != nil {
		return "", newError(ErrorInternal, "primary_prompt_error", err)
	}
	return c.complete(ctx, "primary", prompt)
}

func (c *coordinator) followUps(ctx context.Context, history []domain.Message, message string) ([]string, *Error) {
	prompt, err := buildFollowUpPrompt(history, message)
	if err != nil {
		return []string{}, newError(ErrorInternal, "follow_up_prompt_error", err)
	}
	raw, callErr := c.complete(ctx, "follow_up", prompt)
	if callErr != nil {
		return []string{}, callErr
	}
	questions, err := parseFollowUps(raw)
	if err != nil {
		return []string{}, newError(ErrorModel, "follow_up_malformed", err)
	}
	return questions, nil
}

// complete issues exactly one model call under the model deadline once a
// pool slot is free. The deadline starts when the call starts.
func (c *coordinator) complete(ctx context.Context, step, prompt string) (string, *Error) {
	var (
		text    string
		callErr *Error
	)
	err := c.pool.Run(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		raw, err := c.model.Complete(callCtx, prompt)
		switch {
		case err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			callErr = newError(ErrorTimeout, step+"_timeout", err)
		case err != nil:
			callErr = classifyModelError(step, ctx, err)
		case strings.TrimSpace(raw) == "":
			callErr = newError(ErrorModel, step+"_empty_output", nil)
		default:
			text = raw
		}
		return nil
	})
	if err != nil {
		return "", classifyWaitError(step, ctx, err)
	}
	return text, callErr
}

func classifyModelError(step string, ctx context.Context, err error) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(ErrorTimeout, step+"_timeout", err)
	}
	if ctx.Err() != nil {
		return newError(ErrorInternal, step+"_cancelled", err)
	}
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == 429 {
		return newError(ErrorModel, step+"_rate_limited", err)
	}
	return newError(ErrorModel, step+"_model_error", err)
}

// classifyWaitError maps failures that happen before a model call starts,
// such as the context ending while waiting for a pool slot.
func classifyWaitError(step string, ctx context.Context, err error) *Error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(ErrorTimeout, step+"_timeout", err)
	case ctx.Err() != nil:
		return newError(ErrorInternal, step+"_cancelled", err)
	default:
		return newError(ErrorInternal, step+"_prepare_error", err)
	}
}
