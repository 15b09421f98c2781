package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"loan-counselor/internal/domain"
	"loan-counselor/internal/lenders"
	"loan-counselor/internal/transcript"
	"loan-counselor/internal/workpool"
)

const (
	defaultMaxMessage   = 2000
	defaultTurnWorkers  = 4
	defaultResetKeyword = "reset"
	archiveTimeout      = 10 * time.Second

	// ResetAcknowledgement is returned when a turn carries the reset keyword.
	ResetAcknowledgement = "Conversation reset successfully"
)

// Completer is the opaque text-completion model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Archiver receives completed exchanges. Archived exchanges are never read
// back into a transcript.
type Archiver interface {
	SaveExchange(ctx context.Context, ex domain.Exchange) error
}

// Counselor owns the conversation store and drives prompt assembly and the
// concurrent sub-tasks of each turn.
type Counselor struct {
	store         *transcript.Store
	coord         *coordinator
	archive       Archiver
	logger        *slog.Logger
	maxMessageLen int
	resetKeyword  string
	turns         keyedMutex
	now           func() time.Time
}

type TurnInput struct {
	UserID  string
	Message string
	Profile domain.StudentProfile
}

type Option func(*Counselor)

// WithPool sets the pool that runs a turn's sub-tasks and archive writes.
func WithPool(p *workpool.Pool) Option {
	return func(c *Counselor) {
		if p != nil {
			c.coord.pool = p
		}
	}
}

// WithModelTimeout bounds each model call.
func WithModelTimeout(d time.Duration) Option {
	return func(c *Counselor) {
		if d > 0 {
			c.coord.timeout = d
		}
	}
}

func WithArchive(a Archiver) Option {
	return func(c *Counselor) {
		c.archive = a
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Counselor) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMaxMessageLength(n int) Option {
	return func(c *Counselor) {
		if n > 0 {
			c.maxMessageLen = n
		}
	}
}

func WithResetKeyword(k string) Option {
	return func(c *Counselor) {
		if k = strings.TrimSpace(k); k != "" {
			c.resetKeyword = k
		}
	}
}

func NewCounselor(model Completer, catalog *lenders.Catalog, store *transcript.Store, opts ...Option) (*Counselor, error) {
	if model == nil {
		return nil, errors.New("usecase: model must not be nil")
	}
	if catalog == nil {
		return nil, errors.New("usecase: lender catalog must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: transcript store must not be nil")
	}
	c := &Counselor{
		store: store,
		coord: &coordinator{
			model:   model,
			catalog: catalog,
			pool:    workpool.New("turn", defaultTurnWorkers),
			timeout: defaultModelTimeout,
		},
		logger:        slog.Default(),
		maxMessageLen: defaultMaxMessage,
		resetKeyword:  defaultResetKeyword,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// HandleTurn answers one message. The reset keyword clears the transcript
// without calling the model. Every failure is returned as an *Error.
func (c *Counselor) HandleTurn(ctx context.Context, in TurnInput) (domain.TurnResult, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return domain.TurnResult{}, newError(ErrorValidation, "empty_user_id", nil)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return domain.TurnResult{}, newError(ErrorValidation, "empty_message", nil)
	}
	if strings.EqualFold(message, c.resetKeyword) {
		c.Reset(userID)
		return domain.TurnResult{Response: ResetAcknowledgement, FollowUpQuestions: []string{}}, nil
	}
	if len(message) > c.maxMessageLen {
		return domain.TurnResult{}, newError(ErrorValidation, "message_too_long", nil)
	}
	profile := in.Profile
	profile.UserID = userID
	if err := validateProfile(profile); err != nil {
		return domain.TurnResult{}, err
	}

	unlock := c.turns.Lock(userID)
	defer unlock()

	start := c.now()
	history := c.store.Get(userID)
	out, turnErr := c.coord.run(ctx, profile, history, message)
	if turnErr != nil {
		c.logger.Error("turn failed", "user_id", userID, "code", turnErr.Code, "reason", turnErr.Reason, "err", turnErr.Err)
		return domain.TurnResult{}, turnErr
	}

	completedAt := c.now()
	c.store.Append(userID, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   out.response,
		InReplyTo: message,
		Timestamp: completedAt,
	})

	result := domain.TurnResult{
		Response:          out.response,
		FollowUpQuestions: out.followUps,
	}
	if out.followUpErr != nil {
		result.FollowUpQuestions = []string{}
		result.FollowUpError = out.followUpErr.Reason
		c.logger.Warn("follow-up questions unavailable", "user_id", userID, "reason", out.followUpErr.Reason, "err", out.followUpErr.Err)
	}

	c.archiveExchange(ctx, domain.Exchange{
		ID:                newUUID(),
		UserID:            userID,
		Message:           message,
		Response:          out.response,
		FollowUpQuestions: result.FollowUpQuestions,
		Profile:           profile,
		CompletedAt:       completedAt,
	})

	c.logger.Info("turn completed",
		"user_id", userID,
		"duration_ms", completedAt.Sub(start).Milliseconds(),
		"follow_ups", len(result.FollowUpQuestions),
	)
	return result, nil
}

// Reset discards the user's transcript. It always succeeds.
func (c *Counselor) Reset(userID string) {
	userID = strings.TrimSpace(userID)
	discarded := c.store.Reset(userID)
	c.logger.Info("conversation reset", "user_id", userID, "discarded", discarded)
}

// Transcript returns a copy of the user's transcript.
func (c *Counselor) Transcript(userID string) []domain.Message {
	return c.store.Get(strings.TrimSpace(userID))
}

// Wait blocks until background archive writes have finished.
func (c *Counselor) Wait() {
	c.coord.pool.Wait()
}

func (c *Counselor) archiveExchange(ctx context.Context, ex domain.Exchange) {
	if c.archive == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	c.coord.pool.Go(bg, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()
		return c.archive.SaveExchange(ctx, ex)
	}, func(err error) {
		c.logger.Error("archive exchange failed", "user_id", ex.UserID, "exchange_id", ex.ID, "err", err)
	})
}

func validateProfile(p domain.StudentProfile) *Error {
	required := []struct {
		field string
		value string
	}{
		{"name", p.Name},
		{"origin_country", p.OriginCountry},
		{"destination_country", p.DestinationCountry},
		{"course_of_study", p.CourseOfStudy},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return newError(ErrorValidation, "missing_"+r.field, nil)
		}
	}
	if !p.LoanAmountNeeded.IsPositive() {
		return newError(ErrorValidation, "invalid_loan_amount", nil)
	}
	return nil
}

var newUUID = func() string {
	return uuid.NewString()
}
