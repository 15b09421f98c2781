package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"loan-counselor/internal/domain"
	"loan-counselor/internal/lenders"
	"loan-counselor/internal/transcript"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type promptKind int

const (
	kindPrimary promptKind = iota
	kindFollowUp
	kindSentiment
	kindSummary
)

func classify(prompt string) promptKind {
	switch {
	case strings.HasPrefix(prompt, "Based on this conversation history:"):
		return kindFollowUp
	case strings.HasPrefix(prompt, "Analyze the sentiment"):
		return kindSentiment
	case strings.HasPrefix(prompt, "Summarize the following conversation:"):
		return kindSummary
	default:
		return kindPrimary
	}
}

type replyFunc func(ctx context.Context, prompt string) (string, error)

func reply(text string) replyFunc {
	return func(context.Context, string) (string, error) { return text, nil }
}

func fail(err error) replyFunc {
	return func(context.Context, string) (string, error) { return "", err }
}

// block waits for the call deadline, like a model that never answers.
func block() replyFunc {
	return func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", fmt.Errorf("model: %w", ctx.Err())
	}
}

// fakeModel routes each prompt to a reply by its template.
type fakeModel struct {
	mu      sync.Mutex
	replies map[promptKind]replyFunc
	prompts map[promptKind][]string
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		replies: map[promptKind]replyFunc{
			kindPrimary:   reply("Hi Ava! Let's look at your options."),
			kindFollowUp:  reply(`["What documents do I need?", "How long is the tenure?", "Do I need collateral?"]`),
			kindSentiment: reply(`{"positivity": 0.9, "engagement": 0.8, "concern_level": 0.2}`),
			kindSummary:   reply("Ava asked about loans for an MBA in Canada."),
		},
		prompts: map[promptKind][]string{},
	}
}

func (f *fakeModel) on(kind promptKind, fn replyFunc) *fakeModel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[kind] = fn
	return f
}

func (f *fakeModel) Complete(ctx context.Context, prompt string) (string, error) {
	kind := classify(prompt)
	f.mu.Lock()
	f.prompts[kind] = append(f.prompts[kind], prompt)
	fn := f.replies[kind]
	f.mu.Unlock()
	return fn(ctx, prompt)
}

func (f *fakeModel) calls(kind promptKind) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts[kind]...)
}

func (f *fakeModel) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.prompts {
		n += len(p)
	}
	return n
}

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("upstream status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

type fakeArchive struct {
	mu        sync.Mutex
	exchanges []domain.Exchange
	err       error
}

func (a *fakeArchive) SaveExchange(_ context.Context, ex domain.Exchange) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchanges = append(a.exchanges, ex)
	return a.err
}

func (a *fakeArchive) saved() []domain.Exchange {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Exchange(nil), a.exchanges...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog(t *testing.T) *lenders.Catalog {
	t.Helper()
	c, err := lenders.Default()
	require.NoError(t, err)
	return c
}

func newTestCounselor(t *testing.T, model Completer, opts ...Option) *Counselor {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	c, err := NewCounselor(model, testCatalog(t), transcript.New(transcript.WithLogger(discardLogger())), opts...)
	require.NoError(t, err)
	t.Cleanup(c.Wait)
	return c
}

func avaProfile() domain.StudentProfile {
	return domain.StudentProfile{
		Name:               "Ava",
		OriginCountry:      "India",
		DestinationCountry: "Canada",
		LoanAmountNeeded:   decimal.NewFromInt(50000),
		CourseOfStudy:      "MBA",
	}
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

var errUpstream = errors.New("upstream exploded")
