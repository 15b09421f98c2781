package usecase

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"loan-counselor/internal/domain"
)

// BuildReport derives sentiment scores and a summary from the user's current
// transcript. Nothing is stored.
func (c *Counselor) BuildReport(ctx context.Context, userID string) (domain.Report, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Report{}, newError(ErrorValidation, "empty_user_id", nil)
	}

	history := c.store.Get(userID)
	if len(history) == 0 {
		return domain.Report{}, newError(ErrorValidation, "no_conversation", nil)
	}

	var (
		sentiment domain.Sentiment
		summary   string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := c.sentiment(gctx, history)
		if err != nil {
			return err
		}
		sentiment = s
		return nil
	})
	g.Go(func() error {
		s, err := c.summary(gctx, history)
		if err != nil {
			return err
		}
		summary = s
		return nil
	})
	if err := g.Wait(); err != nil {
		c.logger.Warn("report failed", "user_id", userID, "err", err)
		return domain.Report{}, err
	}

	return domain.Report{
		UserID:       userID,
		MessageCount: len(history),
		Sentiment:    sentiment,
		Summary:      summary,
	}, nil
}

func (c *Counselor) sentiment(ctx context.Context, history []domain.Message) (domain.Sentiment, error) {
	prompt, err := buildSentimentPrompt(history)
	if err != nil {
		return domain.Sentiment{}, newError(ErrorInternal, "sentiment_prompt_error", err)
	}
	raw, callErr := c.coord.complete(ctx, "sentiment", prompt)
	if callErr != nil {
		return domain.Sentiment{}, callErr
	}
	s, err := parseSentiment(raw)
	if err != nil {
		return domain.Sentiment{}, newError(ErrorReportParse, "sentiment_malformed", err)
	}
	return s, nil
}

func (c *Counselor) summary(ctx context.Context, history []domain.Message) (string, error) {
	prompt, err := buildSummaryPrompt(history)
	if err != nil {
		return "", newError(ErrorInternal, "summary_prompt_error", err)
	}
	raw, callErr := c.coord.complete(ctx, "summary", prompt)
	if callErr != nil {
		return "", callErr
	}
	return strings.TrimSpace(raw), nil
}

type sentimentPayload struct {
	Positivity   *float64 `json:"positivity"`
	Engagement   *float64 `json:"engagement"`
	ConcernLevel *float64 `json:"concern_level"`
}

// parseSentiment accepts a JSON object, optionally fenced or surrounded by
// prose, with all three scores present and within [0,1].
func parseSentiment(raw string) (domain.Sentiment, error) {
	p, err := decodeEmbeddedJSON[sentimentPayload](stripCodeFence(raw), '{')
	if err != nil {
		return domain.Sentiment{}, fmt.Errorf("usecase: decode sentiment: %w", err)
	}

	scores := []struct {
		name string
		val  *float64
	}{
		{"positivity", p.Positivity},
		{"engagement", p.Engagement},
		{"concern_level", p.ConcernLevel},
	}
	for _, s := range scores {
		if s.val == nil {
			return domain.Sentiment{}, fmt.Errorf("usecase: sentiment missing %s", s.name)
		}
		if *s.val < 0 || *s.val > 1 {
			return domain.Sentiment{}, fmt.Errorf("usecase: sentiment %s=%v out of range [0,1]", s.name, *s.val)
		}
	}

	return domain.Sentiment{
		Positivity:   *p.Positivity,
		Engagement:   *p.Engagement,
		ConcernLevel: *p.ConcernLevel,
	}, nil
}
