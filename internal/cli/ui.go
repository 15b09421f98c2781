package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"loan-counselor/internal/domain"
	"loan-counselor/internal/usecase"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	counselorStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1)

	followUpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	reportStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#F59E0B")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

func renderBanner(userID string) string {
	return titleStyle.Render("Sarah, your education loan counselor") + "\n" +
		mutedStyle.Render("session "+userID+" | 'reset' starts over, 'report' summarizes, 'exit' quits") + "\n"
}

func renderTurn(res domain.TurnResult) string {
	var b strings.Builder
	b.WriteString(counselorStyle.Render(res.Response))
	b.WriteString("\n")
	if len(res.FollowUpQuestions) > 0 {
		b.WriteString(mutedStyle.Render("You could ask:"))
		b.WriteString("\n")
		for i, q := range res.FollowUpQuestions {
			b.WriteString(followUpStyle.Render(fmt.Sprintf("  %d. %s", i+1, q)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderReport(r domain.Report) string {
	body := fmt.Sprintf(
		"Conversation report for %s\nExchanges: %d\nPositivity: %.2f  Engagement: %.2f  Concern: %.2f\n\n%s",
		r.UserID, r.MessageCount,
		r.Sentiment.Positivity, r.Sentiment.Engagement, r.Sentiment.ConcernLevel,
		r.Summary,
	)
	return reportStyle.Render(body) + "\n"
}

func renderExchanges(userID string, total int, exchanges []domain.Exchange) string {
	if len(exchanges) == 0 {
		return mutedStyle.Render("No archived exchanges for "+userID) + "\n"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%d archived for %s, showing %d", total, userID, len(exchanges))))
	b.WriteString("\n")
	for _, ex := range exchanges {
		b.WriteString(mutedStyle.Render(ex.CompletedAt.Format("2006-01-02 15:04:05") + "  " + ex.ID))
		b.WriteString("\n")
		b.WriteString("  Q: " + ex.Message + "\n")
		b.WriteString("  A: " + ex.Response + "\n")
	}
	return b.String()
}

func renderLenders(records []domain.LenderRecord) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%d lenders", len(records))))
	b.WriteString("\n")
	for _, r := range records {
		b.WriteString(followUpStyle.Render(r.Name))
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  %s | up to %s | %s", r.InterestRate, r.MaximumAmount, r.Country)))
		b.WriteString("\n")
	}
	return b.String()
}

func renderError(err error) string {
	msg := err.Error()
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		msg = fmt.Sprintf("%s (%s)", ucErr.Code, ucErr.Reason)
	}
	return errorStyle.Render("Error: "+msg) + "\n"
}
