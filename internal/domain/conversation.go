package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role identifies who authored a transcript message.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Message is a single immutable transcript entry.
//
// A successful turn is recorded as one assistant Message whose InReplyTo
// holds the human message it answers.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	InReplyTo string    `json:"in_reply_to,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StudentProfile is supplied fresh by the caller on every turn.
type StudentProfile struct {
	Name               string          `json:"name"`
	OriginCountry      string          `json:"origin_country"`
	DestinationCountry string          `json:"destination_country"`
	LoanAmountNeeded   decimal.Decimal `json:"loan_amount_needed"`
	CourseOfStudy      string          `json:"course_of_study"`
	UserID             string          `json:"userId"`
}

// TurnResult is the outcome of one turn. FollowUpError is set when the
// follow-up questions could not be produced; the response is still valid.
type TurnResult struct {
	Response          string   `json:"response"`
	FollowUpQuestions []string `json:"follow_up_questions"`
	FollowUpError     string   `json:"follow_up_error,omitempty"`
}

// Sentiment scores are each within [0,1].
type Sentiment struct {
	Positivity   float64 `json:"positivity"`
	Engagement   float64 `json:"engagement"`
	ConcernLevel float64 `json:"concern_level"`
}

// Report is derived from a transcript on demand and never stored.
type Report struct {
	UserID       string    `json:"user_id"`
	MessageCount int       `json:"message_count"`
	Sentiment    Sentiment `json:"sentiment"`
	Summary      string    `json:"summary"`
}

// Exchange is a completed turn handed to the archive.
type Exchange struct {
	ID                string
	UserID            string
	Message           string
	Response          string
	FollowUpQuestions []string
	Profile           StudentProfile
	CompletedAt       time.Time
}
