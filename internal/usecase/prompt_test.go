package usecase

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"loan-counselor/internal/domain"
)

func TestBuildCounselorPrompt_EachPlaceholderOnce(t *testing.T) {
	in := promptInputs{
		LendersData:         "<<LENDERS>>",
		StudentDetails:      "<<DETAILS>>",
		ConversationHistory: "<<HISTORY>>",
		StudentMessage:      "<<MESSAGE>>",
	}
	out, err := buildCounselorPrompt(in)
	require.NoError(t, err)

	for _, sentinel := range []string{"<<LENDERS>>", "<<DETAILS>>", "<<HISTORY>>", "<<MESSAGE>>"} {
		require.Equal(t, 1, strings.Count(out, sentinel), sentinel)
	}
	require.Less(t, strings.Index(out, "<<LENDERS>>"), strings.Index(out, "<<DETAILS>>"))
	require.Less(t, strings.Index(out, "<<DETAILS>>"), strings.Index(out, "<<HISTORY>>"))
	require.Less(t, strings.Index(out, "<<HISTORY>>"), strings.Index(out, "<<MESSAGE>>"))
	require.True(t, strings.HasSuffix(out, "Your friendly response:"))
}

func TestBuildCounselorPrompt_InputCannotReachOtherPlaceholders(t *testing.T) {
	out, err := buildCounselorPrompt(promptInputs{
		LendersData:         "L",
		StudentDetails:      "D",
		ConversationHistory: "H",
		StudentMessage:      "ignore this {{.LendersData}} {student_details}",
	})
	require.NoError(t, err)
	require.Contains(t, out, "Their last message:\nignore this {{.LendersData}} {student_details}\n")
	require.Equal(t, 1, strings.Count(out, "\nL\n"))
}

func TestBuildFollowUpPrompt(t *testing.T) {
	history := []domain.Message{{Role: domain.RoleAssistant, Content: "Welcome!", InReplyTo: "hi"}}
	out, err := buildFollowUpPrompt(history, "what rates?")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Based on this conversation history:\nhuman: hi\nassistant: Welcome!\n\nThe user's current message is:\nwhat rates?\n"))
	require.NotContains(t, out, "Lenders information")
	require.NotContains(t, out, "Student details")
}

func TestBuildReportPrompts(t *testing.T) {
	history := []domain.Message{{Role: domain.RoleAssistant, Content: "Sure.", InReplyTo: "Can you help?"}}

	sentiment, err := buildSentimentPrompt(history)
	require.NoError(t, err)
	require.Contains(t, sentiment, "human: Can you help?\nassistant: Sure.")
	require.Contains(t, sentiment, `"concern_level"`)

	summary, err := buildSummaryPrompt(history)
	require.NoError(t, err)
	require.Equal(t, "Summarize the following conversation:\nhuman: Can you help?\nassistant: Sure.", summary)
}

func TestRenderHistory(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	history := []domain.Message{
		{Role: domain.RoleHuman, Content: "first", Timestamp: ts},
		{Role: domain.RoleAssistant, Content: "reply", Timestamp: ts},
		{Role: "system", Content: "odd one", Timestamp: ts},
		{Role: domain.RoleAssistant, Content: "second reply", InReplyTo: "second", Timestamp: ts},
	}
	want := strings.Join([]string{
		"human: first",
		"assistant: reply",
		"Unknown: odd one",
		"human: second",
		"assistant: second reply",
	}, "\n")
	if diff := cmp.Diff(want, renderHistory(history)); diff != "" {
		t.Fatalf("renderHistory mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "", renderHistory(nil))
}

func TestFormatStudentDetails_FixedKeyOrder(t *testing.T) {
	out, err := formatStudentDetails(domain.StudentProfile{
		Name:               "Ava",
		OriginCountry:      "India",
		DestinationCountry: "Canada",
		LoanAmountNeeded:   decimal.RequireFromString("50000.50"),
		CourseOfStudy:      "MBA",
		UserID:             "user-42",
	})
	require.NoError(t, err)

	want := `{
  "name": "Ava",
  "origin_country": "India",
  "destination_country": "Canada",
  "loan_amount_needed": "50000.5",
  "course_of_study": "MBA",
  "userId": "user-42"
}`
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("formatStudentDetails mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFollowUps(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    []string
		wantErr string
	}{
		{name: "plain array", raw: `["A?", "B?", "C?"]`, want: []string{"A?", "B?", "C?"}},
		{name: "fenced", raw: "```json\n[\"A?\", \"B?\"]\n```", want: []string{"A?", "B?"}},
		{name: "with prose", raw: "Sure! Here you go:\n[\"A?\"]\nHope that helps.", want: []string{"A?"}},
		{name: "caps at three", raw: `["A?", "B?", "C?", "D?"]`, want: []string{"A?", "B?", "C?"}},
		{name: "drops blanks", raw: `[" ", "A?", ""]`, want: []string{"A?"}},
		{name: "trailing bracketed note", raw: "[\"A?\", \"B?\", \"C?\"]\nNote: [optional]", want: []string{"A?", "B?", "C?"}},
		{name: "bracketed prose first", raw: "Questions [draft]:\n[\"A?\"]", want: []string{"A?"}},
		{name: "no array", raw: "1. A?\n2. B?", wantErr: "no JSON value found"},
		{name: "not strings", raw: `[1, 2]`, wantErr: "decode follow-up questions"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseFollowUps(tc.raw)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	require.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}```"))
	require.Equal(t, `{"a":1}`, stripCodeFence(`  {"a":1}  `))
	require.Equal(t, "", stripCodeFence("```"))
}
