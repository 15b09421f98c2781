package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"loan-counselor/internal/domain"
)

const counselorTemplate = `
You are Sarah, a friendly and experienced education loan counselor from Lorien Finance. Talk to students in a warm, conversational way like you're having a friendly chat. Imagine you're sitting across from them having coffee.

Remember to:
- Stay focused on loan counseling - politely redirect off-topic questions back to education loans
- Build rapport through friendly, empathetic conversation using casual language
- Explain concepts simply and clearly without technical jargon
- Personalize responses by using their name and acknowledging their unique circumstances
- Guide discussions naturally with relevant follow-up questions
- Provide realistic and transparent loan advice based on their situation
- Express genuine interest in helping them achieve their educational goals
- Share both benefits and limitations of different loan options
- Maintain a supportive and encouraging tone throughout
- Help them feel comfortable asking questions about the loan process
- If students already provided information about their plans, courses, etc, then don't ask for that information again.

When discussing loans:
1. First understand their needs and situation
2. Get important details about their plans
3. Then suggest relevant loan options

Make sure to learn about:
- Where they want to study (country and school)
- What program they're interested in
- How much funding they need
- Their financial situation (co-signers, etc)
- When they plan to start

It's also helpful to know about:
- Their academic background
- Any work experience
- Visa status
- What kind of loan terms they prefer

Remember to protect private information and include necessary disclaimers, but keep the tone friendly and supportive throughout.

Lenders information:
{{.LendersData}}

Student details:
{{.StudentDetails}}

Previous conversation:
{{.ConversationHistory}}

Their last message:
{{.StudentMessage}}

Your friendly response:`

const followUpTemplate = `Based on this conversation history:
{{.ConversationHistory}}

The user's current message is:
{{.StudentMessage}}

Generate 3 natural follow-up questions that would help the user learn more about:
- Loan terms and conditions
- Application process
- Eligibility requirements
- Interest rates and repayment options
- Required documents

IMPORTANT:
- Questions should be clear, concise and easy to understand
- Avoid technical jargon and complex terminology
- Break down complex questions into simpler parts
- Use natural conversational language
- Focus on one topic per question
- Question should be small, simple and easy to understand.

Make the questions conversational and easy to understand.

Output should be a simple array of strings, in the following format:
["Question 1", "Question 2", "Question 3"]
`

const sentimentTemplate = `Analyze the sentiment of the following conversation between a human student and an AI loan counselor. Return the analysis as a JSON object with scores for: positivity (0-1), engagement (0-1), and concern_level (0-1).

{{.ConversationHistory}}

Output should be in JSON format. Example output: {"positivity": 0.9, "engagement": 0.8, "concern_level": 0.2}`

const summaryTemplate = `Summarize the following conversation:
{{.ConversationHistory}}`

const maxFollowUpQuestions = 3

var (
	counselorPrompt = template.Must(template.New("counselor").Option("missingkey=error").Parse(counselorTemplate))
	followUpPrompt  = template.Must(template.New("follow_up").Option("missingkey=error").Parse(followUpTemplate))
	sentimentPrompt = template.Must(template.New("sentiment").Option("missingkey=error").Parse(sentimentTemplate))
	summaryPrompt   = template.Must(template.New("summary").Option("missingkey=error").Parse(summaryTemplate))
)

// promptInputs carries the rendered blocks interpolated into the templates.
type promptInputs struct {
	LendersData         string
	StudentDetails      string
	ConversationHistory string
	StudentMessage      string
}

func buildCounselorPrompt(in promptInputs) (string, error) {
	return render(counselorPrompt, in)
}

func buildFollowUpPrompt(history []domain.Message, message string) (string, error) {
	return render(followUpPrompt, promptInputs{
		ConversationHistory: renderHistory(history),
		StudentMessage:      message,
	})
}

func buildSentimentPrompt(history []domain.Message) (string, error) {
	return render(sentimentPrompt, promptInputs{ConversationHistory: renderHistory(history)})
}

func buildSummaryPrompt(history []domain.Message) (string, error) {
	return render(summaryPrompt, promptInputs{ConversationHistory: renderHistory(history)})
}

func render(t *template.Template, in promptInputs) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, in); err != nil {
		return "", fmt.Errorf("usecase: render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// formatStudentDetails serializes the profile as indented JSON with a fixed
// key order.
func formatStudentDetails(p domain.StudentProfile) (string, error) {
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("usecase: marshal student details: %w", err)
	}
	return string(raw), nil
}

// renderHistory renders one role-labeled line per message in order. An
// assistant reply is preceded by the human message it answers.
func renderHistory(history []domain.Message) string {
	lines := make([]string, 0, len(history)*2)
	for _, m := range history {
		if m.Role == domain.RoleAssistant && m.InReplyTo != "" {
			lines = append(lines, string(domain.RoleHuman)+": "+m.InReplyTo)
		}
		lines = append(lines, roleLabel(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

func roleLabel(r domain.Role) string {
	switch r {
	case domain.RoleHuman, domain.RoleAssistant:
		return string(r)
	default:
		return "Unknown"
	}
}

// parseFollowUps extracts up to three questions from a JSON array of strings.
func parseFollowUps(raw string) ([]string, error) {
	questions, err := decodeEmbeddedJSON[[]string](stripCodeFence(raw), '[')
	if err != nil {
		return nil, fmt.Errorf("usecase: decode follow-up questions: %w", err)
	}

	out := make([]string, 0, maxFollowUpQuestions)
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == maxFollowUpQuestions {
			break
		}
	}
	return out, nil
}

var errNoEmbeddedJSON = errors.New("no JSON value found")

// decodeEmbeddedJSON decodes the first JSON value in body that starts at an
// open byte and decodes as T. Text after the value is ignored.
func decodeEmbeddedJSON[T any](body string, open byte) (T, error) {
	var firstErr error
	for i := 0; i < len(body); i++ {
		if body[i] != open {
			continue
		}
		var v T
		if err := json.NewDecoder(strings.NewReader(body[i:])).Decode(&v); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return v, nil
	}
	var zero T
	if firstErr == nil {
		firstErr = errNoEmbeddedJSON
	}
	return zero, firstErr
}

// stripCodeFence removes a surrounding Markdown code fence, if any.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
