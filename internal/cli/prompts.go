package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/shopspring/decimal"

	"loan-counselor/internal/domain"
)

type profileAnswers struct {
	Name               string `survey:"name"`
	OriginCountry      string `survey:"origin_country"`
	DestinationCountry string `survey:"destination_country"`
	LoanAmount         string `survey:"loan_amount_needed"`
	CourseOfStudy      string `survey:"course_of_study"`
}

// PromptForProfile asks for the student details used on every turn.
func PromptForProfile() (domain.StudentProfile, error) {
	questions := []*survey.Question{
		{
			Name:     "name",
			Prompt:   &survey.Input{Message: "Your name:"},
			Validate: survey.Required,
		},
		{
			Name:     "origin_country",
			Prompt:   &survey.Input{Message: "Country you are studying from:", Default: "India"},
			Validate: survey.Required,
		},
		{
			Name: "destination_country",
			Prompt: &survey.Select{
				Message: "Where do you plan to study?",
				Options: []string{"USA", "UK", "Canada", "Australia", "Germany", "Other"},
			},
		},
		{
			Name: "loan_amount_needed",
			Prompt: &survey.Input{
				Message: "Loan amount needed (USD):",
				Help:    "A positive number, e.g. 50000",
			},
			Validate: validateLoanAmount,
		},
		{
			Name:     "course_of_study",
			Prompt:   &survey.Input{Message: "Course of study:"},
			Validate: survey.Required,
		},
	}

	var answers profileAnswers
	if err := survey.Ask(questions, &answers); err != nil {
		return domain.StudentProfile{}, err
	}
	return answers.profile()
}

func (a profileAnswers) profile() (domain.StudentProfile, error) {
	amount, err := parseLoanAmount(a.LoanAmount)
	if err != nil {
		return domain.StudentProfile{}, err
	}
	return domain.StudentProfile{
		Name:               strings.TrimSpace(a.Name),
		OriginCountry:      strings.TrimSpace(a.OriginCountry),
		DestinationCountry: strings.TrimSpace(a.DestinationCountry),
		LoanAmountNeeded:   amount,
		CourseOfStudy:      strings.TrimSpace(a.CourseOfStudy),
	}, nil
}

func validateLoanAmount(val interface{}) error {
	s, ok := val.(string)
	if !ok {
		return errors.New("loan amount must be text")
	}
	_, err := parseLoanAmount(s)
	return err
}

// parseLoanAmount accepts plain or comma-grouped numbers with an optional
// leading dollar sign.
func parseLoanAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Decimal{}, errors.New("loan amount is required")
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid loan amount %q", s)
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, errors.New("loan amount must be greater than zero")
	}
	return amount, nil
}

// PromptForMessage reads one chat message.
func PromptForMessage() (string, error) {
	var msg string
	prompt := &survey.Input{
		Message: "You:",
		Help:    "Type 'reset' to start over, 'report' for a conversation report, 'exit' to quit",
	}
	if err := survey.AskOne(prompt, &msg); err != nil {
		return "", err
	}
	return strings.TrimSpace(msg), nil
}
