// Package elicitation lets tool bodies ask a human for input mid-execution.
// A prompt goes out as an elicitation/request notification on the server's
// outbound channel; the client answers with an elicitation/response message
// correlated by prompt id. An unanswered prompt falls back to its default
// when the timeout elapses.
package elicitation

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the interaction a prompt asks for.
type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindInput        Kind = "input"
	KindChoice       Kind = "choice"
)

// Choice is one selectable option of a choice prompt.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Prompt describes one request for human input.
type Prompt struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`

	// Default is the fallback returned when the prompt times out. Its type
	// follows the kind: bool for confirmations, string otherwise.
	Default any `json:"default,omitempty"`

	Placeholder string   `json:"placeholder,omitempty"`
	Multiline   bool     `json:"multiline,omitempty"`
	Choices     []Choice `json:"choices,omitempty"`
	// Multiple permits selecting more than one choice; the answer is then an
	// array of choice values.
	Multiple bool `json:"multiple,omitempty"`

	// TimeoutSeconds overrides the manager's default when positive.
	TimeoutSeconds int `json:"timeout,omitempty"`
}

func (p Prompt) timeout(fallback time.Duration) time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return fallback
}

// Confirmation builds a yes/no prompt.
func Confirmation(title, message string, defaultResponse bool) Prompt {
	return Prompt{
		ID:      uuid.NewString(),
		Kind:    KindConfirmation,
		Title:   title,
		Message: message,
		Default: defaultResponse,
	}
}

// TextInput builds a free-text prompt.
func TextInput(title, message, placeholder, defaultValue string) Prompt {
	return Prompt{
		ID:          uuid.NewString(),
		Kind:        KindInput,
		Title:       title,
		Message:     message,
		Placeholder: placeholder,
		Default:     defaultValue,
	}
}

// SingleChoice builds a pick-one prompt. The default is the first choice's
// value unless overridden on the returned Prompt.
func SingleChoice(title, message string, choices []Choice) Prompt {
	p := Prompt{
		ID:      uuid.NewString(),
		Kind:    KindChoice,
		Title:   title,
		Message: message,
		Choices: choices,
	}
	if len(choices) > 0 {
		p.Default = choices[0].Value
	}
	return p
}

// MultiChoice builds a pick-any prompt. The default is an empty selection.
func MultiChoice(title, message string, choices []Choice) Prompt {
	return Prompt{
		ID:       uuid.NewString(),
		Kind:     KindChoice,
		Title:    title,
		Message:  message,
		Choices:  choices,
		Multiple: true,
		Default:  []string{},
	}
}
