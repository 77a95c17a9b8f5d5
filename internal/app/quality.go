package app

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"adaptive-quiz-service/internal/domain"
)

// ChoiceCount is the number of choices every question carries.
const ChoiceCount = 4

// metaFragments are pieces of text that show up when a generator talks about the quiz
// instead of asking a question.
var metaFragments = []string{
	"level", "question #", "term?", "difficulty",
	"wrong a", "wrong b", "wrong c", "wrong d",
	"answer 1", "answer 2", "answer 3", "answer 4",
	"choice a", "choice b", "choice c", "choice d",
	"#1", "#2", "#3", "#4", "#5", "#6", "#7", "#8", "#9",
	"what is the level", "question level",
	"history question", "geography question", "science question",
}

var placeholderChoice = regexp.MustCompile(`(?i)answer \d+-\d+|wrong [a-d]|choice [a-d]`)

// CheckQuestion validates the shape every question must have: a prompt, exactly ChoiceCount
// distinct choices, and a correct answer that is literally one of them.
func CheckQuestion(q domain.Question) error {
	if strings.TrimSpace(q.Prompt) == "" {
		return errors.New("empty prompt")
	}
	if len(q.Choices) != ChoiceCount {
		return fmt.Errorf("expected %d choices, got %d", ChoiceCount, len(q.Choices))
	}
	seen := make(map[string]struct{}, len(q.Choices))
	hasCorrect := false
	for _, c := range q.Choices {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("duplicate choice %q", c)
		}
		seen[c] = struct{}{}
		if c == q.Correct {
			hasCorrect = true
		}
	}
	if !hasCorrect {
		return errors.New("correct answer is not one of the choices")
	}
	return nil
}

// CheckGenerated applies the content-quality filter to a generated question.
func CheckGenerated(q domain.Question) error {
	if err := CheckQuestion(q); err != nil {
		return err
	}
	for _, c := range q.Choices {
		if placeholderChoice.MatchString(c) {
			return fmt.Errorf("placeholder choice %q", c)
		}
	}
	if !strings.Contains(q.Prompt, "?") {
		return errors.New("prompt is not a question")
	}

	prompt := strings.ToLower(q.Prompt)
	choices := strings.ToLower(strings.Join(q.Choices, " "))
	for _, fragment := range metaFragments {
		if strings.Contains(prompt, fragment) || strings.Contains(choices, fragment) {
			return fmt.Errorf("contains meta text %q", fragment)
		}
	}
	return nil
}
