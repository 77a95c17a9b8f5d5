package memory

import (
	"fmt"
	"strconv"

	"adaptive-quiz-service/internal/domain"
)

// SampleQuestions builds a small arithmetic question bank covering every difficulty, so the
// service is playable without a database.
func SampleQuestions(perLevel int) []domain.Question {
	if perLevel <= 0 {
		perLevel = 3
	}
	var out []domain.Question
	for d := domain.MinDifficulty; d <= domain.MaxDifficulty; d++ {
		for i := 1; i <= perLevel; i++ {
			a := d*7 + i*3
			b := d*d + i
			sum := a + b
			out = append(out, domain.Question{
				ID:         fmt.Sprintf("sample-%02d-%d", d, i),
				Difficulty: d,
				Prompt:     fmt.Sprintf("What is %d + %d?", a, b),
				Choices: []string{
					strconv.Itoa(sum - 2),
					strconv.Itoa(sum),
					strconv.Itoa(sum + 1),
					strconv.Itoa(sum + 10),
				},
				Correct: strconv.Itoa(sum),
			})
		}
	}
	return out
}
