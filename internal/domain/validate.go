package domain

import (
	"strings"

	"github.com/victornm/livequiz/internal/errors"
)

// ValidateQuestions checks a question set produced by the quiz generator.
func ValidateQuestions(qs []Question) error {
	if len(qs) == 0 {
		return errors.InvalidArgument("quiz has no questions")
	}

	for i, q := range qs {
		if strings.TrimSpace(q.Question) == "" {
			return errors.InvalidArgument("question %d: empty prompt", i+1)
		}
		if len(q.Options) != OptionsPerQuestion {
			return errors.InvalidArgument("question %d: want %d options, got %d", i+1, OptionsPerQuestion, len(q.Options))
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= OptionsPerQuestion {
			return errors.InvalidArgument("question %d: correct index %d out of range", i+1, q.CorrectIndex)
		}
	}

	return nil
}
