// Package quiz is the boundary with the quiz generation service: it decodes and validates the
// question sets it produces.
package quiz

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Decode reads a generated question set, a JSON document {"questions": [...]}. Any structural
// problem is reported as an invalid argument error naming the generation output.
func Decode(r io.Reader) ([]domain.Question, error) {
	var raw struct {
		Questions *[]json.RawMessage `json:"questions"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, generationError(fmt.Errorf("decode: %w", err))
	}
	if raw.Questions == nil {
		return nil, generationError(fmt.Errorf("missing 'questions' array"))
	}

	qs := make([]domain.Question, 0, len(*raw.Questions))
	for i, b := range *raw.Questions {
		var q domain.Question
		if err := json.Unmarshal(b, &q); err != nil {
			return nil, generationError(fmt.Errorf("question %d: %w", i+1, err))
		}
		qs = append(qs, q)
	}

	if err := domain.ValidateQuestions(qs); err != nil {
		return nil, generationError(err)
	}

	return qs, nil
}

func generationError(err error) *errors.Error {
	msg := err.Error()
	if e := errors.Convert(err); e.Code != errors.CodeInternal {
		msg = e.Message
	}

	return errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("invalid quiz generation output: %s", msg),
		errors.WithCause(err),
	)
}
