package push

import (
	"context"
	"errors"
	"slices"
)

// Kind is the classification of one delivery attempt.
type Kind int

const (
	Success Kind = iota
	// Definitive failures mean the token will never work again.
	Definitive
	// Transient failures say nothing about the token.
	Transient
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Definitive:
		return "definitive"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of a send or dry run.
type Outcome struct {
	Kind    Kind
	Code    string
	Message string
}

// definitiveCodes is the complete list of codes that strike a token.
var definitiveCodes = []string{
	CodeInvalidToken,
	CodeNotRegistered,
	CodeMismatchedCredential,
}

// IsDefinitive reports whether code marks a token as permanently unusable.
func IsDefinitive(code string) bool {
	return slices.Contains(definitiveCodes, code)
}

// Classify maps a gateway error to an Outcome. A nil error is Success.
// Errors that are not *Error, including context cancellation, are Transient.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: Success}
	}

	var gwErr *Error
	if errors.As(err, &gwErr) {
		kind := Transient
		if IsDefinitive(gwErr.Code) {
			kind = Definitive
		}
		return Outcome{Kind: kind, Code: gwErr.Code, Message: gwErr.Message}
	}

	code := CodeUnknown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = CodeUnavailable
	}
	return Outcome{Kind: Transient, Code: code, Message: err.Error()}
}
