package guest

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionFailed means the host page is not in a state that can be
	// filled: wrong domain, no guest form, or locked for editing.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrUpstreamInvalid means the vision extraction rejected the document.
	ErrUpstreamInvalid = errors.New("upstream extraction invalid")
)

// BlockingError aborts a fill before any field is touched. Message is shown
// to the user as is.
type BlockingError struct {
	Reason  error
	Message string
}

func (e *BlockingError) Error() string {
	return fmt.Sprintf("%v: %s", e.Reason, e.Message)
}

func (e *BlockingError) Unwrap() error { return e.Reason }

// Precondition returns a blocking precondition error with a user-facing message.
func Precondition(msg string) error {
	return &BlockingError{Reason: ErrPreconditionFailed, Message: msg}
}

// UpstreamInvalid returns a blocking error carrying the extractor's message.
func UpstreamInvalid(msg string) error {
	return &BlockingError{Reason: ErrUpstreamInvalid, Message: msg}
}

// UserMessage returns the text to show for err. Blocking errors yield their
// message verbatim, anything else its Error string.
func UserMessage(err error) string {
	var be *BlockingError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
