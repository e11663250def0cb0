package ingest

import "encoding/json"

// ErrorCategory classifies a per-article failure.
type ErrorCategory string

const (
	// CategoryInput means the producer sent an unusable record; resending it will not help.
	CategoryInput ErrorCategory = "input"
	// CategoryStorage means the content store failed; the article may succeed on a later batch.
	CategoryStorage ErrorCategory = "storage"
)

type ItemError struct {
	Category ErrorCategory
	Err      error
}

func (e *ItemError) Error() string {
	if e == nil || e.Err == nil {
		return string(e.categoryOrEmpty())
	}
	return string(e.Category) + ": " + e.Err.Error()
}

func (e *ItemError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ItemError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Category ErrorCategory `json:"category"`
		Message  string        `json:"message"`
	}{Category: e.Category, Message: msg})
}

func (e *ItemError) categoryOrEmpty() ErrorCategory {
	if e == nil {
		return ""
	}
	return e.Category
}

func inputError(err error) *ItemError {
	return &ItemError{Category: CategoryInput, Err: err}
}

func storageError(err error) *ItemError {
	return &ItemError{Category: CategoryStorage, Err: err}
}
