package mediaerr

import "errors"

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrFetchFailed       = errors.New("fetch failed")
	ErrTransformFailed   = errors.New("transform failed")
	ErrUploadFailed      = errors.New("upload failed")
	ErrValidation        = errors.New("validation failed")
	ErrSessionForbidden  = errors.New("session belongs to another user")
	ErrSessionNotFound   = errors.New("session not found")
)

// Kind returns a stable label for err, suitable for metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, ErrTransformFailed):
		return "transform_failed"
	case errors.Is(err, ErrUploadFailed):
		return "upload_failed"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrSessionForbidden):
		return "session_forbidden"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	default:
		return "internal"
	}
}

// UserMessage maps err to the short text shown to the person who asked for the media.
func UserMessage(err error) string {
	switch Kind(err) {
	case "ok":
		return ""
	case "source_unavailable":
		return "That item is no longer available from its source."
	case "fetch_failed":
		return "Downloading the media failed. Please try again later."
	case "transform_failed":
		return "Converting the media failed."
	case "upload_failed":
		return "Uploading the media failed. Please try again later."
	case "validation":
		var detailed interface{ Detail() string }
		if errors.As(err, &detailed) && detailed.Detail() != "" {
			return detailed.Detail()
		}
		return "That request is not valid."
	default:
		return "Something went wrong while processing your request."
	}
}

// ValidationError carries a user-facing explanation alongside ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func (e *ValidationError) Detail() string {
	return e.Message
}

func Validation(message string) error {
	return &ValidationError{Message: message}
}
