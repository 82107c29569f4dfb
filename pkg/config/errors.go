package config

// LoadError provides details about a configuration or description that
// failed to load.
type LoadError struct {
	// File is the path that failed to load, empty for in-memory input.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.File == "" {
		return msg
	}
	return e.File + ": " + msg
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error { return e.Cause }

// withFile stamps path on a LoadError or wraps err in one.
func withFile(path string, err error) error {
	if le, ok := err.(*LoadError); ok {
		le.File = path
		return le
	}
	return &LoadError{File: path, Message: "invalid", Cause: err}
}
