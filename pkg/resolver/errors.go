package resolver

import "fmt"

// FileNotFoundError is returned by File when the file does not exist.
// It is fatal for the configuration load that referenced the file.
type FileNotFoundError struct {
	// Path is the path as written in the configuration
	Path string
	// Resolved is Path after RootMarker expansion
	Resolved string
}

func (e *FileNotFoundError) Error() string {
	if e.Path == e.Resolved {
		return fmt.Sprintf("config file not found: %s", e.Path)
	}
	return fmt.Sprintf("config file not found: %s (resolved to %s)", e.Path, e.Resolved)
}

// FileReadError wraps any other failure reading a referenced file
type FileReadError struct {
	Path  string
	Cause error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("failed to read config file %s: %s", e.Path, e.Cause)
}

func (e *FileReadError) Unwrap() error {
	return e.Cause
}
