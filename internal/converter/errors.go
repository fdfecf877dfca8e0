package converter

import "fmt"

// ConversionError is the domain failure produced by any converter (PDF, TTS,
// transcode). Pipeline stages classify it as a backend failure, not a crash.
type ConversionError struct {
	Tool string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s conversion: %v", e.Tool, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func convErr(tool string, format string, args ...interface{}) error {
	return &ConversionError{Tool: tool, Err: fmt.Errorf(format, args...)}
}
