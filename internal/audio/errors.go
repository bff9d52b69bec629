package audio

import "fmt"

// MediaAccessError reports that the capture device could not be opened,
// either because access was denied or no device is available
type MediaAccessError struct {
	Err error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("media access failed: %v", e.Err)
}

func (e *MediaAccessError) Unwrap() error {
	return e.Err
}
