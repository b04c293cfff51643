package hotreload

import "fmt"

// WatchError reports a failure of the underlying file-system subscription
type WatchError struct {
	Path string
	Op   string
	Err  error
}

func (e *WatchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("watch %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("watch %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *WatchError) Unwrap() error {
	return e.Err
}
