package load

import "fmt"

const (
	KeyKindGeography = "geography"
	KeyKindTime      = "time"
)

// KeyResolutionError reports a row whose natural key could not be mapped to a
// dimension row. The row is skipped; the batch continues.
type KeyResolutionError struct {
	Kind string
	Key  string
	Err  error
}

func (e *KeyResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unresolved %s key %q: %v", e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("unresolved %s key %q", e.Kind, e.Key)
}

func (e *KeyResolutionError) Unwrap() error {
	return e.Err
}

// ConnectionError aborts a whole batch. Nothing of the batch is committed.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
