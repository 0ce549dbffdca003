package session

import "fmt"

// PortNotFoundError reports a connect request naming a port absent from the
// current catalog snapshot.
type PortNotFoundError struct {
	Name string
}

func (e *PortNotFoundError) Error() string {
	return fmt.Sprintf("port %q not found", e.Name)
}

// OpenError reports a driver open failure; the slot is forced back to
// disconnected.
type OpenError struct {
	Name string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("connecting to %q: %v", e.Name, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
