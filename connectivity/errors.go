package connectivity

import "fmt"

// ErrCircuitOpen is returned when a breaker rejects a call without trying it.
type ErrCircuitOpen struct {
	Target string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Target)
}
