package fetch

// Status is the lifecycle of a collection fetch.
type Status int

const (
	Loading Status = iota
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result is the tri-state outcome of a collection fetch. The zero value is
// Loading. A Failed result is terminal: nothing retries automatically, the
// caller re-invokes the fetch.
type Result[T any] struct {
	Status Status
	Items  []T
	Err    error
}

// Done wraps fetched items in a Ready result.
func Done[T any](items []T) Result[T] {
	return Result[T]{Status: Ready, Items: items}
}

// Fail wraps a fetch error in a Failed result.
func Fail[T any](err error) Result[T] {
	return Result[T]{Status: Failed, Err: err}
}
