package blockdev

import "fmt"

// Kind classifies block device failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnimplemented
	KindReadOnly
	KindDisconnected
)

func (k Kind) String() string {
	switch k {
	case KindUnimplemented:
		return "operation not implemented"
	case KindReadOnly:
		return "device is read-only"
	case KindDisconnected:
		return "device is disconnected"
	default:
		return "unknown error"
	}
}

var (
	ErrUnimplemented = &Error{Kind: KindUnimplemented}
	ErrReadOnly      = &Error{Kind: KindReadOnly}
	ErrDisconnected  = &Error{Kind: KindDisconnected}
)

// Error is returned by every Device operation that fails.
type Error struct {
	Kind   Kind
	Op     string
	Sector int64
	Msg    string
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Op == "" {
		return "block device: " + msg
	}
	return fmt.Sprintf("block device %s sector %d: %s", e.Op, e.Sector, msg)
}

// Is reports whether other is an *Error of the same kind, so the
// package sentinels work with errors.Is.
func (e *Error) Is(other error) bool {
	o, ok := other.(*Error)
	return ok && o.Kind == e.Kind
}

func outOfRange(op string, sector, size int64) error {
	return &Error{
		Kind:   KindUnknown,
		Op:     op,
		Sector: sector,
		Msg:    fmt.Sprintf("sector out of range [0, %d)", size),
	}
}
