package game

import "errors"

// Kind classifies a caller-visible failure. None of them cross session
// boundaries; the transport reports them to the originating connection only.
type Kind uint8

const (
	KindValidation Kind = iota + 1
	KindState
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

var (
	ErrInvalidUsername = &Error{Kind: KindValidation, msg: "invalid username"}
	ErrInvalidColumn   = &Error{Kind: KindValidation, msg: "invalid column"}

	ErrNotActive  = &Error{Kind: KindState, msg: "game not active"}
	ErrWrongTurn  = &Error{Kind: KindState, msg: "not your turn"}
	ErrColumnFull = &Error{Kind: KindState, msg: "column is full"}

	ErrSessionNotFound     = &Error{Kind: KindNotFound, msg: "game not found"}
	ErrNoReconnectableGame = &Error{Kind: KindNotFound, msg: "no reconnectable game found"}
	ErrUnknownPlayer       = &Error{Kind: KindNotFound, msg: "player has not joined"}
)

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return 0, false
}
