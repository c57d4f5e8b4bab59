package errs

const (
	ServerInternalError = 500

	ArgsError              = 1001
	NotFoundError          = 1004
	InvalidStateError      = 1005
	AlreadyAuthorizedError = 1006
	NotAuthorizedError     = 1007
	AlreadyConsumedError   = 1008
	ConflictError          = 1009

	UnauthenticatedError = 1501
	TransientIOError     = 1502
)

var (
	ErrInternal = NewCodeError(ServerInternalError, "internal error")

	ErrArgs              = NewCodeError(ArgsError, "invalid argument")
	ErrNotFound          = NewCodeError(NotFoundError, "not found")
	ErrInvalidState      = NewCodeError(InvalidStateError, "invalid state")
	ErrAlreadyAuthorized = NewCodeError(AlreadyAuthorizedError, "challenge already authorized")
	ErrNotAuthorized     = NewCodeError(NotAuthorizedError, "challenge not authorized")
	ErrAlreadyConsumed   = NewCodeError(AlreadyConsumedError, "challenge already redeemed")
	ErrConflict          = NewCodeError(ConflictError, "concurrent modification")

	ErrUnauthenticated = NewCodeError(UnauthenticatedError, "unauthenticated")
	ErrTransient       = NewCodeError(TransientIOError, "storage unavailable")
)

func init() {
	Relate(InvalidStateError, AlreadyAuthorizedError, NotAuthorizedError, AlreadyConsumedError)
}
