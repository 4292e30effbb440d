package errs

// Client-visible error codes. Ranges follow the usual gateway split:
// 1xxx generic, 2xxx auth, 3xxx room/membership, 4xxx call signaling.
const (
	ServerInternalError = 1001
	ArgsError           = 1002
	RecordNotFoundError = 1004
	DuplicateError      = 1005

	TokenInvalidError = 2001
	NotAuthorized     = 2002

	RoomInvalidError   = 3001
	RoomNotJoinedError = 3002
	NotMemberError     = 3003

	CallNotFoundError = 4001
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "server internal error")
	ErrArgs           = NewCodeError(ArgsError, "invalid argument")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "record not found")
	ErrDuplicate      = NewCodeError(DuplicateError, "duplicate request")

	ErrTokenInvalid  = NewCodeError(TokenInvalidError, "token invalid")
	ErrNotAuthorized = NewCodeError(NotAuthorized, "connection not authorized")

	ErrRoomInvalid   = NewCodeError(RoomInvalidError, "invalid room")
	ErrRoomNotJoined = NewCodeError(RoomNotJoinedError, "sender has not joined room")
	ErrNotMember     = NewCodeError(NotMemberError, "sender is not a member")

	ErrCallNotFound = NewCodeError(CallNotFoundError, "no pending call")
)
