package apperrors

var (
	// Domain errors — used by service/repository/router
	ErrAuthRequired = Unauthenticated("authentication required")
	ErrInactiveUser = Unauthenticated("user not found")
	// Membership failures and missing conversations are deliberately the
	// same error so a caller cannot probe which conversation ids exist.
	ErrNotParticipant  = Forbidden("conversation not found or access denied")
	ErrCannotChat      = Forbidden("you can only chat with users you follow or who follow you")
	ErrSelfChat        = InvalidArg("cannot start a conversation with yourself")
	ErrTooManyMessages = RateLimited("too many messages, please slow down")
	ErrUndecryptable   = New(CodeDecryptionFailed, "stored content could not be decrypted")
)

func ErrSendFailed(cause error) error {
	return Wrap(CodeInternal, "failed to send message", cause)
}
