package apperrors

type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeDecryptionFailed Code = "DECRYPTION_FAILED"
	CodeInternal         Code = "INTERNAL"
)
