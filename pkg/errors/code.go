package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Submission errors (user-attributable)
// 12000-12999: Execution errors (harness faults)

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10103
	JobNotActive      ErrorCode = 10104

	// Asset / environment errors (10200-10299)
	BenchmarkAssetsMissing ErrorCode = 10200
	CredentialMissing      ErrorCode = 10201
	WorkspaceError         ErrorCode = 10202

	// ========== Submission Errors (11000-11999) ==========

	InvalidArchive          ErrorCode = 11000
	MissingAgentEntry       ErrorCode = 11001
	DependencyInstallFailed ErrorCode = 11002
	ArchiveNotFound         ErrorCode = 11003
	SubmissionCreateFailed  ErrorCode = 11004

	// ========== Execution Errors (12000-12999) ==========

	HarnessFailed    ErrorCode = 12000
	HarnessTimeout   ErrorCode = 12001
	ScoreParseFailed ErrorCode = 12002
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:     "Database operation failed",
	RecordNotFound:    "Record not found in database",
	TransactionFailed: "Database transaction failed",
	JobNotActive:      "Job is not active",

	// Assets
	BenchmarkAssetsMissing: "Benchmark assets are missing",
	CredentialMissing:      "Backend credential is missing",
	WorkspaceError:         "Workspace operation failed",

	// Submission
	InvalidArchive:          "Invalid submission archive",
	MissingAgentEntry:       "Submission is missing the agent entry point",
	DependencyInstallFailed: "Dependency installation failed",
	ArchiveNotFound:         "Submission archive not found",
	SubmissionCreateFailed:  "Failed to create submission",

	// Execution
	HarnessFailed:    "Benchmark harness failed",
	HarnessTimeout:   "Benchmark harness timed out",
	ScoreParseFailed: "Failed to parse harness score report",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == RecordNotFound, c == ArchiveNotFound:
		return 404
	case c == InvalidParams, c >= 11000 && c < 12000:
		return 400
	default:
		return 500
	}
}

// UserAttributable reports whether the code describes a fault caused by the
// submission itself rather than the service or the harness.
func (c ErrorCode) UserAttributable() bool {
	return c >= 11000 && c < 12000
}
