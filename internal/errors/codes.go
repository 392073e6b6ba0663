// Package errors provides structured error handling for inkwell.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Validation errors (bad input)
//   - 2XX: Not-found errors
//   - 3XX: Precondition errors (valid request, wrong state)
//   - 4XX: Storage errors (database, index files)
//   - 5XX: Backend errors (embedder, reranker, LLM)
//   - 6XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryNotFound indicates a referenced entity does not exist.
	CategoryNotFound Category = "NOT_FOUND"
	// CategoryPrecondition indicates the system is not in the required state.
	CategoryPrecondition Category = "PRECONDITION"
	// CategoryStorage indicates database and index file errors.
	CategoryStorage Category = "STORAGE"
	// CategoryBackend indicates external model backend errors.
	CategoryBackend Category = "BACKEND"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Validation errors (100-199)
	ErrCodeInvalidInput      = "ERR_101_INVALID_INPUT"
	ErrCodeQueryEmpty        = "ERR_102_QUERY_EMPTY"
	ErrCodeQueryTooLong      = "ERR_103_QUERY_TOO_LONG"
	ErrCodeInvalidChapter    = "ERR_104_INVALID_CHAPTER"
	ErrCodeDimensionMismatch = "ERR_105_DIMENSION_MISMATCH"

	// Not-found errors (200-299)
	ErrCodeProjectNotFound  = "ERR_201_PROJECT_NOT_FOUND"
	ErrCodeChapterNotFound  = "ERR_202_CHAPTER_NOT_FOUND"
	ErrCodeDocumentNotFound = "ERR_203_DOCUMENT_NOT_FOUND"

	// Precondition errors (300-399)
	ErrCodeOutlineRequired = "ERR_301_OUTLINE_REQUIRED"
	ErrCodeEmptyProject    = "ERR_302_EMPTY_PROJECT"

	// Storage errors (400-499)
	ErrCodeStoreFailed      = "ERR_401_STORE_FAILED"
	ErrCodeCorruptIndex     = "ERR_402_CORRUPT_INDEX"
	ErrCodeStoreUnavailable = "ERR_403_STORE_UNAVAILABLE"

	// Backend errors (500-599)
	ErrCodeBackendTimeout     = "ERR_501_BACKEND_TIMEOUT"
	ErrCodeBackendUnavailable = "ERR_502_BACKEND_UNAVAILABLE"
	ErrCodeEmbeddingFailed    = "ERR_503_EMBEDDING_FAILED"
	ErrCodeRerankFailed       = "ERR_504_RERANK_FAILED"
	ErrCodeCompletionFailed   = "ERR_505_COMPLETION_FAILED"

	// Internal errors (600-699)
	ErrCodeInternal        = "ERR_601_INTERNAL"
	ErrCodeRetrievalFailed = "ERR_602_RETRIEVAL_FAILED"
	ErrCodeChunkingFailed  = "ERR_603_CHUNKING_FAILED"
	ErrCodeIndexFailed     = "ERR_604_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_PROJECT_NOT_FOUND")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryValidation
	case '2':
		return CategoryNotFound
	case '3':
		return CategoryPrecondition
	case '4':
		return CategoryStorage
	case '5':
		return CategoryBackend
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors
	switch code {
	case ErrCodeCorruptIndex, ErrCodeStoreUnavailable:
		return SeverityFatal
	}

	// Retryable backend errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendTimeout, ErrCodeBackendUnavailable:
		return true
	default:
		return false
	}
}
