package types

import "errors"

// Error taxonomy shared across the service. Callers classify failures with
// errors.Is and wrap these sentinels with call-site context.
var (
	// ErrNotFound reports an unknown document or chunk id.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedFormat reports an upload whose format is not pdf, docx or txt.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrExtractionFailed reports corrupt or unreadable content, or an empty
	// extraction result.
	ErrExtractionFailed = errors.New("text extraction failed")

	// ErrEmbeddingFailed reports an embedding backend failure after the bounded
	// retry policy is exhausted.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrGenerationFailed reports a generation backend failure after retries.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrIndexInconsistent reports a vector index invariant violation, such as a
	// dimension mismatch. The index must be rebuilt from the document store.
	ErrIndexInconsistent = errors.New("vector index inconsistent")
)
