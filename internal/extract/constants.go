package extract

// Default values for receipt extraction.
const (
	// DefaultUserID is the default user identifier for documents and transactions.
	DefaultUserID = "default"

	// DefaultModelName is the default Gemini model used for extraction.
	DefaultModelName = "gemini-2.5-flash"

	// FallbackCategory is used when the model returns a category that is not
	// in the active taxonomy.
	FallbackCategory = "Uncategorized"

	// Document extraction statuses.
	StatusPending   = "PENDING"
	StatusExtracted = "EXTRACTED"
	StatusFailed    = "FAILED"
)
