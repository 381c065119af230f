package embedder

const (
	// DefaultMaxTokensPerBatch is the default token budget per provider call.
	DefaultMaxTokensPerBatch = 8000

	// DefaultMaxItemsPerBatch is the default item cap per provider call.
	DefaultMaxItemsPerBatch = 50

	// charsPerToken is the rough character-to-token ratio used for estimation.
	charsPerToken = 4
)

// TokenAwareBatcher groups texts into batches that respect both an
// item cap and a token budget, estimating tokens as len(text)/4.
type TokenAwareBatcher struct {
	maxTokens int
	maxItems  int
}

// NewTokenAwareBatcher creates a batcher. Non-positive limits use the
// defaults.
func NewTokenAwareBatcher(maxTokens, maxItems int) *TokenAwareBatcher {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokensPerBatch
	}

	if maxItems <= 0 {
		maxItems = DefaultMaxItemsPerBatch
	}

	return &TokenAwareBatcher{maxTokens: maxTokens, maxItems: maxItems}
}

// EstimateTokens returns the token estimate for one text.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// Batches splits texts into limit-respecting groups, preserving order.
// A single oversized text still forms its own batch.
func (t *TokenAwareBatcher) Batches(texts []string) [][]string {
	var (
		batches [][]string
		current []string
		tokens  int
	)

	for _, text := range texts {
		estimated := EstimateTokens(text)

		exceedsTokens := tokens+estimated > t.maxTokens
		exceedsItems := len(current) >= t.maxItems

		if (exceedsTokens || exceedsItems) && len(current) > 0 {
			batches = append(batches, current)
			current = []string{text}
			tokens = estimated

			continue
		}

		current = append(current, text)
		tokens += estimated
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}
