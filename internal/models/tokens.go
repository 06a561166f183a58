package models

// EstimateTokens approximates the token count of a text as ceil(len/4).
// Good enough for budget splitting and batch sizing; exact counts come
// back from the provider with each completion.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
