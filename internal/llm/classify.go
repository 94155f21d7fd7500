package llm

import "strings"

// ErrorKind buckets provider errors by how the cascade reacts to them.
type ErrorKind int

const (
	// KindPermanent stops the current candidate and moves to the next.
	KindPermanent ErrorKind = iota
	// KindModelUnavailable skips the candidate's remaining attempts.
	KindModelUnavailable
	// KindQuotaExhausted skips the candidate's remaining attempts.
	KindQuotaExhausted
	// KindTransient is retried with backoff on the same candidate.
	KindTransient
)

// Classify inspects the stringified error. The provider gives no structured
// codes through the text surface, so classification is by substring, same
// rules for every backend.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "model") &&
		(strings.Contains(msg, "not found") ||
			strings.Contains(msg, "not supported") ||
			strings.Contains(msg, "404")) {
		return KindModelUnavailable
	}
	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource_exhausted") {
		return KindQuotaExhausted
	}
	if strings.Contains(msg, "503") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "temporar") ||
		strings.Contains(msg, "rate limit") {
		return KindTransient
	}
	return KindPermanent
}
