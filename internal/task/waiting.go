package task

import "strings"

const waitingReplyPrefix = "awaiting email reply from: "

// WaitingForReplyFrom builds the correlation key that wakes a task when addr replies.
func WaitingForReplyFrom(addr string) string {
	return waitingReplyPrefix + NormalizeEmail(addr)
}

// MatchesSender reports whether a correlation key references the sender address.
// Matching is a case-insensitive substring test so the key can carry extra conditions.
func MatchesSender(waitingFor, sender string) bool {
	sender = NormalizeEmail(sender)
	if sender == "" {
		return false
	}
	return strings.Contains(strings.ToLower(waitingFor), sender)
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
