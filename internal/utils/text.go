package utils

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var blankRunRegex = regexp.MustCompile(`\n{3,}`)

// Truncate returns s cut to maxLen runes, ending in "..." when shortened.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// Clip cuts s to at most maxLen runes without an ellipsis.
func Clip(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// NormalizeBody prepares a mail body for storage: CRLF to LF, runs of blank
// lines collapsed, surrounding space trimmed, cut to maxLen runes.
func NormalizeBody(body string, maxLen int) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	body = blankRunRegex.ReplaceAllString(body, "\n\n")
	return Clip(strings.TrimSpace(body), maxLen)
}

// TitleName title-cases a person's name ("sara LEE" -> "Sara Lee").
func TitleName(name string) string {
	return cases.Title(language.English).String(strings.Join(strings.Fields(name), " "))
}
