package utils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Repairs for the syntax slips models commonly make in JSON output.
var (
	trailingCommaRegex    = regexp.MustCompile(`,\s*([}\]])`)
	singleQuoteKeyRegex   = regexp.MustCompile(`([{,]\s*)'(\w+)'(\s*:)`)
	singleQuoteValueRegex = regexp.MustCompile(`(:\s*)'([^'\\]*)'(\s*[,}\]])`)
	missingCommaRegex     = regexp.MustCompile(`("|\d|true|false|null|[}\]])\s*\n\s*("\w[^"]*"\s*:)`)
)

// ExtractAndParseJSON pulls the first JSON value out of a model response and
// decodes it into T. Markdown fences and trailing prose are ignored; common
// syntax slips are repaired before giving up.
func ExtractAndParseJSON[T any](response string) (T, error) {
	var result T

	cleaned := stripFences(response)
	if cleaned == "" {
		return result, fmt.Errorf("no JSON found in response")
	}

	// A JSON string that itself holds JSON.
	if strings.HasPrefix(cleaned, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(cleaned), &inner); err == nil && inner != cleaned {
			return ExtractAndParseJSON[T](inner)
		}
	}

	idx := strings.IndexAny(cleaned, "{[")
	if idx == -1 {
		return result, fmt.Errorf("no JSON start ({ or [) found")
	}

	body := cleaned[idx:]
	err := json.NewDecoder(strings.NewReader(body)).Decode(&result)
	if err == nil {
		return result, nil
	}

	if repaired := repairJSON(body); repaired != body {
		var retry T
		if rerr := json.NewDecoder(strings.NewReader(repaired)).Decode(&retry); rerr == nil {
			return retry, nil
		}
	}
	return result, fmt.Errorf("parse JSON: %w", err)
}

func repairJSON(input string) string {
	out := escapeControlChars(input)
	out = missingCommaRegex.ReplaceAllString(out, `$1, $2`)
	out = trailingCommaRegex.ReplaceAllString(out, `$1`)
	out = singleQuoteKeyRegex.ReplaceAllString(out, `$1"$2"$3`)
	out = singleQuoteValueRegex.ReplaceAllStringFunc(out, func(m string) string {
		p := singleQuoteValueRegex.FindStringSubmatch(m)
		return p[1] + `"` + strings.ReplaceAll(p[2], `"`, `\"`) + `"` + p[3]
	})
	return closeTruncated(out)
}

// escapeControlChars escapes raw control characters that appear inside strings.
func escapeControlChars(input string) string {
	var b strings.Builder
	b.Grow(len(input))

	inString, escaped := false, false
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString && c == '\n':
			b.WriteString(`\n`)
			continue
		case inString && c == '\r':
			b.WriteString(`\r`)
			continue
		case inString && c == '\t':
			b.WriteString(`\t`)
			continue
		case inString && c < 0x20:
			fmt.Fprintf(&b, `\u%04x`, c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// closeTruncated balances an unterminated string and missing closers.
func closeTruncated(input string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(input); i++ {
		c := input[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case (c == '}' || c == ']') && len(stack) > 0:
			stack = stack[:len(stack)-1]
		}
	}
	if inString {
		input += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		input += string(stack[i])
	}
	return input
}

func stripFences(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		if nl := strings.IndexByte(response, '\n'); nl >= 0 && !strings.ContainsAny(response[:nl], "{[") {
			response = response[nl+1:]
		}
	}
	response = strings.TrimSuffix(strings.TrimSpace(response), "```")
	return strings.TrimSpace(response)
}
