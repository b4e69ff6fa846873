package policy

import (
	"regexp"
	"strings"
)

type redactionRule struct {
	pattern *regexp.Regexp
	mask    string
}

// Order matters: cards and SSNs would otherwise be taken for phone numbers.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns in caller speech.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// RedactTranscript applies RedactPII line by line so a "[15:04:05] USER:"
// prefix never merges with digits spoken on the line.
func RedactTranscript(log string) (string, int) {
	lines := strings.Split(log, "\n")
	count := 0
	for i, line := range lines {
		prefix, body := splitTranscriptLine(line)
		red, changed := RedactPII(body)
		if changed {
			count++
			lines[i] = prefix + red
		}
	}
	return strings.Join(lines, "\n"), count
}

func splitTranscriptLine(line string) (prefix, body string) {
	if !strings.HasPrefix(line, "[") {
		return "", line
	}
	end := strings.Index(line, "]")
	if end < 0 {
		return "", line
	}
	rest := line[end+1:]
	colon := strings.Index(rest, ": ")
	if colon < 0 {
		return line[:end+1], rest
	}
	cut := end + 1 + colon + 2
	return line[:cut], line[cut:]
}
