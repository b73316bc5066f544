// Package redact applies redaction rules to blob content before it is
// content-addressed and stored.
package redact

import (
	"regexp"
	"unicode/utf8"

	"github.com/tracekit/tracekit/internal/domain"
)

// MaxBlobBytes is the truncation ceiling for stored blobs.
const MaxBlobBytes = 1 << 20

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:api[_-]?key|secret|token|password|passwd|credential)\s*[:=]\s*['"]?[^\s'"]{8,}`),
	regexp.MustCompile(`(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9_]{36,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`-----BEGIN (?:RSA |EC )?PRIVATE KEY-----`),
}

var piiPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL_REDACTED]"},
	{regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`), "[PHONE_REDACTED]"},
}

// Result describes what redaction did to a piece of content.
type Result struct {
	Content        []byte
	RulesApplied   []domain.RedactionRule
	WasModified    bool
	WasTruncated   bool
	OriginalLength int
}

// SecretScan masks secret-shaped substrings. Returns the scanned text
// and whether anything was masked.
func SecretScan(text string) (string, bool) {
	modified := false
	for _, re := range secretPatterns {
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, "[SECRET_REDACTED]")
			modified = true
		}
	}
	return text, modified
}

// PIIMask masks emails and phone numbers.
func PIIMask(text string) (string, bool) {
	modified := false
	for _, p := range piiPatterns {
		if p.re.MatchString(text) {
			text = p.re.ReplaceAllString(text, p.replacement)
			modified = true
		}
	}
	return text, modified
}

// TruncateLarge caps data at maxBytes.
func TruncateLarge(data []byte, maxBytes int) ([]byte, bool) {
	if len(data) <= maxBytes {
		return data, false
	}
	return data[:maxBytes], true
}

// Apply runs the requested rules over data. A nil rule list means all
// rules. Text rules only apply to valid UTF-8 content; binary data
// passes through them untouched.
func Apply(data []byte, rules []domain.RedactionRule, maxBytes int) Result {
	if rules == nil {
		rules = []domain.RedactionRule{domain.RedactSecretScan, domain.RedactPIIMask, domain.RedactTruncateLarge}
	}
	if maxBytes <= 0 {
		maxBytes = MaxBlobBytes
	}

	result := Result{Content: data, OriginalLength: len(data)}
	wants := make(map[domain.RedactionRule]bool, len(rules))
	for _, r := range rules {
		wants[r] = true
	}

	if (wants[domain.RedactSecretScan] || wants[domain.RedactPIIMask]) && utf8.Valid(data) {
		text := string(data)
		textModified := false

		if wants[domain.RedactSecretScan] {
			scanned, changed := SecretScan(text)
			if changed {
				text = scanned
				textModified = true
				result.RulesApplied = append(result.RulesApplied, domain.RedactSecretScan)
			}
		}
		if wants[domain.RedactPIIMask] {
			masked, changed := PIIMask(text)
			if changed {
				text = masked
				textModified = true
				result.RulesApplied = append(result.RulesApplied, domain.RedactPIIMask)
			}
		}
		if textModified {
			result.Content = []byte(text)
			result.WasModified = true
		}
	}

	if wants[domain.RedactTruncateLarge] {
		truncated, wasTruncated := TruncateLarge(result.Content, maxBytes)
		if wasTruncated {
			result.Content = truncated
			result.RulesApplied = append(result.RulesApplied, domain.RedactTruncateLarge)
			result.WasTruncated = true
			result.WasModified = true
		}
	}

	return result
}
