package chathub

import "strings"

// bannedTerms are redacted from message content before persistence. The list
// is deliberately small; moderation tooling manages the real one elsewhere.
var bannedTerms = []string{"slur1", "slur2", "slur3"}

const redaction = "***"

// sanitizeContent trims and redacts banned terms. Validation of emptiness
// and length happens in the send handler, which knows about attachments and
// the configured cap.
func sanitizeContent(content string) string {
	out := strings.TrimSpace(content)
	for _, term := range bannedTerms {
		if term == "" {
			continue
		}
		out = replaceFold(out, term, redaction)
	}
	return out
}

// replaceFold replaces every case-insensitive occurrence of term.
func replaceFold(s, term, repl string) string {
	lower := strings.ToLower(s)
	term = strings.ToLower(term)
	var b strings.Builder
	for {
		i := strings.Index(lower, term)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(repl)
		s = s[i+len(term):]
		lower = lower[i+len(term):]
	}
}
