package vault

import (
	"strings"
	"unicode"

	"github.com/cipherkeep/cipherkeep/internal/domain"
)

// ParseSearchTokens splits the raw search string into lower-cased tokens.
// Tokens are delimited by '+' or any whitespace character.
func ParseSearchTokens(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || r == '+'
	})

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		token := strings.TrimSpace(field)
		if token == "" {
			continue
		}
		tokens = append(tokens, strings.ToLower(token))
	}

	if len(tokens) == 0 {
		return nil
	}

	return tokens
}

// MatchesSearchTokens reports whether the credential satisfies all search tokens.
// Each token must be contained in at least one of title, username, url, or tags.
func MatchesSearchTokens(cred *domain.Credential, tokens []string) bool {
	if len(tokens) == 0 || cred == nil {
		return true
	}

	title := strings.ToLower(cred.Title)
	username := strings.ToLower(cred.Username)
	url := strings.ToLower(cred.URL)

	tags := make([]string, 0, len(cred.Tags))
	for _, tag := range cred.Tags {
		tags = append(tags, strings.ToLower(tag))
	}

	for _, token := range tokens {
		token = strings.ToLower(token)
		if token == "" {
			continue
		}

		if strings.Contains(title, token) ||
			strings.Contains(username, token) ||
			strings.Contains(url, token) ||
			tagContainsToken(tags, token) {
			continue
		}

		return false
	}

	return true
}

// HasAnyTag reports whether the credential carries at least one of the tags.
// An empty tag filter matches everything.
func HasAnyTag(cred *domain.Credential, tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range cred.Tags {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// Filter returns the credentials matching the search string and tag filter
func Filter(creds []domain.Credential, search string, tags []string) []domain.Credential {
	tokens := ParseSearchTokens(search)
	out := make([]domain.Credential, 0, len(creds))
	for i := range creds {
		if !MatchesSearchTokens(&creds[i], tokens) || !HasAnyTag(&creds[i], tags) {
			continue
		}
		out = append(out, creds[i])
	}
	return out
}

func tagContainsToken(tags []string, token string) bool {
	for _, tag := range tags {
		if strings.Contains(tag, token) {
			return true
		}
	}
	return false
}
