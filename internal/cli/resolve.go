package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/session"
)

// findCredential looks a credential up by id, falling back to a case-insensitive title match
func findCredential(m *session.Manager, ref string) (*domain.Credential, error) {
	c, err := m.Credential(ref)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, session.ErrCredentialNotFound) {
		return nil, err
	}

	creds, err := m.Credentials()
	if err != nil {
		return nil, err
	}
	var matches []domain.Credential
	for _, c := range creds {
		if strings.EqualFold(c.Title, ref) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", session.ErrCredentialNotFound, ref)
	case 1:
		return &matches[0], nil
	}

	ids := make([]string, 0, len(matches))
	for _, c := range matches {
		ids = append(ids, c.ID)
	}
	return nil, fmt.Errorf("%q matches %d credentials, use one of the ids: %s", ref, len(matches), strings.Join(ids, ", "))
}
