package vault

import (
	"math"
	"time"

	"github.com/cipherkeep/cipherkeep/internal/domain"
)

const (
	// WeakPasswordScore is the strength below which a credential is flagged as weak
	WeakPasswordScore = 60
	// StaleAfter is how long a credential may go unviewed and unchanged before it is flagged
	StaleAfter = 180 * 24 * time.Hour
	// minHealthScore keeps the overview from reporting a vault as worthless
	minHealthScore = 20
)

// HealthReport summarizes password hygiene across a vault
type HealthReport struct {
	Duplicates [][]domain.Credential `json:"duplicates"`
	Weak       []domain.Credential   `json:"weak"`
	Stale      []domain.Credential   `json:"stale"`
	Score      int                   `json:"score"`
}

// Analyze flags reused, weak and stale credentials and computes an overall score.
func Analyze(creds []domain.Credential, now time.Time) HealthReport {
	report := HealthReport{Score: 100}
	if len(creds) == 0 {
		return report
	}

	byPassword := make(map[string][]domain.Credential)
	var order []string
	for _, cred := range creds {
		if cred.Password != "" {
			if _, seen := byPassword[cred.Password]; !seen {
				order = append(order, cred.Password)
			}
			byPassword[cred.Password] = append(byPassword[cred.Password], cred)
			if PasswordStrength(cred.Password) < WeakPasswordScore {
				report.Weak = append(report.Weak, cred)
			}
		}

		reference := cred.UpdatedAt
		if cred.LastViewedAt != nil {
			reference = *cred.LastViewedAt
		}
		if !reference.IsZero() && now.Sub(reference) >= StaleAfter {
			report.Stale = append(report.Stale, cred)
		}
	}

	penalty := 0
	for _, password := range order {
		group := byPassword[password]
		if len(group) > 1 {
			report.Duplicates = append(report.Duplicates, group)
			penalty += len(group) * 5
		}
	}
	penalty += len(report.Weak)*10 + len(report.Stale)*5

	score := int(math.Round(100 - float64(penalty)/float64(len(creds))))
	report.Score = max(minHealthScore, min(100, score))
	return report
}
