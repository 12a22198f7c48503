package vault

import "strings"

// MinMasterPasswordLength is the shortest master password accepted at vault creation
const MinMasterPasswordLength = 12

// Rule identifies a single master password requirement
type Rule string

const (
	RuleMinLength Rule = "min_length"
	RuleLowercase Rule = "lowercase"
	RuleUppercase Rule = "uppercase"
	RuleDigit     Rule = "digit"
	RuleSymbol    Rule = "symbol"
)

// ValidationError describes one unmet master password requirement
type ValidationError struct {
	Rule    Rule
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// ValidateMasterPassword checks every strength rule independently and returns all
// failures. An empty result means the password is acceptable.
func ValidateMasterPassword(password string) []ValidationError {
	var errs []ValidationError
	var lower, upper, digit, symbol bool

	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			symbol = true
		}
	}

	if len([]rune(password)) < MinMasterPasswordLength {
		errs = append(errs, ValidationError{RuleMinLength, "must be at least 12 characters long"})
	}
	if !lower {
		errs = append(errs, ValidationError{RuleLowercase, "must include a lowercase letter"})
	}
	if !upper {
		errs = append(errs, ValidationError{RuleUppercase, "must include an uppercase letter"})
	}
	if !digit {
		errs = append(errs, ValidationError{RuleDigit, "must include a digit"})
	}
	if !symbol {
		errs = append(errs, ValidationError{RuleSymbol, "must include a symbol"})
	}

	return errs
}

// JoinValidationErrors renders validation failures as a single line
func JoinValidationErrors(errs []ValidationError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// PasswordStrength scores a stored credential password from 0 to 100
func PasswordStrength(password string) int {
	score := 0
	switch n := len([]rune(password)); {
	case n >= 12:
		score += 40
	case n >= 8:
		score += 20
	}

	var upper, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case !(r >= 'a' && r <= 'z'):
			symbol = true
		}
	}
	if upper {
		score += 20
	}
	if digit {
		score += 20
	}
	if symbol {
		score += 20
	}
	return score
}
