package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMasterPassword(t *testing.T) {
	assert.NotEmpty(t, ValidateMasterPassword("weakpass"))
	assert.Empty(t, ValidateMasterPassword("Str0ng!Passw0rd"))
}

func TestValidateMasterPasswordReportsAllRules(t *testing.T) {
	rules := func(errs []ValidationError) []Rule {
		out := make([]Rule, 0, len(errs))
		for _, e := range errs {
			out = append(out, e.Rule)
		}
		return out
	}

	tests := []struct {
		password string
		want     []Rule
	}{
		{"", []Rule{RuleMinLength, RuleLowercase, RuleUppercase, RuleDigit, RuleSymbol}},
		{"weakpass", []Rule{RuleMinLength, RuleUppercase, RuleDigit, RuleSymbol}},
		{"alllowercaseletters", []Rule{RuleUppercase, RuleDigit, RuleSymbol}},
		{"NoDigitsHere!!", []Rule{RuleDigit}},
		{"NoSymbols12345", []Rule{RuleSymbol}},
		{"Sh0rt!", []Rule{RuleMinLength}},
		{"ALLUPPER1234!", []Rule{RuleLowercase}},
	}

	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			assert.Equal(t, tt.want, rules(ValidateMasterPassword(tt.password)))
		})
	}
}

func TestJoinValidationErrors(t *testing.T) {
	msg := JoinValidationErrors(ValidateMasterPassword("NoSymbols12345"))
	assert.Equal(t, "must include a symbol", msg)
}

func TestPasswordStrength(t *testing.T) {
	assert.Equal(t, 0, PasswordStrength("abc"))
	assert.Equal(t, 20, PasswordStrength("abcdefgh"))
	assert.Equal(t, 40, PasswordStrength("abcdefghijkl"))
	assert.Equal(t, 100, PasswordStrength("Str0ng!Passw0rd"))
}
