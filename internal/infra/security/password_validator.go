package security

import (
	"fmt"
	"unicode"

	"github.com/arklim/superauth/internal/core/domain"
)

const (
	defaultMinPasswordLength = 8
	defaultMinUniqueChars    = 8
)

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
}

// Error implements error for PasswordValidationError.
func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordRule validates a password according to a specific policy rule.
type PasswordRule interface {
	Code() string
	Message() string
	Validate(password string) error
}

type passwordRule struct {
	code    string
	message string
	check   func(password string) bool
}

func (r passwordRule) Code() string    { return r.code }
func (r passwordRule) Message() string { return r.message }

func (r passwordRule) Validate(password string) error {
	if r.check(password) {
		return nil
	}
	return &PasswordValidationError{Code: r.code, Message: r.message}
}

// NewPasswordRule adapts a predicate into a PasswordRule.
func NewPasswordRule(code, message string, check func(password string) bool) PasswordRule {
	return passwordRule{code: code, message: message, check: check}
}

// PasswordPolicy evaluates every rule and reports each outcome; it does not stop at the first failure.
type PasswordPolicy struct {
	rules []PasswordRule
}

// NewPasswordPolicy constructs a policy with the provided rules.
func NewPasswordPolicy(rules ...PasswordRule) *PasswordPolicy {
	copied := make([]PasswordRule, len(rules))
	copy(copied, rules)
	return &PasswordPolicy{rules: copied}
}

// DefaultPasswordPolicy requires 8 characters, all four character classes and 8 distinct characters.
func DefaultPasswordPolicy() *PasswordPolicy {
	return NewPasswordPolicy(
		MinLengthRule(defaultMinPasswordLength),
		RequireLowercaseRule(),
		RequireUppercaseRule(),
		RequireDigitRule(),
		RequireSymbolRule(),
		MinUniqueCharsRule(defaultMinUniqueChars),
	)
}

// Evaluate reports pass/fail for each rule.
func (p *PasswordPolicy) Evaluate(password string) []domain.PasswordRequirement {
	results := make([]domain.PasswordRequirement, 0, len(p.rules))
	for _, rule := range p.rules {
		results = append(results, domain.PasswordRequirement{
			Code:    rule.Code(),
			Message: rule.Message(),
			Passed:  rule.Validate(password) == nil,
		})
	}
	return results
}

// Validate returns the first violation, if any.
func (p *PasswordPolicy) Validate(password string) error {
	for _, rule := range p.rules {
		if err := rule.Validate(password); err != nil {
			return err
		}
	}
	return nil
}

// MinLengthRule ensures the password has at least min characters.
func MinLengthRule(min int) PasswordRule {
	return NewPasswordRule(
		"min_length",
		fmt.Sprintf("password must be at least %d characters long", min),
		func(password string) bool { return len([]rune(password)) >= min },
	)
}

// MinUniqueCharsRule ensures the password has at least min distinct characters.
func MinUniqueCharsRule(min int) PasswordRule {
	return NewPasswordRule(
		"unique_chars",
		fmt.Sprintf("password must contain at least %d different characters", min),
		func(password string) bool { return distinctRunes(password) >= min },
	)
}

// RequireLowercaseRule ensures the password contains a lowercase letter.
func RequireLowercaseRule() PasswordRule {
	return NewPasswordRule("lowercase", "password must include a lowercase letter", func(password string) bool {
		return containsRune(password, unicode.IsLower)
	})
}

// RequireUppercaseRule ensures the password contains an uppercase letter.
func RequireUppercaseRule() PasswordRule {
	return NewPasswordRule("uppercase", "password must include an uppercase letter", func(password string) bool {
		return containsRune(password, unicode.IsUpper)
	})
}

// RequireDigitRule ensures the password contains at least one digit.
func RequireDigitRule() PasswordRule {
	return NewPasswordRule("digit", "password must include at least one digit", func(password string) bool {
		return containsRune(password, unicode.IsDigit)
	})
}

// RequireSymbolRule ensures the password contains at least one symbol.
func RequireSymbolRule() PasswordRule {
	return NewPasswordRule("symbol", "password must include at least one symbol", func(password string) bool {
		return containsRune(password, isSymbol)
	})
}

func isSymbol(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) && unicode.IsPrint(r)
}

func containsRune(password string, match func(rune) bool) bool {
	for _, r := range password {
		if match(r) {
			return true
		}
	}
	return false
}

func distinctRunes(password string) int {
	seen := make(map[rune]struct{})
	for _, r := range password {
		seen[r] = struct{}{}
	}
	return len(seen)
}
