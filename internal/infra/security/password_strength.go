package security

import (
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"

	"github.com/arklim/superauth/internal/core/domain"
	"github.com/arklim/superauth/internal/core/port"
)

var commonPasswords = []string{
	"password", "123456", "12345678", "123456789", "qwerty", "abc123", "111111",
	"letmein", "welcome", "monkey", "dragon", "master", "admin", "login",
	"iloveyou", "sunshine", "princess", "football", "baseball", "shadow",
	"superman", "trustno1", "passw0rd", "starwars", "whatever",
}

var orderedSequences = []string{
	"abcdefghijklmnopqrstuvwxyz",
	"0123456789",
}

var keyboardRows = []string{
	"qwertyuiop",
	"asdfghjkl",
	"zxcvbnm",
	"1234567890",
}

// PasswordStrengthAnalyzer scores passwords without I/O.
type PasswordStrengthAnalyzer struct {
	policy *PasswordPolicy
}

// NewPasswordStrengthAnalyzer constructs an analyzer; a nil policy uses DefaultPasswordPolicy.
func NewPasswordStrengthAnalyzer(policy *PasswordPolicy) *PasswordStrengthAnalyzer {
	if policy == nil {
		policy = DefaultPasswordPolicy()
	}
	return &PasswordStrengthAnalyzer{policy: policy}
}

// Analyze scores the password and evaluates the requirement policy independently.
func (a *PasswordStrengthAnalyzer) Analyze(password string) domain.PasswordAnalysis {
	score, penalties := scorePassword(password)

	requirements := a.policy.Evaluate(password)
	meets := true
	for _, req := range requirements {
		if !req.Passed {
			meets = false
		}
	}

	return domain.PasswordAnalysis{
		Score:           score,
		Strength:        domain.PasswordStrengthFor(score),
		Requirements:    requirements,
		MeetsPolicy:     meets,
		Penalties:       penalties,
		Recommendations: recommendations(requirements, penalties),
		Estimate:        estimate(password),
	}
}

// AnalyzePassword runs the default analyzer.
func AnalyzePassword(password string) domain.PasswordAnalysis {
	return NewPasswordStrengthAnalyzer(nil).Analyze(password)
}

func scorePassword(password string) (int, []string) {
	score := 0
	length := len([]rune(password))

	if length >= 8 {
		score += 20
	}
	if length >= 12 {
		score += 10
	}
	if length >= 16 {
		score += 10
	}

	for _, present := range []bool{
		containsRune(password, unicode.IsLower),
		containsRune(password, unicode.IsUpper),
		containsRune(password, unicode.IsDigit),
		containsRune(password, isSymbol),
	} {
		if present {
			score += 10
		}
	}

	score += min(distinctRunes(password)*2, 20)

	var penalties []string
	lower := strings.ToLower(password)

	switch run := longestRepeat(password); {
	case run >= 4:
		score -= 15
		penalties = append(penalties, "repeated_characters")
	case run == 3:
		score -= 10
		penalties = append(penalties, "repeated_characters")
	}

	seqSources := append(append([]string{}, orderedSequences...), keyboardRows...)
	switch seq := longestSequence(lower, seqSources); {
	case seq >= 4:
		score -= 20
		penalties = append(penalties, "sequential_characters")
	case seq == 3:
		score -= 15
		penalties = append(penalties, "sequential_characters")
	}

	switch {
	case isCommonPassword(lower):
		score -= 30
		penalties = append(penalties, "common_password")
	case containsCommonPassword(lower):
		score -= 20
		penalties = append(penalties, "contains_common_password")
	}

	if longestSequence(lower, keyboardRows) >= 4 {
		score -= 25
		penalties = append(penalties, "keyboard_pattern")
	}

	return clamp(score, 0, 100), penalties
}

// longestRepeat returns the longest run of one identical character.
func longestRepeat(password string) int {
	longest, current := 0, 0
	var prev rune
	for i, r := range []rune(password) {
		if i > 0 && r == prev {
			current++
		} else {
			current = 1
		}
		prev = r
		longest = max(longest, current)
	}
	return longest
}

// longestSequence returns the longest substring of password that appears, forwards
// or backwards, in any source. Runs shorter than 3 report 0.
func longestSequence(password string, sources []string) int {
	runes := []rune(password)
	longest := 0
	for start := 0; start < len(runes); start++ {
		for end := start + 3; end <= len(runes); end++ {
			candidate := string(runes[start:end])
			if !inAnySource(candidate, sources) {
				break
			}
			longest = max(longest, end-start)
		}
	}
	return longest
}

func inAnySource(candidate string, sources []string) bool {
	reversed := reverse(candidate)
	for _, source := range sources {
		if strings.Contains(source, candidate) || strings.Contains(source, reversed) {
			return true
		}
	}
	return false
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func isCommonPassword(lower string) bool {
	for _, common := range commonPasswords {
		if lower == common {
			return true
		}
	}
	return false
}

func containsCommonPassword(lower string) bool {
	for _, common := range commonPasswords {
		if len(common) >= 4 && strings.Contains(lower, common) {
			return true
		}
	}
	return false
}

func recommendations(requirements []domain.PasswordRequirement, penalties []string) []string {
	var out []string
	for _, req := range requirements {
		if req.Passed {
			continue
		}
		switch req.Code {
		case "min_length":
			out = append(out, "Use at least 8 characters; 12 or more is better")
		case "lowercase":
			out = append(out, "Add lowercase letters")
		case "uppercase":
			out = append(out, "Add uppercase letters")
		case "digit":
			out = append(out, "Add numbers")
		case "symbol":
			out = append(out, "Add symbols such as ! @ # $")
		case "unique_chars":
			out = append(out, "Use more different characters")
		default:
			out = append(out, req.Message)
		}
	}
	for _, penalty := range penalties {
		switch penalty {
		case "repeated_characters":
			out = append(out, "Avoid repeating the same character")
		case "sequential_characters":
			out = append(out, "Avoid sequences like abc or 123")
		case "common_password", "contains_common_password":
			out = append(out, "Avoid common passwords")
		case "keyboard_pattern":
			out = append(out, "Avoid keyboard patterns like qwerty")
		}
	}
	return out
}

func estimate(password string) domain.PasswordEstimate {
	if password == "" {
		return domain.PasswordEstimate{}
	}
	result := zxcvbn.PasswordStrength(password, nil)
	return domain.PasswordEstimate{
		Score:     result.Score,
		Entropy:   result.Entropy,
		CrackTime: result.CrackTimeDisplay,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var _ port.PasswordAnalyzer = (*PasswordStrengthAnalyzer)(nil)
