package security

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hitoshi/musicroom/internal/model"
)

// commonPasswordPatterns は部分一致で拒否する典型的な弱いパターン。
var commonPasswordPatterns = []string{
	"password", "123456", "qwerty", "admin", "letmein",
	"welcome", "monkey", "dragon", "master", "sunshine",
}

// PasswordPolicy はパスワード強度の規則。閾値は設定から与える。
type PasswordPolicy struct {
	MinLength     int
	MaxLength     int // bcryptは72バイトを超える入力を扱えない
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPasswordPolicy は既定のパスワードポリシーを返す。
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:    12,
		MaxLength:    72,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// Validate はパスワードがポリシーを満たすか検証する。
// 満たさない項目はすべてまとめて1つのValidationErrorとして返す。
func (p PasswordPolicy) Validate(password string) error {
	var problems []string

	if len(password) < p.MinLength {
		problems = append(problems, fmt.Sprintf("password must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		problems = append(problems, fmt.Sprintf("password must not exceed %d bytes", p.MaxLength))
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if p.RequireUpper && !hasUpper {
		problems = append(problems, "password must contain an uppercase letter")
	}
	if p.RequireLower && !hasLower {
		problems = append(problems, "password must contain a lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		problems = append(problems, "password must contain a digit")
	}
	if p.RequireSymbol && !hasSymbol {
		problems = append(problems, "password must contain a symbol")
	}

	lower := strings.ToLower(password)
	for _, pattern := range commonPasswordPatterns {
		if strings.Contains(lower, pattern) {
			problems = append(problems, "password is too common")
			break
		}
	}

	if len(problems) > 0 {
		return model.NewAggregatedValidationError(problems)
	}
	return nil
}
