// Package validation содержит проверки входных данных карт, кредитов и пользователей.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mmeshcher/cardbook/internal/model"
)

const (
	maxNameLength     = 100
	maxUsernameLength = 50
	minHashLength     = 10
	maxAmountScale    = 2
)

// ErrValidationFailed является базовой ошибкой для всех ошибок валидации.
var ErrValidationFailed = errors.New("validation failed")

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// Error описывает нарушение правила для конкретного поля.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidationFailed, e.Field, e.Msg)
}

// Is позволяет сравнивать ошибку с ErrValidationFailed через errors.Is.
func (e *Error) Is(target error) bool {
	return target == ErrValidationFailed
}

func fail(field, msg string) error {
	return &Error{Field: field, Msg: msg}
}

// Credit проверяет поля кредита.
func Credit(c model.Credit) error {
	if strings.TrimSpace(c.Name) == "" {
		return fail("name", "must not be empty")
	}
	if len([]rune(c.Name)) > maxNameLength {
		return fail("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	if strings.TrimSpace(c.Category) == "" {
		return fail("category", "must not be empty")
	}
	if strings.TrimSpace(c.FrequencyLabel) == "" {
		return fail("frequency", "must not be empty")
	}
	if !c.Frequency.Valid() {
		return fail("frequencyKind", fmt.Sprintf("unknown frequency %q", c.Frequency))
	}
	if c.Amount.IsNegative() {
		return fail("amount", "must not be negative")
	}
	// Суммы хранятся в центах.
	if !c.Amount.Equal(c.Amount.Round(maxAmountScale)) {
		return fail("amount", fmt.Sprintf("must have at most %d decimal places", maxAmountScale))
	}
	if !IsCurrencyCode(c.Currency) {
		return fail("currency", "must be a 3-letter code")
	}
	if !c.ExpirationDate.After(c.RenewalDate) {
		return fail("expirationDate", "must be after renewal date")
	}
	if c.IsUsed != (c.UsedAt != nil) {
		return fail("usedAt", "must be set exactly when credit is used")
	}
	return nil
}

// Card проверяет поля карты и всех её кредитов.
func Card(c model.Card) error {
	if strings.TrimSpace(c.CardType) == "" {
		return fail("cardType", "must not be empty")
	}
	if strings.TrimSpace(c.Nickname) == "" {
		return fail("nickname", "must not be empty")
	}
	if len([]rune(c.Nickname)) > maxNameLength {
		return fail("nickname", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fail("issuer", "must not be empty")
	}

	for i, cr := range c.Credits {
		if err := Credit(cr); err != nil {
			var ve *Error
			if errors.As(err, &ve) {
				return fail(fmt.Sprintf("credits[%d].%s", i, ve.Field), ve.Msg)
			}
			return err
		}
	}
	return nil
}

// User проверяет имя пользователя и хеш пароля.
func User(u model.User) error {
	if u.Username == "" {
		return fail("username", "must not be empty")
	}
	if len(u.Username) > maxUsernameLength {
		return fail("username", fmt.Sprintf("must be at most %d characters", maxUsernameLength))
	}
	if !usernamePattern.MatchString(u.Username) {
		return fail("username", "may contain only letters, digits and hyphens")
	}
	if len(u.PasswordHash) < minHashLength {
		return fail("passwordHash", "is too short")
	}
	return nil
}

// IsCurrencyCode сообщает, что code состоит ровно из трёх латинских букв.
func IsCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, ch := range code {
		if (ch < 'A' || ch > 'Z') && (ch < 'a' || ch > 'z') {
			return false
		}
	}
	return true
}
