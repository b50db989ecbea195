package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/nbutton23/zxcvbn-go"
)

const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_{|}~`"

// ErrWeakPassphrase wraps every policy rejection.
var ErrWeakPassphrase = errors.New("passphrase does not meet policy")

// ValidateOptions tunes ValidateMasterPasswordAdvanced.
type ValidateOptions struct {
	// MinZXCVBNScore is the minimum zxcvbn score (0-4). Zero disables the check.
	MinZXCVBNScore int
	// UserInputs are penalised by zxcvbn (vault path, user name, ...).
	UserInputs []string
	// EnableHIBP queries the Pwned Passwords range API.
	EnableHIBP bool
	// HIBP overrides the range client; nil uses the public API.
	HIBP *HIBPClient
}

// DefaultValidateOptions enables the strength score and leaves HIBP off.
func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{MinZXCVBNScore: 3}
}

// ValidateMasterPassword applies the master password composition rules.
func ValidateMasterPassword(pw string) error {
	if len(pw) < 12 {
		return fmt.Errorf("%w: must be at least 12 characters long", ErrWeakPassphrase)
	}
	if !hasUpper(pw) {
		return fmt.Errorf("%w: must include an uppercase letter", ErrWeakPassphrase)
	}
	if !hasDigit(pw) {
		return fmt.Errorf("%w: must include a digit", ErrWeakPassphrase)
	}
	if !hasSpecial(pw) {
		return fmt.Errorf("%w: must include a special character", ErrWeakPassphrase)
	}
	return nil
}

// Strength returns the zxcvbn score (0-4) for pw.
func Strength(pw string, userInputs []string) int {
	return zxcvbn.PasswordStrength(pw, userInputs).Score
}

// ValidateMasterPasswordAdvanced runs the composition rules, then the zxcvbn
// score gate, then (optionally) a breach lookup. It is applied when a vault is
// created or its passphrase changes, never on unlock.
func ValidateMasterPasswordAdvanced(ctx context.Context, pw string, opts ValidateOptions) error {
	if err := ValidateMasterPassword(pw); err != nil {
		return err
	}

	if opts.MinZXCVBNScore > 0 {
		if score := Strength(pw, opts.UserInputs); score < opts.MinZXCVBNScore {
			return fmt.Errorf("%w: strength score %d below required %d", ErrWeakPassphrase, score, opts.MinZXCVBNScore)
		}
	}

	if opts.EnableHIBP {
		client := opts.HIBP
		if client == nil {
			client = DefaultHIBPClient()
		}
		res, err := client.Check(ctx, pw)
		if err != nil {
			return fmt.Errorf("breach lookup: %w", err)
		}
		if res.Found {
			return fmt.Errorf("%w: appears in %d known breaches", ErrWeakPassphrase, res.Count)
		}
	}
	return nil
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func hasSpecial(s string) bool {
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			return true
		}
	}
	return false
}
