package security

import (
	"errors"
	"testing"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

func TestDefaultPasswordValidatorSuccess(t *testing.T) {
	validator := DefaultPasswordValidator()

	password := "Tr0ub4dor&Obscure#91"
	if strength := zxcvbn.PasswordStrength(password, nil); strength.Score < defaultMinZxcvbnScore {
		t.Fatalf("test password unexpectedly weak: score=%d", strength.Score)
	}
	if err := validator.Validate(password); err != nil {
		t.Fatalf("expected password to pass validation, got %v", err)
	}
}

func TestDefaultPasswordValidatorViolations(t *testing.T) {
	validator := DefaultPasswordValidator()

	assertViolation := func(password, expectedCode string) {
		t.Helper()
		err := validator.Validate(password)
		if err == nil {
			t.Fatalf("expected validation error for %s", expectedCode)
		}
		var vErr *PasswordValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected PasswordValidationError, got %T", err)
		}
		if vErr.Code != expectedCode {
			t.Fatalf("expected %s code, got %s", expectedCode, vErr.Code)
		}
	}

	assertViolation("Ab1!", "min_length")
	assertViolation("lowercaseonly", "character_classes")
	assertViolation("Password1!", "weak_password")
}

func TestMinStrengthScoreRulePenalizesUserInputs(t *testing.T) {
	rule := MinStrengthScoreRule(3, "jdoe", "jdoe@example.com")

	if err := rule.Validate("jdoe2024!"); err == nil {
		t.Fatal("expected password derived from user inputs to be rejected")
	}
}

func TestCustomPasswordValidatorRuleOrder(t *testing.T) {
	validator := NewPasswordValidator(
		MinLengthRule(4),
		RequireCharacterClassesRule(2),
	)

	if err := validator.Validate("ab"); err == nil {
		t.Fatal("expected min_length violation")
	}
	if err := validator.Validate("abcdef"); err == nil {
		t.Fatal("expected character_classes violation")
	}
	if err := validator.Validate("abcde9"); err != nil {
		t.Fatalf("expected password to pass, got %v", err)
	}
}
