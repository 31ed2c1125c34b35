package validation

import "testing"

func TestIsValidUserID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"user-123", true},
		{"USER_9", true},
		{"a", true},
		{"", false},
		{"user 123", false},
		{"user@example", false},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false}, // 65 chars
	}
	for _, tc := range cases {
		if got := IsValidUserID(tc.id); got != tc.want {
			t.Errorf("IsValidUserID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestValidAmount(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"100", true},
		{"0.01", true},
		{"1500.50", true},
		{"0", false},
		{"-10", false},
		{"abc", false},
		{"1.005", false},
		{"", false},
	}
	for _, tc := range cases {
		err := ValidAmount("amount", tc.value)()
		if tc.ok && err != nil {
			t.Errorf("ValidAmount(%q) unexpected error: %v", tc.value, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidAmount(%q) expected error, got nil", tc.value)
		}
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("user_id", ""),
		ValidAmount("amount", "-5"),
	)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(errs))
	}
	if errs.Error() == "" {
		t.Error("expected non-empty error string")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("unexpected sanitized value: %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("expected truncation to abc, got %q", got)
	}
}
