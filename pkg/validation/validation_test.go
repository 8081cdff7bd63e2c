package validation

import "testing"

func TestValidateEmail(t *testing.T) {
	cases := []struct {
		email string
		valid bool
	}{
		{"student@example.edu", true},
		{"first.last+tag@cs.example.edu", true},
		{"no-at-sign", false},
		{"@example.edu", false},
		{"student@", false},
		{"student@nodot", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidateEmail(tc.email); got != tc.valid {
			t.Errorf("ValidateEmail(%q) = %v, want %v", tc.email, got, tc.valid)
		}
	}
}

func TestEmailDomain(t *testing.T) {
	if got := EmailDomain("Student@CS.Example.EDU"); got != "cs.example.edu" {
		t.Errorf("expected lowercase domain, got %q", got)
	}
	if got := EmailDomain("not-an-email"); got != "" {
		t.Errorf("expected empty domain for invalid input, got %q", got)
	}
}

func TestDomainAllowed(t *testing.T) {
	allowed := []string{"example.edu", "partner.ac.uk"}

	cases := []struct {
		email string
		want  bool
	}{
		{"a@example.edu", true},
		{"a@cs.example.edu", true}, // subdomain of an allowed domain
		{"a@partner.ac.uk", true},
		{"a@evilexample.edu", false}, // suffix without a dot boundary
		{"a@example.edu.attacker.com", false},
		{"a@other.edu", false},
		{"no-at-sign", false},
	}
	for _, tc := range cases {
		if got := DomainAllowed(tc.email, allowed); got != tc.want {
			t.Errorf("DomainAllowed(%q) = %v, want %v", tc.email, got, tc.want)
		}
	}
}
