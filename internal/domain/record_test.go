package domain

import "testing"

func TestNewRecord_Defaults(t *testing.T) {
	r := NewRecord(42)

	if r.UserID != 42 {
		t.Fatalf("UserID = %d, want 42", r.UserID)
	}
	if r.Confirmed || r.Confirming || r.Refused {
		t.Fatalf("fresh record must have all flags false: %+v", r)
	}
	if r.LinkedAccount != NoLinkedAccount {
		t.Fatalf("LinkedAccount = %d, want %d", r.LinkedAccount, NoLinkedAccount)
	}
	if r.ConfirmedTime != 0 {
		t.Fatalf("ConfirmedTime = %d, want 0", r.ConfirmedTime)
	}
	if r.RestrictedUntil != NotRestricted {
		t.Fatalf("RestrictedUntil = %d, want %d", r.RestrictedUntil, NotRestricted)
	}
	if r.WhitelistReasons == nil || len(r.WhitelistReasons) != 0 {
		t.Fatalf("WhitelistReasons = %v, want empty map", r.WhitelistReasons)
	}
}

func TestRecord_WhitelistedIn(t *testing.T) {
	r := NewRecord(7)
	r.WhitelistReasons[100] = "trusted"
	r.WhitelistReasons[200] = ""

	if !r.WhitelistedIn(100) {
		t.Errorf("WhitelistedIn(100) = false, want true")
	}
	if r.WhitelistedIn(200) {
		t.Errorf("WhitelistedIn(200) = true for empty reason, want false")
	}
	if r.WhitelistedIn(300) {
		t.Errorf("WhitelistedIn(300) = true for absent group, want false")
	}
}

func TestRecord_Exempt(t *testing.T) {
	r := NewRecord(7)
	r.WhitelistReasons[100] = "trusted"

	if !r.Exempt(100) {
		t.Errorf("whitelisted user should be exempt in its group")
	}
	if r.Exempt(200) {
		t.Errorf("unconfirmed user must not be exempt outside whitelisted group")
	}

	r.Confirmed = true
	if !r.Exempt(200) {
		t.Errorf("confirmed user should be exempt in every group")
	}
}

func TestRecord_Clone_IsDeep(t *testing.T) {
	r := NewRecord(9)
	r.WhitelistReasons[1] = "a"

	c := r.Clone()
	c.WhitelistReasons[1] = "b"
	c.Confirmed = true

	if r.WhitelistReasons[1] != "a" {
		t.Fatalf("mutating clone leaked into original map")
	}
	if r.Confirmed {
		t.Fatalf("mutating clone leaked into original flags")
	}
}
