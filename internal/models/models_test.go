package models

import "testing"

func TestConversationStateIsValid(t *testing.T) {
	valid := []ConversationState{StateNew, StateEngaged, StateBooked, StateOptedOut, StateUnresponsive}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if ConversationState("archived").IsValid() {
		t.Errorf("expected unknown state to be invalid")
	}
	if ConversationState("").IsValid() {
		t.Errorf("expected empty state to be invalid")
	}
}

func TestConversationStateIsTerminal(t *testing.T) {
	if !StateBooked.IsTerminal() {
		t.Errorf("booked should be terminal")
	}
	if !StateOptedOut.IsTerminal() {
		t.Errorf("opted_out should be terminal")
	}
	for _, s := range []ConversationState{StateNew, StateEngaged, StateUnresponsive} {
		if s.IsTerminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+15551234567", "+15551234567", false},
		{"+1 (555) 123-4567", "+15551234567", false},
		{"5551234567", "5551234567", false},
		{"  +44 20 7946 0958 ", "+442079460958", false},
		{"", "", true},
		{"12345", "", true},
		{"abc", "", true},
	}
	for _, c := range cases {
		got, err := CanonicalizePhone(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("CanonicalizePhone(%q): expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("CanonicalizePhone(%q): unexpected error %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("CanonicalizePhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLeadValidate(t *testing.T) {
	lead := Lead{Name: "Jamie Rivera", PhoneNumber: "+15551234567"}
	if err := lead.Validate(); err != nil {
		t.Fatalf("valid lead rejected: %v", err)
	}

	lead.Name = ""
	if err := lead.Validate(); err != ErrEmptyName {
		t.Errorf("expected ErrEmptyName, got %v", err)
	}

	lead.Name = "Jamie"
	lead.PhoneNumber = "123"
	if err := lead.Validate(); err != ErrInvalidPhone {
		t.Errorf("expected ErrInvalidPhone, got %v", err)
	}
}
