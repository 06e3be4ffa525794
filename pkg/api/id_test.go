package api

import "testing"

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if !ValidateSessionID(id) {
		t.Errorf("NewSessionID() = %q, want valid session ID", id)
	}
	if id == NewSessionID() {
		t.Error("two session IDs should differ")
	}
}

func TestNewMessageID(t *testing.T) {
	id := NewMessageID()
	if !ValidateMessageID(id) {
		t.Errorf("NewMessageID() = %q, want valid message ID", id)
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "sess_abcdefghijklmnopqrstuvwx", true},
		{"valid digits", "sess_123456789012345678901234", true},
		{"wrong prefix", "msg_abcdefghijklmnopqrstuvwx", false},
		{"too short", "sess_abc", false},
		{"special chars", "sess_abcdefghijklmnopqrstuv!@", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateSessionID(tt.id); got != tt.want {
				t.Errorf("ValidateSessionID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
