package models

import "testing"

func TestExpiredStatusStaysWithinModeEnum(t *testing.T) {
	tests := []struct {
		name string
		mode SessionMode
		want string
	}{
		{"live falls back to cancelled", ModeLive, string(LiveCancelled)},
		{"mailbox sweeps to expired", ModeMailbox, string(MailboxExpired)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpiredStatus(tt.mode)
			if got != tt.want {
				t.Errorf("ExpiredStatus(%s) = %q, want %q", tt.mode, got, tt.want)
			}
			// The swept status must be terminal under its own enumeration.
			session := &TradeSession{Mode: tt.mode, Status: got}
			if !session.State().Terminal() {
				t.Errorf("status %q is not terminal in mode %s", got, tt.mode)
			}
		})
	}
}
