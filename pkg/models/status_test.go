package models

import "testing"

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusNew, StatusClassifying, true},
		{StatusNew, StatusDrafting, false},
		{StatusClassifying, StatusDrafting, true},
		{StatusClassifying, StatusError, true},
		{StatusDrafting, StatusValidating, true},
		{StatusValidating, StatusReadyToSend, true},
		{StatusValidating, StatusNeedsRedraft, true},
		{StatusValidating, StatusSent, false},
		{StatusNeedsRedraft, StatusDrafting, true},
		{StatusNeedsRedraft, StatusEscalate, true},
		{StatusReadyToSend, StatusSent, false},
		{StatusReadyToSend, StatusSending, true},
		{StatusEscalate, StatusSending, true},
		{StatusNeedsRedraft, StatusSending, true},
		{StatusSending, StatusSent, true},
		{StatusSending, StatusError, true},
		{StatusSending, StatusReadyToSend, false},
		{StatusEscalate, StatusNew, false},
		{StatusError, StatusNew, true},
		{StatusSent, StatusNew, false},
		{StatusSent, StatusDrafting, false},
		{StatusSent, StatusError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusesAreValid(t *testing.T) {
	for _, s := range Statuses() {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("archived").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestMatchedIntentsScanNull(t *testing.T) {
	var m MatchedIntents
	if err := m.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if err := m.Scan(`[{"intent_id":7,"name":"pricing","confidence":0.9}]`); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(m) != 1 || m[0].IntentID != 7 || m[0].Name != "pricing" {
		t.Errorf("Scan() = %+v", m)
	}
}
