package domain

import "testing"

func TestNewShipSetsDeadlineFromTTL(t *testing.T) {
	ship := NewShip(Spec{}, 60, 2)
	if ship.ID == "" {
		t.Fatal("expected non-empty id")
	}
	if ship.Status != StatusStarting {
		t.Fatalf("status = %v, want Starting", ship.Status)
	}
	if !ship.Deadline.After(ship.CreatedAt) {
		t.Fatal("deadline should be after created_at")
	}
	if ship.MaxSessionNum != 2 {
		t.Fatalf("max session num = %d, want 2", ship.MaxSessionNum)
	}
}

func TestLiveExcludesStoppedOnly(t *testing.T) {
	for _, status := range []Status{StatusStarting, StatusRunning} {
		s := Ship{Status: status}
		if !s.Live() {
			t.Errorf("status %v should be live", status)
		}
	}
	if (Ship{Status: StatusStopped}).Live() {
		t.Fatal("stopped ship should not be live")
	}
}
