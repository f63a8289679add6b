package tracker_test

import (
	"testing"
	"time"

	"github.com/vsariola/shifter/tracker"
)

func TestAlertsReplaceByName(t *testing.T) {
	var a tracker.Alerts
	a.AddNamed("synth", "first", tracker.Info)
	a.AddNamed("synth", "second", tracker.Warning)
	a.Add("anonymous", tracker.Info)
	count := 0
	for _, alert := range a.Iterate {
		count++
		if alert.Name == "synth" && alert.Message != "second" {
			t.Fatalf("named alert not replaced: %q", alert.Message)
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 alerts, got %d", count)
	}
}

func TestAlertsTopAndExpiry(t *testing.T) {
	var a tracker.Alerts
	a.AddAlert(tracker.Alert{Message: "err", Priority: tracker.Error, Duration: time.Second})
	a.AddAlert(tracker.Alert{Message: "info", Priority: tracker.Info, Duration: 5 * time.Second})
	if top, ok := a.Top(); !ok || top.Message != "err" {
		t.Fatalf("expected the error on top, got %+v", top)
	}
	if !a.Update(2 * time.Second) {
		t.Fatalf("expected alerts to remain")
	}
	if top, _ := a.Top(); top.Message != "info" {
		t.Fatalf("expired alert still on top: %+v", top)
	}
	if a.Update(5 * time.Second) {
		t.Fatalf("expected all alerts to expire")
	}
	if _, ok := a.Top(); ok {
		t.Fatalf("expected no alerts")
	}
}
