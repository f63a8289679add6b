package tracker

import "time"

type (
	// Alerts is the list of status messages shown to the user. It is owned
	// by the GUI thread.
	Alerts struct {
		alerts []Alert
	}

	Alert struct {
		Name     string // alerts with the same non-empty name replace each other
		Priority AlertPriority
		Message  string
		Duration time.Duration
	}

	AlertPriority int
)

const (
	Info AlertPriority = iota
	Warning
	Error
)

const defaultAlertDuration = 3 * time.Second

func (p AlertPriority) String() string {
	switch p {
	case Warning:
		return "warning"
	case Error:
		return "error"
	}
	return "info"
}

// Add shows a message with the default duration.
func (m *Alerts) Add(message string, priority AlertPriority) {
	m.AddAlert(Alert{Priority: priority, Message: message, Duration: defaultAlertDuration})
}

// AddNamed shows a message, replacing any earlier alert with the same name.
func (m *Alerts) AddNamed(name, message string, priority AlertPriority) {
	m.AddAlert(Alert{Name: name, Priority: priority, Message: message, Duration: defaultAlertDuration})
}

func (m *Alerts) AddAlert(a Alert) {
	if a.Name != "" {
		for i := range m.alerts {
			if m.alerts[i].Name == a.Name {
				m.alerts[i] = a
				return
			}
		}
	}
	m.alerts = append(m.alerts, a)
}

// Update ages the alerts by d and drops the expired ones. Returns true if
// there are alerts left.
func (m *Alerts) Update(d time.Duration) bool {
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		a.Duration -= d
		if a.Duration > 0 {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
	return len(m.alerts) > 0
}

// Iterate yields the alerts from oldest to newest.
func (m *Alerts) Iterate(yield func(index int, alert Alert) bool) {
	for i, a := range m.alerts {
		if !yield(i, a) {
			return
		}
	}
}

// Top returns the most severe alert, the newest one among equals.
func (m *Alerts) Top() (Alert, bool) {
	var ret Alert
	found := false
	for _, a := range m.alerts {
		if !found || a.Priority >= ret.Priority {
			ret, found = a, true
		}
	}
	return ret, found
}
