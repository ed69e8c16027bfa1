package alert

import (
	"fmt"

	"github.com/mosaico-wp2/agentbench/pkg/store"
)

// FormatMessage renders the notification body for a fired alert.
func FormatMessage(a *store.AlertConfig, value float64) string {
	return fmt.Sprintf(
		"[%s] Alert: %s\nKPI: %s\nValue: %.4f\nThreshold: %.4f\nCondition: %s",
		a.Severity, a.Name, a.KPIName, value, a.ThresholdValue(), a.Condition,
	)
}

// Subject returns the email subject for a fired alert.
func Subject(a *store.AlertConfig) string {
	return "Alert: " + a.Name
}
