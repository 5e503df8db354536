package app

import (
	"strings"

	"gswapcopy/clients/notifier"
	"gswapcopy/internal/domain"
	"gswapcopy/internal/observability"
)

// shortID truncates long IDs for readable logging.
func shortID(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}

// nz returns fallback if s is empty or whitespace-only.
func nz(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// difference returns elements in a that are not in b.
func difference(a, b []string) []string {
	bSet := make(map[string]struct{}, len(b))
	for _, v := range b {
		bSet[v] = struct{}{}
	}

	var result []string
	for _, v := range a {
		if _, exists := bSet[v]; !exists {
			result = append(result, v)
		}
	}
	return result
}

// targetAddresses returns the normalized addresses of the enabled targets.
func targetAddresses(targets []domain.TargetWallet) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if !t.Enabled {
			continue
		}
		if a := domain.NormalizeAddress(t.Address); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// lastN returns the final n elements of s.
func lastN[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// countingNotifier counts every alert in the metrics before forwarding it.
type countingNotifier struct {
	next    notifier.Notifier
	metrics *observability.Metrics
}

func (c countingNotifier) SendAlert(alert notifier.Alert) {
	c.metrics.RecordAlert(string(alert.Source), nz(alert.Kind, "unknown"))
	c.next.SendAlert(alert)
}

func (c countingNotifier) Close() error {
	return c.next.Close()
}
