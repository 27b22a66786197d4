package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestWebhookMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewWebhookMetrics(reg)

	metrics.IncEvent("invoice.paid", WebhookOutcomeProcessed)
	metrics.IncEvent("invoice.paid", WebhookOutcomeProcessed)
	metrics.IncEvent("invoice.paid", WebhookOutcomeSkipped)
	metrics.ObserveDuration("invoice.paid", 25*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	mf := findMetricFamily(mfs, "webhook_events_total")
	if mf == nil {
		t.Fatal("webhook_events_total not found")
	}
	var processed, skipped float64
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), "outcome", WebhookOutcomeProcessed) {
			processed = metric.GetCounter().GetValue()
		}
		if matchesLabel(metric.GetLabel(), "outcome", WebhookOutcomeSkipped) {
			skipped = metric.GetCounter().GetValue()
		}
	}
	if processed != 2 {
		t.Fatalf("expected processed=2, got %f", processed)
	}
	if skipped != 1 {
		t.Fatalf("expected skipped=1, got %f", skipped)
	}

	if got, err := fetchHistogramSum(mfs, "webhook_event_duration_seconds", "event_type", "invoice.paid"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilWebhookMetricsAreSafe(t *testing.T) {
	var metrics *WebhookMetrics
	metrics.IncEvent("invoice.paid", WebhookOutcomeFailed)
	metrics.ObserveDuration("invoice.paid", time.Second)
}
