package telemetry

import (
	"context"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Registration: checked via Describe() because Gather() omits *Vec metrics
// that have no observed label combination yet.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"keys_issued_total", KeysIssuedTotal},
		{"key_redemptions_total", KeyRedemptionsTotal},
		{"whitelist_changes_total", WhitelistChangesTotal},
		{"keys_swept_total", KeysSweptTotal},
		{"db_open_connections", DBOpenConnections},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_KeyRedemptionsTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"outcome": OutcomeExpired}
	before := counterValue(t, KeyRedemptionsTotal, labels)
	KeyRedemptionsTotal.WithLabelValues(OutcomeExpired).Inc()
	after := counterValue(t, KeyRedemptionsTotal, labels)
	if after-before < 1 {
		t.Errorf("KeyRedemptionsTotal did not increase (before=%.0f after=%.0f)", before, after)
	}
}

func TestMetrics_KeysIssuedTotal_CanBeAdded(t *testing.T) {
	labels := prometheus.Labels{"product": "metrics-test"}
	before := counterValue(t, KeysIssuedTotal, labels)
	KeysIssuedTotal.WithLabelValues("metrics-test").Add(3)
	after := counterValue(t, KeysIssuedTotal, labels)
	if after-before != 3 {
		t.Errorf("KeysIssuedTotal delta = %.0f, want 3", after-before)
	}
}

func TestMetrics_KeysSweptTotal_CanBeAdded(t *testing.T) {
	before := plainCounterValue(t, KeysSweptTotal)
	KeysSweptTotal.Add(2)
	after := plainCounterValue(t, KeysSweptTotal)
	if after-before != 2 {
		t.Errorf("KeysSweptTotal delta = %.0f, want 2", after-before)
	}
}

func TestRecordDBStats_SetsGauge(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	DBOpenConnections.Set(99)
	recordDBStats(db)

	var m dto.Metric
	if err := DBOpenConnections.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetGauge().GetValue(); got == 99 {
		t.Error("gauge was not refreshed from pool stats")
	}
}

func TestStartDBStatsCollector_StopsOnCancel(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	StartDBStatsCollector(ctx, db)
	cancel()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// counterValue reads the current value of a CounterVec for the given label set.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 20)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

// plainCounterValue reads the value of a plain (non-vec) Counter.
func plainCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		return dm.GetCounter().GetValue()
	}
	return 0
}

// labelsMatch returns true when all entries in want appear in got.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
