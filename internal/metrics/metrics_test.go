package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.ObserveApplication("linkedin", "completed", 40*time.Second)
	r.ObserveApplication("linkedin", "completed", 20*time.Second)
	r.ObserveApplication("linkedin", "failed", time.Second)
	r.ObserveSkip("linkedin", "external")
	r.ObserveWatchdog("linkedin")
	r.ObserveRun("linkedin", "completed")
	r.AddAnswers(map[string]int{"rule": 3, "oracle": 0})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.applicationsTotal.WithLabelValues("linkedin", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.applicationsTotal.WithLabelValues("linkedin", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.skippedTotal.WithLabelValues("linkedin", "external")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.watchdogTotal.WithLabelValues("linkedin")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.answersTotal.WithLabelValues("rule")))

	expected := `
# HELP autoapply_runs_total Finished runs by site and final status
# TYPE autoapply_runs_total counter
autoapply_runs_total{site="linkedin",status="completed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "autoapply_runs_total"))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveApplication("indeed", "completed", time.Second)
		r.ObserveSkip("indeed", "filtered")
		r.ObserveWatchdog("indeed")
		r.ObserveRun("indeed", "stopped")
		r.AddAnswers(map[string]int{"cache": 1})
	})
}
