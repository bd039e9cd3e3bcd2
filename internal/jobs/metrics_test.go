package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCounter struct {
	calls map[string]int
}

func (r *recordingCounter) JobProcessed(task string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.calls[task+"/"+status]++
}

func TestTrackerRecordsDurationAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := &recordingCounter{calls: map[string]int{}}
	m := NewMetrics(reg, counter)

	require.NoError(t, m.Track("quotation:view").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("quotation:view").End(boom), boom)

	assert.Equal(t, 1, counter.calls["quotation:view/ok"])
	assert.Equal(t, 1, counter.calls["quotation:view/error"])
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestTrackerNilSafe(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Track("x").End(nil))
	var tr *Tracker
	assert.Error(t, tr.End(errors.New("kept")))
}
