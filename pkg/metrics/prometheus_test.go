package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordLLMCall("openai", "success", 1, time.Second)
		r.RecordLLMRetry("openai")
		r.RecordLLMTokens("openai", 10)
		r.RecordMemory("OBSERVATION")
		r.RecordRetrieval(time.Millisecond)
		r.RecordReflection(5, 0, nil)
	})
}

func TestRecorderCounters(t *testing.T) {
	r := NewRecorder(DefaultConfig())

	r.RecordLLMCall("anthropic", "retryable", 5, 2*time.Second)
	r.RecordLLMRetry("anthropic")
	r.RecordLLMRetry("anthropic")
	r.RecordLLMTokens("anthropic", 120)
	r.RecordLLMTokens("anthropic", 0)
	r.RecordMemory("OBSERVATION")
	r.RecordMemory("OBSERVATION")
	r.RecordMemory("REFLECTION")
	r.RecordReflection(4, 1, nil)
	r.RecordReflection(0, 0, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.llmCalls.WithLabelValues("anthropic", "retryable")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.llmRetries.WithLabelValues("anthropic")))
	assert.Equal(t, 120.0, testutil.ToFloat64(r.llmTokens.WithLabelValues("anthropic")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.memoriesRecorded.WithLabelValues("OBSERVATION")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.memoriesRecorded.WithLabelValues("REFLECTION")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reflections.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reflections.WithLabelValues("error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.insightsPersisted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.insightPersistFailed))
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder(Config{})
	r.RecordRetrieval(15 * time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "agentmem_stream_retrievals_total 1"))
}
