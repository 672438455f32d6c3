package feedback_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/feedbackload/internal/feedback"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/config"
	"github.com/wesleyorama2/feedbackload/internal/loadtest/engine"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"This service is amazing and fast!", feedback.SentimentPositive},
		{"Terrible. Slow and broken.", feedback.SentimentNegative},
		{"I used it on Tuesday.", feedback.SentimentNeutral},
		{"Fast but broken", feedback.SentimentNeutral},
		{"", feedback.SentimentNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, feedback.Classify(tt.message))
		})
	}
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url+feedback.Path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	return resp, buf.String()
}

func TestStubHandler(t *testing.T) {
	srv := httptest.NewServer(feedback.NewStubHandler(feedback.StubOptions{}))
	defer srv.Close()

	resp, body := post(t, srv.URL, `{"customer_id":"user_7","message":"This service is amazing and fast!"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Positive", gjson.Get(body, "sentiment").String())
	assert.Equal(t, "user_7", gjson.Get(body, "customer_id").String())
	_, err := uuid.Parse(gjson.Get(body, "id").String())
	assert.NoError(t, err)

	resp, _ = post(t, srv.URL, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = post(t, srv.URL, `{"customer_id":"user_1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "required")

	getResp, err := http.Get(srv.URL + feedback.Path)
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestStubHandler_Latency(t *testing.T) {
	srv := httptest.NewServer(feedback.NewStubHandler(feedback.StubOptions{Latency: 50 * time.Millisecond}))
	defer srv.Close()

	start := time.Now()
	resp, _ := post(t, srv.URL, `{"customer_id":"user_1","message":"great"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

// The built-in scenario passes end to end against the stub.
func TestConfig_AgainstStub(t *testing.T) {
	srv := httptest.NewServer(feedback.NewStubHandler(feedback.StubOptions{}))
	defer srv.Close()

	cfg, err := feedback.Config()
	require.NoError(t, err)
	cfg.Settings.BaseURL = srv.URL
	sc := cfg.Scenarios[feedback.ScenarioName]
	sc.Stages = []config.StageConfig{
		{Duration: "200ms", Target: 3},
		{Duration: "200ms", Target: 3},
		{Duration: "100ms", Target: 0},
	}
	sc.Pause = "20ms"
	sc.GracefulStop = "1s"

	eng, err := engine.NewEngine(cfg)
	require.NoError(t, err)
	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Passed)
	status, ok := result.Metrics.Checks.Get(feedback.CheckStatus)
	require.True(t, ok)
	assert.Equal(t, 1.0, status.Rate())
	sentiment, ok := result.Metrics.Checks.Get(feedback.CheckSentiment)
	require.True(t, ok)
	assert.Equal(t, 1.0, sentiment.Rate())
}
