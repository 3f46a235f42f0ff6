package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/mjasion/balena-home/dashboard/pkg/buffer"
	"github.com/mjasion/balena-home/dashboard/pkg/types"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

func decodeWriteRequest(t *testing.T, r *http.Request) *prompb.WriteRequest {
	t.Helper()
	compressed, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		t.Fatalf("Failed to decompress body: %v", err)
	}
	var req prompb.WriteRequest
	if err := proto.Unmarshal(data, &req); err != nil {
		t.Fatalf("Failed to unmarshal write request: %v", err)
	}
	return &req
}

func TestPush_Success(t *testing.T) {
	var (
		mu       sync.Mutex
		received *prompb.WriteRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.Header.Get("Content-Encoding") != "snappy" {
			t.Errorf("Expected Content-Encoding snappy, got %s", r.Header.Get("Content-Encoding"))
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			t.Errorf("Expected basic auth user/secret, got %q/%q", user, pass)
		}
		req := decodeWriteRequest(t, r)
		mu.Lock()
		received = req
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	buf := buffer.New[*types.Reading](10, zap.NewNop())
	pusher := New(Config{URL: server.URL, Username: "user", Password: "secret", PushInterval: time.Second}, buf, zap.NewNop())

	now := time.Now()
	err := pusher.Push(context.Background(), []*types.Reading{
		{Kind: types.KindTemperature, Timestamp: now, Value: 21.5, Source: "http://pi"},
		{Kind: types.KindTemperature, Timestamp: now.Add(time.Second), Value: 21.7, Source: "http://pi"},
		{Kind: types.KindDevice, Timestamp: now, Value: 1, Source: "http://pi", Device: "heater"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("Expected a write request")
	}
	if len(received.Timeseries) != 2 {
		t.Fatalf("Expected 2 time series, got %d", len(received.Timeseries))
	}

	// device series sorts before temperature
	device := received.Timeseries[0]
	if device.Labels[0].Value != "dashboard_device_on" {
		t.Errorf("Expected dashboard_device_on, got %s", device.Labels[0].Value)
	}
	if device.Labels[1].Name != "device" || device.Labels[1].Value != "heater" {
		t.Errorf("Expected device=heater label, got %+v", device.Labels[1])
	}

	temp := received.Timeseries[1]
	if len(temp.Samples) != 2 {
		t.Errorf("Expected 2 temperature samples, got %d", len(temp.Samples))
	}
	if temp.Samples[1].Value != 21.7 {
		t.Errorf("Expected second sample 21.7, got %v", temp.Samples[1].Value)
	}

	if pusher.LastPushTime().IsZero() {
		t.Error("Expected last push time to be set")
	}
}

func TestPush_RetriesThenFails(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	buf := buffer.New[*types.Reading](10, zap.NewNop())
	pusher := New(Config{URL: server.URL, PushInterval: time.Second, RetryBackoff: time.Millisecond}, buf, zap.NewNop())

	err := pusher.Push(context.Background(), []*types.Reading{
		{Kind: types.KindCounter, Timestamp: time.Now(), Value: 3},
	})
	if err == nil {
		t.Fatal("Expected error after retries, got nil")
	}
	if attempts.Load() != pushAttempts {
		t.Errorf("Expected %d attempts, got %d", pushAttempts, attempts.Load())
	}
}

func TestFlush_RebuffersOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	buf := buffer.New[*types.Reading](10, zap.NewNop())
	buf.Add(&types.Reading{Kind: types.KindHumidity, Timestamp: time.Now(), Value: 40})
	buf.Add(&types.Reading{Kind: types.KindHumidity, Timestamp: time.Now(), Value: 41})

	pusher := New(Config{URL: server.URL, PushInterval: time.Second, BatchSize: 1, RetryBackoff: time.Millisecond}, buf, zap.NewNop())
	pusher.Flush(context.Background())

	if buf.Size() != 2 {
		t.Errorf("Expected 2 readings back in buffer, got %d", buf.Size())
	}
}

func TestBuildReadingTimeSeries_SkipsUnknownKinds(t *testing.T) {
	series, err := BuildReadingTimeSeries(context.Background(), []*types.Reading{
		nil,
		{Kind: "bogus", Timestamp: time.Now(), Value: 1},
		{Kind: types.KindDistance, Timestamp: time.Now(), Value: 12},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("Expected 1 series, got %d", len(series))
	}
	if name, _ := MetricName(types.KindDistance); series[0].Labels[0].Value != name {
		t.Errorf("Expected %s, got %s", name, series[0].Labels[0].Value)
	}
}
