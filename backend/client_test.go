package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestNewClient_InvalidURL(t *testing.T) {
	tests := []string{"", "ftp://pi.local", "::not-a-url"}
	for _, raw := range tests {
		if _, err := NewClient(raw, time.Second, zap.NewNop()); err == nil {
			t.Errorf("Expected error for %q, got nil", raw)
		}
	}
}

func TestGetDistance(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		measurable bool
		cm         float64
		alert      bool
		expectErr  bool
	}{
		{name: "number", body: `{"value": 37.6, "alert": false}`, measurable: true, cm: 37.6},
		{name: "alert", body: `{"value": 4, "alert": true}`, measurable: true, cm: 4, alert: true},
		{name: "out of range string", body: `{"value": "Out of Range", "alert": false}`},
		{name: "minus one sentinel", body: `{"value": -1}`},
		{name: "garbage string", body: `{"value": "banana"}`, expectErr: true},
		{name: "malformed json", body: `{"value":`, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/getdistance" {
					t.Errorf("Expected /getdistance, got %s", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			})

			resp, err := client.GetDistance(context.Background())
			if tt.expectErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if resp.Value.Measurable != tt.measurable {
				t.Errorf("Expected measurable=%v, got %v", tt.measurable, resp.Value.Measurable)
			}
			if tt.measurable && resp.Value.Centimeters != tt.cm {
				t.Errorf("Expected %v cm, got %v", tt.cm, resp.Value.Centimeters)
			}
			if resp.Alert != tt.alert {
				t.Errorf("Expected alert=%v, got %v", tt.alert, resp.Alert)
			}
		})
	}
}

func TestGetClimate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "success", "temperature": 23.4, "humidity": 55.0}`))
	})

	resp, err := client.GetClimate(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !resp.OK() {
		t.Fatal("Expected OK climate response")
	}
	if *resp.Temperature != 23.4 || *resp.Humidity != 55.0 {
		t.Errorf("Unexpected values: %v / %v", *resp.Temperature, *resp.Humidity)
	}
}

func TestGetClimate_SensorError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "error", "message": "checksum mismatch"}`))
	})

	resp, err := client.GetClimate(context.Background())
	if err != nil {
		t.Fatalf("Expected no transport error, got: %v", err)
	}
	if resp.OK() {
		t.Error("Expected sensor error response to not be OK")
	}
}

func TestGetTouch_ModeFlag(t *testing.T) {
	tests := []struct {
		body   string
		manual bool
	}{
		{body: `{"current_state": 1}`, manual: true},
		{body: `{"current_state": "1"}`, manual: true},
		{body: `{"current_state": true}`, manual: true},
		{body: `{"current_state": 0}`, manual: false},
		{body: `{"current_state": 2}`, manual: false},
		{body: `{"touched": true}`, manual: false},
	}

	for _, tt := range tests {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(tt.body))
		})
		resp, err := client.GetTouch(context.Background())
		if err != nil {
			t.Fatalf("Expected no error for %s, got: %v", tt.body, err)
		}
		if resp.Manual() != tt.manual {
			t.Errorf("Body %s: expected manual=%v, got %v", tt.body, tt.manual, resp.Manual())
		}
	}
}

func TestGetSnapshot(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"sensors": {"temperature": 21.04, "humidity": 48.96, "distance": 0.734},
			"status": {"mode": "MANUAL", "devices": {"aircon": "ON", "heater": "OFF", "dehumidifier": "BROKEN"}}
		}`))
	})

	resp, err := client.GetSnapshot(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if resp.Status.Mode != "MANUAL" {
		t.Errorf("Expected MANUAL, got %s", resp.Status.Mode)
	}
	states := resp.Status.DeviceStates()
	if len(states) != 2 || !states["aircon"] || states["heater"] {
		t.Errorf("Unexpected device states: %v", states)
	}
}

func TestSwitchLegacy_RedirectIsSuccess(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		http.Redirect(w, r, "/", http.StatusFound)
	})

	if err := client.SwitchLegacy(context.Background(), 2, true); err != nil {
		t.Fatalf("Expected redirect to count as success, got: %v", err)
	}
	if gotPath != "/2/1" {
		t.Errorf("Expected /2/1, got %s", gotPath)
	}
}

func TestControl(t *testing.T) {
	var gotMethod, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.Write([]byte(`{"ok": true}`))
	})

	if err := client.Control(context.Background(), "heater", false); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/control/heater/OFF" {
		t.Errorf("Expected POST /control/heater/OFF, got %s %s", gotMethod, gotPath)
	}
}

func TestControl_StatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relay stuck", http.StatusInternalServerError)
	})

	err := client.Control(context.Background(), "aircon", true)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got: %v", err)
	}
	if statusErr.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", statusErr.Code)
	}
}

func TestDecodeFailure_LogsSampleAtErrorLevel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway timeout</html>"))
	}))
	defer server.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	client, err := NewClient(server.URL, time.Second, zap.New(core))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if _, err := client.GetClimate(context.Background()); err == nil {
		t.Fatal("Expected decode error")
	}

	entries := logs.FilterMessage("Failed to parse JSON").All()
	if len(entries) != 1 {
		t.Fatalf("Expected one parse failure log, got %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Errorf("Expected error level, got %s", entries[0].Level)
	}
	if got := entries[0].ContextMap()["sample"]; got != "<html>gateway timeout</html>" {
		t.Errorf("Expected body sample logged, got %v", got)
	}
}

func TestCommands_RejectedWithSuccessFalse(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		rejected bool
	}{
		{"refused", `{"success": false, "message": "Only available in Manual mode."}`, true},
		{"accepted", `{"success": true, "mode": "MANUAL"}`, false},
		{"no success field", `{"ok": true}`, false},
		{"empty body", ``, false},
		{"plain text", `done`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			for name, call := range map[string]func() error{
				"control":     func() error { return client.Control(context.Background(), "aircon", true) },
				"toggle_mode": func() error { return client.ToggleMode(context.Background()) },
			} {
				err := call()
				var rejected *RejectedError
				switch {
				case !tt.rejected && err != nil:
					t.Errorf("%s: expected no error, got: %v", name, err)
				case tt.rejected && !errors.As(err, &rejected):
					t.Errorf("%s: expected RejectedError, got: %v", name, err)
				case tt.rejected && rejected.Message != "Only available in Manual mode.":
					t.Errorf("%s: unexpected message %q", name, rejected.Message)
				}
			}
		})
	}
}

func TestToggleMode_RedirectIsFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})

	if err := client.ToggleMode(context.Background()); err == nil {
		t.Error("Expected redirect from /toggle_mode to be an error")
	}
}

func TestRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 50*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	start := time.Now()
	if _, err := client.GetCounter(context.Background()); err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected request to time out quickly, took %v", elapsed)
	}
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in        string
		expected  Variant
		expectErr bool
	}{
		{in: "sensors", expected: VariantSensors},
		{in: " Switches ", expected: VariantSwitches},
		{in: "SNAPSHOT", expected: VariantSnapshot},
		{in: "camagui", expectErr: true},
	}
	for _, tt := range tests {
		v, err := ParseVariant(tt.in)
		if tt.expectErr {
			if err == nil {
				t.Errorf("Expected error for %q", tt.in)
			}
			continue
		}
		if err != nil || v != tt.expected {
			t.Errorf("ParseVariant(%q) = %v, %v; expected %v", tt.in, v, err, tt.expected)
		}
	}
}
