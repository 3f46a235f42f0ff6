package view

import (
	"testing"
	"time"

	"github.com/mjasion/balena-home/dashboard/backend"
	"github.com/mjasion/balena-home/dashboard/state"
)

func ok() state.Status {
	return state.Status{Health: state.HealthOK, UpdatedAt: time.Now()}
}

func failed(h state.Health) state.Status {
	return state.Status{Health: h, UpdatedAt: time.Now()}
}

func TestFormatWhole(t *testing.T) {
	tests := map[float64]string{
		37.6:  "38",
		37.5:  "38",
		37.4:  "37",
		0.2:   "0",
		-0.4:  "0",
		-2.5:  "-2",
		-2.6:  "-3",
		150.0: "150",
	}
	for in, expected := range tests {
		if got := FormatWhole(in); got != expected {
			t.Errorf("FormatWhole(%v) = %q, expected %q", in, got, expected)
		}
	}
}

func TestFormatFixed(t *testing.T) {
	tests := []struct {
		in       float64
		digits   int
		expected string
	}{
		{in: 23.44, digits: 1, expected: "23.4"},
		{in: 23.46, digits: 1, expected: "23.5"},
		{in: 2.25, digits: 1, expected: "2.3"},
		{in: -2.25, digits: 1, expected: "-2.3"},
		{in: 1.45, digits: 1, expected: "1.4"},
		{in: 55, digits: 1, expected: "55.0"},
		{in: 0.125, digits: 2, expected: "0.13"},
		{in: 0.734, digits: 2, expected: "0.73"},
	}
	for _, tt := range tests {
		if got := FormatFixed(tt.in, tt.digits); got != tt.expected {
			t.Errorf("FormatFixed(%v, %d) = %q, expected %q", tt.in, tt.digits, got, tt.expected)
		}
	}
}

func TestRenderDistance(t *testing.T) {
	tests := []struct {
		name        string
		in          state.Distance
		value       string
		status      string
		alertClass  bool
		normalClass bool
	}{
		{
			name:        "measurable rounds half up",
			in:          state.Distance{Status: ok(), Centimeters: 37.6, Measurable: true},
			value:       "38",
			status:      "Status: Normal",
			normalClass: true,
		},
		{
			name:        "unmeasurable",
			in:          state.Distance{Status: ok()},
			value:       "측정 불가",
			status:      "Status: Normal",
			normalClass: true,
		},
		{
			name:       "alert",
			in:         state.Distance{Status: ok(), Centimeters: 4, Measurable: true, Alert: true},
			value:      "4",
			status:     "Status: PROXIMITY ALERT!",
			alertClass: true,
		},
		{
			name:        "connection error",
			in:          state.Distance{Status: failed(state.HealthConnectionError), Centimeters: 4, Measurable: true, Alert: true},
			value:       "연결 오류",
			status:      "Status: Error",
			normalClass: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := RenderDistance(tt.in)
			if v.Value.Text != tt.value {
				t.Errorf("Expected value %q, got %q", tt.value, v.Value.Text)
			}
			if v.Status.Text != tt.status {
				t.Errorf("Expected status %q, got %q", tt.status, v.Status.Text)
			}
			if v.Status.HasClass("status-alert") != tt.alertClass {
				t.Errorf("Expected status-alert=%v, got classes %v", tt.alertClass, v.Status.Classes)
			}
			if v.Status.HasClass("status-normal") != tt.normalClass {
				t.Errorf("Expected status-normal=%v, got classes %v", tt.normalClass, v.Status.Classes)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		temperature, humidity float64
		text, class           string
	}{
		{temperature: 5, humidity: 90, text: "추움", class: "climate-cold"},
		{temperature: 35, humidity: 10, text: "더움", class: "climate-hot"},
		{temperature: 20, humidity: 85, text: "습함", class: "climate-humid"},
		{temperature: 20, humidity: 20, text: "건조함", class: "climate-dry"},
		{temperature: 20, humidity: 50, text: "정상", class: "climate-normal"},
		{temperature: 10, humidity: 30, text: "정상", class: "climate-normal"},
		{temperature: 30, humidity: 80, text: "정상", class: "climate-normal"},
	}
	for _, tt := range tests {
		got := Classify(tt.temperature, tt.humidity)
		if got.Text != tt.text || got.Class != tt.class {
			t.Errorf("Classify(%v, %v) = %+v, expected %s/%s", tt.temperature, tt.humidity, got, tt.text, tt.class)
		}
	}
}

func TestRenderClimate(t *testing.T) {
	v := RenderClimate(state.Climate{Status: ok(), Temperature: 35, Humidity: 10})
	if v.Temperature.Text != "35.0" || v.Humidity.Text != "10.0" {
		t.Errorf("Unexpected values %q / %q", v.Temperature.Text, v.Humidity.Text)
	}
	if v.Status.Text != "더움" || len(v.Status.Classes) != 1 || v.Status.Classes[0] != "climate-hot" {
		t.Errorf("Expected 더움 with only climate-hot, got %+v", v.Status)
	}

	sensor := RenderClimate(state.Climate{Status: failed(state.HealthSensorError), Temperature: 35})
	if sensor.Temperature.Text != "--" || sensor.Humidity.Text != "--" || sensor.Status.Text != "센서 오류" {
		t.Errorf("Unexpected sensor error view %+v", sensor)
	}
	if !sensor.Status.HasClass("climate-error") || len(sensor.Status.Classes) != 1 {
		t.Errorf("Expected only climate-error, got %v", sensor.Status.Classes)
	}

	conn := RenderClimate(state.Climate{Status: failed(state.HealthConnectionError)})
	if conn.Status.Text != "연결 오류" || !conn.Status.HasClass("climate-error") {
		t.Errorf("Unexpected connection error view %+v", conn)
	}
}

func TestRenderTouch(t *testing.T) {
	touched := RenderTouch(state.Touch{Status: ok(), Touched: true})
	if touched.Status.Text != "터치 감지됨" || touched.Indicator.Text != "Status: TOUCHED!" {
		t.Errorf("Unexpected touched view %+v", touched)
	}
	if !touched.Indicator.HasClass("touch-active") || touched.Indicator.HasClass("touch-inactive") {
		t.Errorf("Expected touch-active only, got %v", touched.Indicator.Classes)
	}

	idle := RenderTouch(state.Touch{Status: ok()})
	if idle.Status.Text != "터치 없음" || idle.Indicator.Text != "Status: No Touch" || !idle.Indicator.HasClass("touch-inactive") {
		t.Errorf("Unexpected idle view %+v", idle)
	}

	broken := RenderTouch(state.Touch{Status: failed(state.HealthConnectionError), Touched: true})
	if broken.Status.Text != "연결 오류" || broken.Indicator.Text != "Status: Error" || !broken.Indicator.HasClass("touch-inactive") {
		t.Errorf("Unexpected error view %+v", broken)
	}
}

func TestRenderCounter(t *testing.T) {
	if got := RenderCounter(state.Counter{}); got.Text != "--" {
		t.Errorf("Expected placeholder before first reading, got %q", got.Text)
	}
	if got := RenderCounter(state.Counter{Status: ok(), Value: 42, Seen: true}); got.Text != "42" {
		t.Errorf("Expected 42, got %q", got.Text)
	}
	stale := state.Counter{Status: failed(state.HealthConnectionError), Value: 7.5, Seen: true}
	if got := RenderCounter(stale); got.Text != "7.5" {
		t.Errorf("Expected last value to stay on screen, got %q", got.Text)
	}
}

func TestRenderSnapshotVariant(t *testing.T) {
	snap := state.Snapshot{
		Climate:  state.Climate{Status: ok(), Temperature: 21.04, Humidity: 48.96},
		Distance: state.Distance{Status: ok(), Centimeters: 8, Measurable: true},
		Mode:     state.ModeState{Status: ok(), Mode: state.ModeAuto},
		Devices:  []state.Device{{Name: "aircon", On: true}, {Name: "heater"}},
	}

	v := Render(backend.VariantSnapshot, snap)
	if v.Climate.Temperature.Text != "21.0 °C" || v.Climate.Humidity.Text != "49.0 %" {
		t.Errorf("Unexpected climate %+v", v.Climate)
	}
	if v.Distance.Value.Text != "0.08 m" || !v.Distance.Warning {
		t.Errorf("Expected 0.08 m with warning, got %+v", v.Distance)
	}
	if !v.Mode.AutoActive || v.Mode.ManualActive {
		t.Errorf("Expected AUTO active, got %+v", v.Mode)
	}
	if v.Mode.Footer != footerAuto {
		t.Errorf("Unexpected footer %q", v.Mode.Footer)
	}
	for _, toggle := range v.Toggles {
		if !toggle.Disabled {
			t.Errorf("Expected %s disabled in AUTO", toggle.Device)
		}
	}
	if v.Counter != nil || v.Touch != nil {
		t.Error("Expected no counter or touch card in snapshot layout")
	}

	snap.Distance.Centimeters = 10.5
	snap.Mode.Mode = state.ModeManual
	v = Render(backend.VariantSnapshot, snap)
	if v.Distance.Warning {
		t.Error("Expected no warning above 10cm")
	}
	if v.Mode.Footer != footerManual || !v.Mode.ManualActive {
		t.Errorf("Expected MANUAL panel, got %+v", v.Mode)
	}
	if v.Toggles[0].Disabled || !v.Toggles[0].Checked || v.Toggles[0].Label != "ON" {
		t.Errorf("Unexpected aircon toggle %+v", v.Toggles[0])
	}
	if v.Toggles[1].Checked || v.Toggles[1].Label != "OFF" {
		t.Errorf("Unexpected heater toggle %+v", v.Toggles[1])
	}

	snap.Distance = state.Distance{Status: ok(), Centimeters: -1, Measurable: false}
	v = Render(backend.VariantSnapshot, snap)
	if v.Distance.Value.Text != textUnmeasurable || v.Distance.Warning {
		t.Errorf("Expected %q without warning for out of range, got %+v", textUnmeasurable, v.Distance)
	}
}

func TestRenderToggles_InteractiveOnlyWhenManual(t *testing.T) {
	for _, mode := range []state.Mode{state.ModeUnknown, state.ModeAuto, state.ModeManual} {
		snap := state.Snapshot{
			Mode:    state.ModeState{Mode: mode},
			Devices: []state.Device{{Name: "heater"}},
		}
		toggles := RenderToggles(snap)
		if toggles[0].Disabled != (mode != state.ModeManual) {
			t.Errorf("Mode %v: expected disabled=%v, got %v", mode, mode != state.ModeManual, toggles[0].Disabled)
		}
	}
}

func TestRender_SensorsLayout(t *testing.T) {
	v := Render(backend.VariantSensors, state.Snapshot{})
	if v.Counter == nil || v.Distance == nil || v.Touch == nil || v.Climate == nil {
		t.Fatalf("Expected all four sensor cards, got %+v", v)
	}
	if v.Mode != nil || len(v.Toggles) != 0 {
		t.Error("Expected no controls in sensors layout")
	}
	if v.Distance.Value.Text != "--" {
		t.Errorf("Expected placeholder before first poll, got %q", v.Distance.Value.Text)
	}
}
