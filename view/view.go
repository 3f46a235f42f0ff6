// Package view projects dashboard state into the strings and CSS classes
// the page displays. Everything here is a pure function of a snapshot.
package view

import (
	"slices"

	"github.com/mjasion/balena-home/dashboard/backend"
	"github.com/mjasion/balena-home/dashboard/state"
)

const (
	placeholder = "--"

	textUnmeasurable    = "측정 불가"
	textConnectionError = "연결 오류"
	textSensorError     = "센서 오류"

	textProximityAlert  = "Status: PROXIMITY ALERT!"
	textProximityNormal = "Status: Normal"
	textStatusError     = "Status: Error"

	textTouched      = "터치 감지됨"
	textNotTouched   = "터치 없음"
	textTouchActive  = "Status: TOUCHED!"
	textTouchMissing = "Status: No Touch"

	classStatusAlert   = "status-alert"
	classStatusNormal  = "status-normal"
	classTouchActive   = "touch-active"
	classTouchInactive = "touch-inactive"
	classClimateError  = "climate-error"

	footerAuto   = "모드: AUTO — AUTO일 때는 개별 기기 ON/OFF가 비활성화됩니다."
	footerManual = "모드: MANUAL — 웹페이지에서 각 기기를 직접 제어할 수 있습니다."

	// snapshot distance card warns at or below this many centimetres
	warningDistanceCM = 10.0
)

// Element is the text and class list of one page element
type Element struct {
	Text    string   `json:"text"`
	Classes []string `json:"classes,omitempty"`
}

// HasClass reports whether the element carries class
func (e Element) HasClass(class string) bool {
	return slices.Contains(e.Classes, class)
}

// DistanceView is the distance card
type DistanceView struct {
	Value  Element `json:"value"`
	Status Element `json:"status"`
	// Warning marks the card itself (snapshot layout)
	Warning bool `json:"warning,omitempty"`
}

// ClimateView is the temperature and humidity card. Status.Classes holds
// exactly one class; it replaces the previous one wholesale.
type ClimateView struct {
	Temperature Element `json:"temperature"`
	Humidity    Element `json:"humidity"`
	Status      Element `json:"status"`
}

// TouchView is the touch card
type TouchView struct {
	Status    Element `json:"status"`
	Indicator Element `json:"indicator"`
}

// ModePanel is the AUTO/MANUAL selector and its footer note
type ModePanel struct {
	Mode         string `json:"mode"`
	AutoActive   bool   `json:"autoActive"`
	ManualActive bool   `json:"manualActive"`
	Footer       string `json:"footer"`
}

// Toggle is one device switch
type Toggle struct {
	Device   string `json:"device"`
	Checked  bool   `json:"checked"`
	Disabled bool   `json:"disabled"`
	Pending  bool   `json:"pending"`
	Label    string `json:"label"`
	Error    string `json:"error,omitempty"`
}

// View is everything the page renders for one snapshot
type View struct {
	Variant  backend.Variant `json:"variant"`
	Version  uint64          `json:"version"`
	Counter  *Element        `json:"counter,omitempty"`
	Distance *DistanceView   `json:"distance,omitempty"`
	Touch    *TouchView      `json:"touch,omitempty"`
	Climate  *ClimateView    `json:"climate,omitempty"`
	Mode     *ModePanel      `json:"mode,omitempty"`
	Toggles  []Toggle        `json:"toggles,omitempty"`
}

// Render projects a snapshot for the given variant
func Render(variant backend.Variant, snap state.Snapshot) View {
	v := View{Variant: variant, Version: snap.Version}

	switch variant {
	case backend.VariantSensors:
		counter := RenderCounter(snap.Counter)
		v.Counter = &counter
		distance := RenderDistance(snap.Distance)
		v.Distance = &distance
		touch := RenderTouch(snap.Touch)
		v.Touch = &touch
		climate := RenderClimate(snap.Climate)
		v.Climate = &climate
	case backend.VariantSwitches:
		distance := RenderDistance(snap.Distance)
		v.Distance = &distance
		climate := RenderClimate(snap.Climate)
		v.Climate = &climate
		v.Toggles = RenderToggles(snap)
	case backend.VariantSnapshot:
		distance := RenderSnapshotDistance(snap.Distance)
		v.Distance = &distance
		climate := RenderSnapshotClimate(snap.Climate)
		v.Climate = &climate
		mode := RenderMode(snap.Mode)
		v.Mode = &mode
		v.Toggles = RenderToggles(snap)
	}
	return v
}

// RenderCounter shows the value as received. A failed poll keeps the last
// value on screen.
func RenderCounter(c state.Counter) Element {
	if !c.Seen {
		return Element{Text: placeholder}
	}
	return Element{Text: FormatNumber(c.Value)}
}

// RenderDistance renders the proximity card
func RenderDistance(d state.Distance) DistanceView {
	switch d.Health {
	case state.HealthPending:
		return DistanceView{Value: Element{Text: placeholder}, Status: Element{Text: placeholder}}
	case state.HealthOK:
	default:
		return DistanceView{
			Value:  Element{Text: textConnectionError},
			Status: Element{Text: textStatusError, Classes: []string{classStatusNormal}},
		}
	}

	view := DistanceView{Value: Element{Text: textUnmeasurable}}
	if d.Measurable {
		view.Value.Text = FormatWhole(d.Centimeters)
	}
	if d.Alert {
		view.Status = Element{Text: textProximityAlert, Classes: []string{classStatusAlert}}
	} else {
		view.Status = Element{Text: textProximityNormal, Classes: []string{classStatusNormal}}
	}
	return view
}

// RenderSnapshotDistance renders the distance in metres with the warning
// card used by the snapshot layout
func RenderSnapshotDistance(d state.Distance) DistanceView {
	switch d.Health {
	case state.HealthPending:
		return DistanceView{Value: Element{Text: placeholder}}
	case state.HealthOK:
	default:
		return DistanceView{Value: Element{Text: textConnectionError}}
	}
	if !d.Measurable {
		return DistanceView{Value: Element{Text: textUnmeasurable}}
	}
	return DistanceView{
		Value:   Element{Text: FormatFixed(d.Centimeters/100.0, 2) + " m"},
		Warning: d.Centimeters <= warningDistanceCM,
	}
}

// ClimateStatus is the comfort classification of a reading
type ClimateStatus struct {
	Text  string
	Class string
}

// Classify rates a reading. Temperature wins over humidity.
func Classify(temperature, humidity float64) ClimateStatus {
	switch {
	case temperature < 10:
		return ClimateStatus{Text: "추움", Class: "climate-cold"}
	case temperature > 30:
		return ClimateStatus{Text: "더움", Class: "climate-hot"}
	case humidity > 80:
		return ClimateStatus{Text: "습함", Class: "climate-humid"}
	case humidity < 30:
		return ClimateStatus{Text: "건조함", Class: "climate-dry"}
	default:
		return ClimateStatus{Text: "정상", Class: "climate-normal"}
	}
}

// RenderClimate renders the temperature and humidity card
func RenderClimate(c state.Climate) ClimateView {
	switch c.Health {
	case state.HealthPending:
		return ClimateView{
			Temperature: Element{Text: placeholder},
			Humidity:    Element{Text: placeholder},
			Status:      Element{Text: placeholder},
		}
	case state.HealthOK:
		status := Classify(c.Temperature, c.Humidity)
		return ClimateView{
			Temperature: Element{Text: FormatFixed(c.Temperature, 1)},
			Humidity:    Element{Text: FormatFixed(c.Humidity, 1)},
			Status:      Element{Text: status.Text, Classes: []string{status.Class}},
		}
	case state.HealthSensorError:
		return climateError(textSensorError)
	default:
		return climateError(textConnectionError)
	}
}

func climateError(text string) ClimateView {
	return ClimateView{
		Temperature: Element{Text: placeholder},
		Humidity:    Element{Text: placeholder},
		Status:      Element{Text: text, Classes: []string{classClimateError}},
	}
}

// RenderSnapshotClimate renders temperature and humidity with units
func RenderSnapshotClimate(c state.Climate) ClimateView {
	switch c.Health {
	case state.HealthPending:
		return ClimateView{Temperature: Element{Text: placeholder}, Humidity: Element{Text: placeholder}}
	case state.HealthOK:
		return ClimateView{
			Temperature: Element{Text: FormatFixed(c.Temperature, 1) + " °C"},
			Humidity:    Element{Text: FormatFixed(c.Humidity, 1) + " %"},
		}
	default:
		return ClimateView{Temperature: Element{Text: textConnectionError}, Humidity: Element{Text: textConnectionError}}
	}
}

// RenderTouch renders the touch card
func RenderTouch(t state.Touch) TouchView {
	switch t.Health {
	case state.HealthPending:
		return TouchView{Status: Element{Text: placeholder}, Indicator: Element{Text: placeholder}}
	case state.HealthOK:
	default:
		return TouchView{
			Status:    Element{Text: textConnectionError},
			Indicator: Element{Text: textStatusError, Classes: []string{classTouchInactive}},
		}
	}

	if t.Touched {
		return TouchView{
			Status:    Element{Text: textTouched},
			Indicator: Element{Text: textTouchActive, Classes: []string{classTouchActive}},
		}
	}
	return TouchView{
		Status:    Element{Text: textNotTouched},
		Indicator: Element{Text: textTouchMissing, Classes: []string{classTouchInactive}},
	}
}

// RenderMode renders the AUTO/MANUAL selector. Before the first mode is
// observed neither button is active.
func RenderMode(m state.ModeState) ModePanel {
	panel := ModePanel{Mode: m.Mode.String()}
	switch m.Mode {
	case state.ModeAuto:
		panel.AutoActive = true
		panel.Footer = footerAuto
	case state.ModeManual:
		panel.ManualActive = true
		panel.Footer = footerManual
	}
	return panel
}

// RenderToggles renders one switch per device. Switches are interactive
// only while the last observed mode is manual.
func RenderToggles(snap state.Snapshot) []Toggle {
	manual := snap.Manual()
	toggles := make([]Toggle, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		label := "OFF"
		if d.On {
			label = "ON"
		}
		toggles = append(toggles, Toggle{
			Device:   d.Name,
			Checked:  d.On,
			Disabled: !manual,
			Pending:  d.Pending,
			Label:    label,
			Error:    d.LastError,
		})
	}
	return toggles
}
