package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/mjasion/balena-home/dashboard/backend"
	"github.com/mjasion/balena-home/dashboard/pkg/types"
	"github.com/mjasion/balena-home/dashboard/state"
)

// Backend is the part of the backend client the poller reads from
type Backend interface {
	GetDistance(ctx context.Context) (*backend.DistanceResponse, error)
	GetClimate(ctx context.Context) (*backend.ClimateResponse, error)
	GetTouch(ctx context.Context) (*backend.TouchResponse, error)
	GetCounter(ctx context.Context) (*backend.CounterResponse, error)
	GetSnapshot(ctx context.Context) (*backend.SnapshotResponse, error)
}

// Periods holds the poll period of every job
type Periods struct {
	Counter  time.Duration
	Distance time.Duration
	Touch    time.Duration
	Climate  time.Duration
	Mode     time.Duration
	Snapshot time.Duration
}

// DefaultPeriods returns the periods the original pages polled at
func DefaultPeriods() Periods {
	return Periods{
		Counter:  time.Second,
		Distance: time.Second,
		Touch:    500 * time.Millisecond,
		Climate:  2 * time.Second,
		Mode:     time.Second,
		Snapshot: 5 * time.Second,
	}
}

// Result is what a successful poll produced
type Result struct {
	Readings []*types.Reading
	// Stale is set when a newer result had already been applied
	Stale bool
}

// PollFunc fetches one endpoint and applies the result under seq
type PollFunc func(ctx context.Context, seq uint64) (Result, error)

// Job polls one endpoint on a fixed period
type Job struct {
	Name   string
	Period time.Duration
	// Metrics are marked failed when Poll returns an error
	Metrics []state.Metric
	Poll    PollFunc
}

// SensorError means the backend answered but reported a sensor failure
type SensorError struct {
	Message string
}

func (e *SensorError) Error() string {
	if e.Message == "" {
		return "sensor error"
	}
	return "sensor error: " + e.Message
}

// JobsFor builds the jobs of a variant. source labels exported readings.
func JobsFor(variant backend.Variant, b Backend, store *state.Store, periods Periods, source string) ([]Job, error) {
	p := &polls{backend: b, store: store, source: source}

	switch variant {
	case backend.VariantSensors:
		return []Job{
			{Name: "counter", Period: periods.Counter, Metrics: []state.Metric{state.MetricCounter}, Poll: p.counter},
			{Name: "distance", Period: periods.Distance, Metrics: []state.Metric{state.MetricDistance}, Poll: p.distance},
			{Name: "touch", Period: periods.Touch, Metrics: []state.Metric{state.MetricTouch}, Poll: p.touch},
			{Name: "climate", Period: periods.Climate, Metrics: []state.Metric{state.MetricClimate}, Poll: p.climate},
		}, nil
	case backend.VariantSwitches:
		return []Job{
			{Name: "distance", Period: periods.Distance, Metrics: []state.Metric{state.MetricDistance}, Poll: p.distance},
			{Name: "climate", Period: periods.Climate, Metrics: []state.Metric{state.MetricClimate}, Poll: p.climate},
			{Name: "mode", Period: periods.Mode, Metrics: []state.Metric{state.MetricMode}, Poll: p.mode},
		}, nil
	case backend.VariantSnapshot:
		return []Job{
			{
				Name:    "snapshot",
				Period:  periods.Snapshot,
				Metrics: []state.Metric{state.MetricClimate, state.MetricDistance, state.MetricMode},
				Poll:    p.snapshot,
			},
		}, nil
	default:
		return nil, fmt.Errorf("no jobs for variant %q", variant)
	}
}

type polls struct {
	backend Backend
	store   *state.Store
	source  string
}

func (p *polls) reading(kind types.ReadingKind, value float64) *types.Reading {
	return &types.Reading{Kind: kind, Timestamp: time.Now(), Value: value, Source: p.source}
}

func (p *polls) counter(ctx context.Context, seq uint64) (Result, error) {
	resp, err := p.backend.GetCounter(ctx)
	if err != nil {
		return Result{}, err
	}
	if !p.store.ApplyCounter(seq, resp.Value) {
		return Result{Stale: true}, nil
	}
	return Result{Readings: []*types.Reading{p.reading(types.KindCounter, resp.Value)}}, nil
}

func (p *polls) distance(ctx context.Context, seq uint64) (Result, error) {
	resp, err := p.backend.GetDistance(ctx)
	if err != nil {
		return Result{}, err
	}
	applied := p.store.ApplyDistance(seq, state.Distance{
		Centimeters: resp.Value.Centimeters,
		Measurable:  resp.Value.Measurable,
		Alert:       resp.Alert,
	})
	if !applied {
		return Result{Stale: true}, nil
	}
	if !resp.Value.Measurable {
		return Result{}, nil
	}
	return Result{Readings: []*types.Reading{p.reading(types.KindDistance, resp.Value.Centimeters)}}, nil
}

func (p *polls) touch(ctx context.Context, seq uint64) (Result, error) {
	resp, err := p.backend.GetTouch(ctx)
	if err != nil {
		return Result{}, err
	}
	if !p.store.ApplyTouch(seq, resp.Touched) {
		return Result{Stale: true}, nil
	}
	return Result{Readings: []*types.Reading{p.reading(types.KindTouch, types.BoolValue(resp.Touched))}}, nil
}

func (p *polls) climate(ctx context.Context, seq uint64) (Result, error) {
	resp, err := p.backend.GetClimate(ctx)
	if err != nil {
		return Result{}, err
	}
	if !resp.OK() {
		return Result{}, &SensorError{Message: resp.Message}
	}
	if !p.store.ApplyClimate(seq, *resp.Temperature, *resp.Humidity) {
		return Result{Stale: true}, nil
	}
	return Result{Readings: []*types.Reading{
		p.reading(types.KindTemperature, *resp.Temperature),
		p.reading(types.KindHumidity, *resp.Humidity),
	}}, nil
}

// mode reads the manual flag switch backends expose on /gettouch
func (p *polls) mode(ctx context.Context, seq uint64) (Result, error) {
	resp, err := p.backend.GetTouch(ctx)
	if err != nil {
		return Result{}, err
	}
	mode := state.ModeAuto
	if resp.Manual() {
		mode = state.ModeManual
	}
	return Result{Stale: !p.store.ApplyMode(seq, mode)}, nil
}

func (p *polls) snapshot(ctx context.Context, seq uint64) (Result, error) {
	resp, err := p.backend.GetSnapshot(ctx)
	if err != nil {
		return Result{}, err
	}

	sensors := resp.Sensors
	stale := !p.store.ApplyClimate(seq, sensors.Temperature, sensors.Humidity)
	stale = !p.store.ApplyDistance(seq, state.Distance{
		Centimeters: sensors.Distance,
		Measurable:  sensors.Distance != -1,
	}) || stale

	if mode, err := state.ParseMode(resp.Status.Mode); err == nil {
		p.store.ApplyMode(seq, mode)
	} else {
		p.store.Fail(state.MetricMode, seq, state.HealthConnectionError)
	}

	devices := resp.Status.DeviceStates()
	p.store.ApplyDevices(seq, devices)

	if stale {
		return Result{Stale: true}, nil
	}

	readings := []*types.Reading{
		p.reading(types.KindTemperature, sensors.Temperature),
		p.reading(types.KindHumidity, sensors.Humidity),
	}
	if sensors.Distance != -1 {
		readings = append(readings, p.reading(types.KindDistance, sensors.Distance))
	}
	for name, on := range devices {
		r := p.reading(types.KindDevice, types.BoolValue(on))
		r.Device = name
		readings = append(readings, r)
	}
	return Result{Readings: readings}, nil
}
