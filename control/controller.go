// Package control sends user commands to the backend. Device commands are
// gated on manual mode and shown optimistically until the backend answers.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mjasion/balena-home/dashboard/backend"
	"github.com/mjasion/balena-home/dashboard/pkg/metrics"
	"github.com/mjasion/balena-home/dashboard/pkg/telemetry"
	"github.com/mjasion/balena-home/dashboard/pkg/types"
	"github.com/mjasion/balena-home/dashboard/state"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrNotManual is returned when a device command arrives outside manual mode
	ErrNotManual = errors.New("device control is only available in MANUAL mode")
	// ErrUnknownDevice is returned for devices the dashboard does not know
	ErrUnknownDevice = state.ErrUnknownDevice
	// ErrUnsupported is returned when the variant has no such command
	ErrUnsupported = errors.New("command not supported by this backend")
)

// Backend is the part of the backend client commands go through
type Backend interface {
	SwitchLegacy(ctx context.Context, index int, on bool) error
	Control(ctx context.Context, device string, on bool) error
	ToggleMode(ctx context.Context) error
}

// Controller issues device and mode commands
type Controller struct {
	backend Backend
	store   *state.Store
	variant backend.Variant
	devices map[string]backend.Device
	sink    func([]*types.Reading)
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates a Controller for the given variant and devices
func New(b Backend, store *state.Store, variant backend.Variant, devices []backend.Device, logger *zap.Logger) *Controller {
	byName := make(map[string]backend.Device, len(devices))
	for _, d := range devices {
		byName[d.Name] = d
	}
	return &Controller{
		backend: b,
		store:   store,
		variant: variant,
		devices: byName,
		logger:  logger,
		tracer:  otel.Tracer("control"),
	}
}

// WithSink exports confirmed device states as readings
func (c *Controller) WithSink(sink func([]*types.Reading)) *Controller {
	c.sink = sink
	return c
}

// SetDevice switches a device on or off. The new state shows immediately;
// if the backend rejects the command the previous state comes back and the
// error is recorded on the device.
func (c *Controller) SetDevice(ctx context.Context, name string, on bool) error {
	commandID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "control.SetDevice",
		trace.WithAttributes(
			attribute.String("command.id", commandID),
			attribute.String("device.name", name),
			attribute.Bool("device.on", on),
		),
	)
	defer span.End()

	if !c.variant.HasControls() {
		span.SetStatus(codes.Error, "unsupported")
		return ErrUnsupported
	}
	device, ok := c.devices[name]
	if !ok {
		span.SetStatus(codes.Error, "unknown device")
		return fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	if c.store.Mode() != state.ModeManual {
		span.SetStatus(codes.Error, "not manual")
		telemetry.InfoWithTrace(ctx, c.logger, "rejected device command outside manual mode",
			zap.String("command_id", commandID),
			zap.String("device", name),
		)
		return ErrNotManual
	}

	change, err := c.store.BeginDeviceChange(name, on)
	if err != nil {
		return fmt.Errorf("%w: %s", err, name)
	}

	start := time.Now()
	switch c.variant {
	case backend.VariantSwitches:
		err = c.backend.SwitchLegacy(ctx, device.Index, on)
	default:
		err = c.backend.Control(ctx, name, on)
	}
	c.store.CompleteDeviceChange(change, err)

	if err != nil {
		metrics.CommandsTotal.WithLabelValues("device", metrics.OutcomeError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend rejected command")
		telemetry.WarnWithTrace(ctx, c.logger, "device command failed, rolled back",
			zap.String("command_id", commandID),
			zap.String("device", name),
			zap.String("action", backend.Action(on)),
			zap.Error(err),
		)
		return err
	}

	metrics.CommandsTotal.WithLabelValues("device", metrics.OutcomeSuccess).Inc()
	span.SetStatus(codes.Ok, "switched")
	telemetry.InfoWithTrace(ctx, c.logger, "device switched",
		zap.String("command_id", commandID),
		zap.String("device", name),
		zap.String("action", backend.Action(on)),
		zap.Duration("took", time.Since(start)),
	)
	if c.sink != nil {
		c.sink([]*types.Reading{{
			Kind:      types.KindDevice,
			Timestamp: time.Now(),
			Value:     types.BoolValue(on),
			Device:    name,
		}})
	}
	return nil
}

// SelectMode asks the backend to switch to target. Selecting the mode that
// is already active does nothing and reports false. The displayed mode is
// not flipped here; the next mode poll picks up the change.
func (c *Controller) SelectMode(ctx context.Context, target state.Mode) (bool, error) {
	commandID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "control.SelectMode",
		trace.WithAttributes(
			attribute.String("command.id", commandID),
			attribute.String("mode.target", target.String()),
		),
	)
	defer span.End()

	if !c.variant.CanToggleMode() {
		span.SetStatus(codes.Error, "unsupported")
		return false, ErrUnsupported
	}
	if target != state.ModeAuto && target != state.ModeManual {
		span.SetStatus(codes.Error, "invalid target")
		return false, fmt.Errorf("cannot select mode %s", target)
	}

	current := c.store.Mode()
	if current == target {
		span.SetAttributes(attribute.Bool("mode.noop", true))
		return false, nil
	}

	if err := c.backend.ToggleMode(ctx); err != nil {
		metrics.CommandsTotal.WithLabelValues("mode", metrics.OutcomeError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "toggle failed")
		telemetry.WarnWithTrace(ctx, c.logger, "mode toggle failed",
			zap.String("command_id", commandID),
			zap.Stringer("from", current),
			zap.Stringer("to", target),
			zap.Error(err),
		)
		return false, err
	}

	metrics.CommandsTotal.WithLabelValues("mode", metrics.OutcomeSuccess).Inc()
	span.SetStatus(codes.Ok, "toggled")
	telemetry.InfoWithTrace(ctx, c.logger, "mode toggle requested",
		zap.String("command_id", commandID),
		zap.Stringer("from", current),
		zap.Stringer("to", target),
	)
	return true, nil
}
