package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// DeviceRemover removes the product's virtual network adapters and PnP devices.
type DeviceRemover struct {
	devices  DeviceManager
	adapter  *Pattern
	device   *Pattern
	class    string
	preserve bool
	logger   zerolog.Logger
	recorder Recorder
}

// NewDeviceRemover creates a device remover. With preserve set it never calls the device manager.
func NewDeviceRemover(devices DeviceManager, knowledge Knowledge, preserve bool, logger zerolog.Logger) (*DeviceRemover, error) {
	knowledge = knowledge.WithDefaults()
	d := &DeviceRemover{
		devices:  devices,
		class:    knowledge.DeviceClass,
		preserve: preserve,
		logger:   logger.With().Str("component", "devices").Logger(),
	}
	var err error
	if knowledge.AdapterPattern != "" {
		if d.adapter, err = CompilePattern(knowledge.AdapterPattern); err != nil {
			return nil, err
		}
	}
	if knowledge.DevicePattern != "" {
		if d.device, err = CompilePattern(knowledge.DevicePattern); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// WithRecorder sets the action recorder.
func (d *DeviceRemover) WithRecorder(r Recorder) *DeviceRemover {
	d.recorder = r
	return d
}

// RemoveDevices removes matching adapters, then disables and removes matching
// devices of the configured class. Individual failures are tolerated.
func (d *DeviceRemover) RemoveDevices(ctx context.Context) []Result {
	if d.preserve {
		d.logger.Info().Msg("Preserving network adapters, skipping device removal")
		return nil
	}
	if d.devices == nil {
		return nil
	}

	var results []Result
	if d.adapter != nil {
		adapters, err := d.devices.ListAdapters(ctx)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to enumerate network adapters")
		}
		for _, a := range adapters {
			if !d.adapter.Match(a.Description) {
				continue
			}
			res := ResultFromError(d.devices.RemoveAdapter(ctx, a), 1)
			results = append(results, d.finish(ActionAdapter, a.Name, res))
		}
	}

	if d.device != nil {
		devices, err := d.devices.ListDevices(ctx, d.class)
		if err != nil {
			d.logger.Warn().Err(err).Str("class", d.class).Msg("Failed to enumerate devices")
		}
		for _, dev := range devices {
			if !d.device.Match(dev.FriendlyName) {
				continue
			}
			if err := d.devices.DisableDevice(ctx, dev); err != nil && !IsNotFound(err) {
				d.logger.Debug().Err(err).Str("target", dev.InstanceID).Msg("Disable failed, removing anyway")
			}
			res := ResultFromError(d.devices.RemoveDevice(ctx, dev), 1)
			results = append(results, d.finish(ActionDevice, dev.InstanceID, res))
		}
	}
	return results
}

func (d *DeviceRemover) finish(kind ActionKind, subject string, res Result) Result {
	if !res.Status.IsSuccess() {
		d.logger.Warn().Err(res.Err).Str("target", subject).Str("kind", string(kind)).Msg("Failed to remove device")
		res.Status = ResultWarning
	} else {
		d.logger.Info().Str("target", subject).Str("kind", string(kind)).Str("status", string(res.Status)).Msg("Device removed")
	}
	d.recorder.record(newAction(PhaseRemoveDevices, kind, subject, res))
	return res
}
