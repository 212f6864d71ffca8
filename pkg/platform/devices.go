package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openfroyo/decom/pkg/engine"
)

// PowerShellDevices is the engine.DeviceManager backed by the NetAdapter and
// PnpDevice cmdlets and pnputil.
type PowerShellDevices struct {
	Runner CommandRunner
}

var _ engine.DeviceManager = (*PowerShellDevices)(nil)

type netAdapterJSON struct {
	Name                 string `json:"Name"`
	InterfaceDescription string `json:"InterfaceDescription"`
	PnPDeviceID          string `json:"PnPDeviceID"`
}

type pnpDeviceJSON struct {
	InstanceID   string `json:"InstanceId"`
	FriendlyName string `json:"FriendlyName"`
	Class        string `json:"Class"`
}

// ListAdapters returns every network adapter including hidden ones.
func (d *PowerShellDevices) ListAdapters(ctx context.Context) ([]engine.AdapterDescriptor, error) {
	out, err := d.powershell(ctx, "Get-NetAdapter -IncludeHidden | Select-Object Name,InterfaceDescription,PnPDeviceID | ConvertTo-Json -Compress")
	if err != nil {
		return nil, err
	}
	raw, err := decodeJSONList[netAdapterJSON](out)
	if err != nil {
		return nil, fmt.Errorf("failed to parse adapter list: %w", err)
	}
	adapters := make([]engine.AdapterDescriptor, 0, len(raw))
	for _, a := range raw {
		adapters = append(adapters, engine.AdapterDescriptor{
			Name:        a.Name,
			Description: a.InterfaceDescription,
			InstanceID:  a.PnPDeviceID,
		})
	}
	return adapters, nil
}

// RemoveAdapter removes the device backing the adapter.
func (d *PowerShellDevices) RemoveAdapter(ctx context.Context, adapter engine.AdapterDescriptor) error {
	if adapter.InstanceID == "" {
		return engine.NewNotFoundError("adapter has no device instance", nil).WithSubject(adapter.Name)
	}
	return d.pnputilRemove(ctx, adapter.InstanceID)
}

// ListDevices returns the PnP devices of class.
func (d *PowerShellDevices) ListDevices(ctx context.Context, class string) ([]engine.DeviceDescriptor, error) {
	script := fmt.Sprintf("Get-PnpDevice -Class %s -ErrorAction SilentlyContinue | Select-Object InstanceId,FriendlyName,Class | ConvertTo-Json -Compress", psQuote(class))
	out, err := d.powershell(ctx, script)
	if err != nil {
		return nil, err
	}
	raw, err := decodeJSONList[pnpDeviceJSON](out)
	if err != nil {
		return nil, fmt.Errorf("failed to parse device list: %w", err)
	}
	devices := make([]engine.DeviceDescriptor, 0, len(raw))
	for _, r := range raw {
		devices = append(devices, engine.DeviceDescriptor{
			InstanceID:   r.InstanceID,
			FriendlyName: r.FriendlyName,
			Class:        r.Class,
		})
	}
	return devices, nil
}

// DisableDevice disables a device without prompting.
func (d *PowerShellDevices) DisableDevice(ctx context.Context, device engine.DeviceDescriptor) error {
	_, err := d.powershell(ctx, fmt.Sprintf("Disable-PnpDevice -InstanceId %s -Confirm:$false", psQuote(device.InstanceID)))
	if err != nil {
		return engine.NewSystemError("failed to disable device", err).WithSubject(device.InstanceID)
	}
	return nil
}

// RemoveDevice removes a device and its driver binding.
func (d *PowerShellDevices) RemoveDevice(ctx context.Context, device engine.DeviceDescriptor) error {
	return d.pnputilRemove(ctx, device.InstanceID)
}

// pnputil exit codes that mean the device is already gone.
const (
	pnputilNoMoreItems  = 259
	pnputilNotFoundCode = 0xE000020B
)

func (d *PowerShellDevices) pnputilRemove(ctx context.Context, instanceID string) error {
	res, err := d.Runner.Run(ctx, "pnputil.exe", "/remove-device", instanceID)
	if err != nil {
		return engine.NewSystemError("failed to launch pnputil", err).WithSubject(instanceID).WithCode(engine.ErrCodeLaunchFailed)
	}
	switch uint32(res.ExitCode) {
	case 0:
		return nil
	case pnputilNoMoreItems, pnputilNotFoundCode:
		return engine.NewNotFoundError("device not present", nil).WithSubject(instanceID)
	}
	return engine.NewSystemError(fmt.Sprintf("pnputil exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stdout)), nil).
		WithSubject(instanceID).WithCode(engine.ErrCodeNonZeroExit)
}

func (d *PowerShellDevices) powershell(ctx context.Context, script string) ([]byte, error) {
	res, err := d.Runner.Run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command", script)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("powershell exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return []byte(res.Stdout), nil
}

// decodeJSONList decodes ConvertTo-Json output, which is empty for no
// results, an object for one result and an array otherwise.
func decodeJSONList[T any](data []byte) ([]T, error) {
	data = bytes.TrimSpace(data)
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '[' {
		var list []T
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}

// psQuote quotes s as a PowerShell single-quoted literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
