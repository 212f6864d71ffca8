package platform

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/openfroyo/decom/pkg/engine"
)

// scriptedRunner returns canned results keyed by executable name.
type scriptedRunner struct {
	results map[string]*ExecResult
	errs    map[string]error
	calls   [][]string
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) (*ExecResult, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if err := r.errs[name]; err != nil {
		return nil, err
	}
	if res, ok := r.results[name]; ok {
		return res, nil
	}
	return &ExecResult{}, nil
}

func TestDecodeJSONList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []pnpDeviceJSON
	}{
		{name: "empty", input: "  \r\n", want: nil},
		{name: "null", input: "null", want: nil},
		{name: "single object", input: `{"InstanceId":"ROOT\\NET\\0001","FriendlyName":"Tunnel","Class":"Net"}`,
			want: []pnpDeviceJSON{{InstanceID: `ROOT\NET\0001`, FriendlyName: "Tunnel", Class: "Net"}}},
		{name: "array with bom", input: "\xef\xbb\xbf" + `[{"InstanceId":"A"},{"InstanceId":"B"}]`,
			want: []pnpDeviceJSON{{InstanceID: "A"}, {InstanceID: "B"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeJSONList[pnpDeviceJSON]([]byte(tt.input))
			if err != nil {
				t.Fatalf("decodeJSONList() error = %v", err)
			}
			if !reflect.DeepEqual(tt.want, got) {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}

	if _, err := decodeJSONList[pnpDeviceJSON]([]byte("{not json")); err == nil {
		t.Error("Expected error for malformed JSON, got nil")
	}
}

func TestPowerShellDevices_ListAdapters(t *testing.T) {
	runner := &scriptedRunner{results: map[string]*ExecResult{
		"powershell.exe": {Stdout: `[{"Name":"Ethernet 2","InterfaceDescription":"Contoso Virtual Ethernet Adapter","PnPDeviceID":"ROOT\\NET\\0001"},{"Name":"Ethernet","InterfaceDescription":"Intel","PnPDeviceID":"PCI\\1"}]`},
	}}
	d := &PowerShellDevices{Runner: runner}

	adapters, err := d.ListAdapters(context.Background())
	if err != nil {
		t.Fatalf("ListAdapters() error = %v", err)
	}
	want := []engine.AdapterDescriptor{
		{Name: "Ethernet 2", Description: "Contoso Virtual Ethernet Adapter", InstanceID: `ROOT\NET\0001`},
		{Name: "Ethernet", Description: "Intel", InstanceID: `PCI\1`},
	}
	if !slices.Equal(want, adapters) {
		t.Errorf("Expected %+v, got %+v", want, adapters)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("Expected 1 call, got %d", len(runner.calls))
	}
	if script := runner.calls[0][len(runner.calls[0])-1]; !strings.Contains(script, "-IncludeHidden") {
		t.Errorf("Expected hidden adapters to be included, got %s", script)
	}
}

func TestPowerShellDevices_ListDevicesQuotesClass(t *testing.T) {
	runner := &scriptedRunner{}
	d := &PowerShellDevices{Runner: runner}

	devices, err := d.ListDevices(context.Background(), "Net'; Remove-Item C:\\")
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("Expected no devices, got %+v", devices)
	}
	script := runner.calls[0][len(runner.calls[0])-1]
	if !strings.Contains(script, `-Class 'Net''; Remove-Item C:\'`) {
		t.Errorf("Expected the class to be quoted, got %s", script)
	}
}

func TestPowerShellDevices_PowerShellFailure(t *testing.T) {
	runner := &scriptedRunner{results: map[string]*ExecResult{
		"powershell.exe": {ExitCode: 1, Stderr: "Get-NetAdapter : not recognized"},
	}}
	_, err := (&PowerShellDevices{Runner: runner}).ListAdapters(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not recognized") {
		t.Errorf("Expected error carrying stderr, got %v", err)
	}
}

func TestPowerShellDevices_RemoveDevice(t *testing.T) {
	tests := []struct {
		name      string
		exitCode  int
		launchErr error
		check     func(t *testing.T, err error)
	}{
		{name: "removed", exitCode: 0, check: func(t *testing.T, err error) {
			if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		}},
		{name: "no more items", exitCode: 259, check: expectNotFound},
		{name: "not present", exitCode: int(int32(-536870389)), check: expectNotFound},
		{name: "other exit", exitCode: 5, check: func(t *testing.T, err error) {
			if engine.Classify(err) != engine.ErrorClassSystem {
				t.Errorf("Expected system error, got %v", err)
			}
			if err == nil || !strings.Contains(err.Error(), "code 5") {
				t.Errorf("Expected the exit code in the error, got %v", err)
			}
		}},
		{name: "launch failure", launchErr: errors.New("not found"), check: func(t *testing.T, err error) {
			if !errors.Is(err, &engine.EngineError{Class: engine.ErrorClassSystem, Code: engine.ErrCodeLaunchFailed}) {
				t.Errorf("Expected a launch failure, got %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{
				results: map[string]*ExecResult{"pnputil.exe": {ExitCode: tt.exitCode}},
				errs:    map[string]error{"pnputil.exe": tt.launchErr},
			}
			d := &PowerShellDevices{Runner: runner}
			err := d.RemoveDevice(context.Background(), engine.DeviceDescriptor{InstanceID: `ROOT\NET\0002`})
			tt.check(t, err)
			if want := []string{"pnputil.exe", "/remove-device", `ROOT\NET\0002`}; !slices.Equal(want, runner.calls[0]) {
				t.Errorf("Expected call %v, got %v", want, runner.calls[0])
			}
		})
	}
}

func TestPowerShellDevices_RemoveAdapterWithoutInstance(t *testing.T) {
	runner := &scriptedRunner{}
	err := (&PowerShellDevices{Runner: runner}).RemoveAdapter(context.Background(), engine.AdapterDescriptor{Name: "Ghost"})
	expectNotFound(t, err)
	if len(runner.calls) != 0 {
		t.Errorf("Expected no calls, got %v", runner.calls)
	}
}

func expectNotFound(t *testing.T, err error) {
	t.Helper()
	if !engine.IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}
