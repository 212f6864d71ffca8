package engine_test

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/openfroyo/decom/pkg/engine"
	"github.com/openfroyo/decom/pkg/platform/memhost"
)

// fakeClock fires every wait immediately and records the requested durations.
type fakeClock struct {
	clock.Clock

	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) NewTimer(d time.Duration) clock.Timer {
	return &fakeTimer{ch: c.After(d)}
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	t := &fakeTimer{ch: c.After(d)}
	f()
	return t
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

type fakeTimer struct {
	ch <-chan time.Time
}

func (t *fakeTimer) Chan() <-chan time.Time   { return t.ch }
func (t *fakeTimer) Reset(time.Duration) bool { return false }
func (t *fakeTimer) Stop() bool               { return false }

const (
	productName   = "Contoso Secure Client"
	productID     = "ABCD-1234"
	installerID   = "{0F3C8D2A-7B11-4E59-9A2C-5D1E0B7A4C21}"
	programFiles  = `C:\Program Files`
	programData   = `C:\ProgramData`
	installDir    = `C:\Program Files\Contoso\Secure Client`
	dataDir       = `C:\ProgramData\Contoso`
	sharedDir     = `C:\Program Files (x86)\Common Files\Contoso`
	vendorKey     = `HKLM\SOFTWARE\Contoso`
	vendorKeyWow  = `HKLM\SOFTWARE\WOW6432Node\Contoso`
	shellExtPath  = `C:\Program Files\Contoso\Secure Client\shellext.dll`
	legacyCLSID   = `HKCR\CLSID\{2B7C1E44-3A9F-4C7D-8E11-6F0A2D5B9C30}`
	legacyUninst1 = `HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall\ContosoClient`
	legacyUninst2 = `HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall\Contoso Secure Client`
)

func testKnowledge() engine.Knowledge {
	return engine.Knowledge{
		Product:           productName,
		LegacyEntries:     []string{legacyCLSID, legacyUninst1, legacyUninst2},
		VendorKeys:        []string{vendorKey, vendorKeyWow},
		FileTrees:         []string{`%ProgramFiles%\Contoso\Secure Client`, `%ProgramData%\Contoso`, sharedDir},
		ModulePaths:       []string{`%ProgramFiles%\Contoso\Secure Client\shellext.dll`},
		ServicePattern:    "*Contoso*",
		AuxiliaryServices: []string{"Secure Tunnel Helper"},
		AdapterPattern:    "Contoso Virtual Ethernet*",
		DevicePattern:     "*Contoso*",
	}
}

func testSettings() engine.Settings {
	s := engine.DefaultSettings()
	s.SkipConfirmation = true
	return s
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// newHost returns a host with the environment the knowledge expands against.
func newHost() *memhost.Host {
	return memhost.New().
		SetEnv("ProgramFiles", programFiles).
		SetEnv("ProgramData", programData)
}

// registerProduct adds the installer product entry the locator searches for.
func registerProduct(h *memhost.Host) *memhost.Host {
	return h.AddKey(engine.DefaultProductsNamespace+`\`+productID+`\InstallProperties`, map[string]string{
		"DisplayName":     productName,
		"UninstallString": "MsiExec.exe /X" + installerID,
	})
}

// installProduct lays down a full footprint.
func installProduct(h *memhost.Host) *memhost.Host {
	registerProduct(h)
	h.AddKey(`HKCR\Installer\Products\`+productID, map[string]string{"ProductName": productName})
	h.AddKey(`HKLM\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall\`+installerID, nil)
	h.AddKey(vendorKey+`\Settings`, map[string]string{"Mode": "managed"})
	h.AddFile(installDir+`\client.exe`, 4096)
	h.AddFile(installDir+`\drivers\vnic.sys`, 1024)
	h.AddModule(shellExtPath, 0)
	h.AddFile(dataDir+`\logs\client.log`, 512)

	h.AddService("EventLog", "Windows Event Log", engine.ServiceRunning)
	h.AddService("Winmgmt", "Windows Management Instrumentation", engine.ServiceRunning)
	h.AddService("wscsvc", "Security Center", engine.ServiceRunning)
	h.AddService("CSCAgent", "Contoso Secure Client Agent", engine.ServiceRunning, memhost.DependsOn("EventLog"))
	h.AddService("CSTunnel", "Secure Tunnel Helper", engine.ServiceStopped)
	h.AddService("Backup", "Fabrikam Backup", engine.ServiceRunning, memhost.DependsOn("Winmgmt"))
	h.AddService("Spooler", "Print Spooler", engine.ServiceRunning)

	h.AddAdapter(engine.AdapterDescriptor{Name: "Ethernet 2", Description: "Contoso Virtual Ethernet Adapter", InstanceID: `ROOT\NET\0001`})
	h.AddAdapter(engine.AdapterDescriptor{Name: "Ethernet", Description: "Intel(R) Ethernet Connection", InstanceID: `PCI\VEN_8086\1`})
	h.AddDevice(engine.DeviceDescriptor{InstanceID: `ROOT\NET\0002`, FriendlyName: "Contoso Tunnel Miniport", Class: "Net"})
	h.AddDevice(engine.DeviceDescriptor{InstanceID: `USB\VID_1\2`, FriendlyName: "Contoso Token Reader", Class: "SmartCardReader"})
	return h
}

func targetPaths(targets []engine.Target) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.Path)
	}
	return out
}

func serviceNames(services []engine.ServiceDescriptor) []string {
	out := make([]string, 0, len(services))
	for _, s := range services {
		out = append(out, s.Name)
	}
	return out
}

var ctx = context.Background()
