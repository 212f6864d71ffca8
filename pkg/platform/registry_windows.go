//go:build windows

package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/openfroyo/decom/pkg/engine"
)

var procRegDeleteTreeW = windows.NewLazySystemDLL("advapi32.dll").NewProc("RegDeleteTreeW")

// WindowsRegistry is the engine.Registry backed by the native registry,
// always addressing the 64-bit view.
type WindowsRegistry struct{}

var _ engine.Registry = WindowsRegistry{}

var hives = map[string]registry.Key{
	"HKLM":                registry.LOCAL_MACHINE,
	"HKEY_LOCAL_MACHINE":  registry.LOCAL_MACHINE,
	"HKCR":                registry.CLASSES_ROOT,
	"HKEY_CLASSES_ROOT":   registry.CLASSES_ROOT,
	"HKCU":                registry.CURRENT_USER,
	"HKEY_CURRENT_USER":   registry.CURRENT_USER,
	"HKU":                 registry.USERS,
	"HKEY_USERS":          registry.USERS,
	"HKCC":                registry.CURRENT_CONFIG,
	"HKEY_CURRENT_CONFIG": registry.CURRENT_CONFIG,
}

// splitKeyPath separates the hive prefix from the subkey path.
func splitKeyPath(path string) (registry.Key, string, error) {
	hive, sub, _ := strings.Cut(strings.Trim(path, `\`), `\`)
	root, ok := hives[strings.ToUpper(hive)]
	if !ok {
		return 0, "", engine.NewSystemError(fmt.Sprintf("unknown registry hive %q", hive), nil).WithSubject(path)
	}
	return root, sub, nil
}

func (WindowsRegistry) open(path string, access uint32) (registry.Key, error) {
	root, sub, err := splitKeyPath(path)
	if err != nil {
		return 0, err
	}
	k, err := registry.OpenKey(root, sub, access|registry.WOW64_64KEY)
	if err != nil {
		return 0, classifyRegistry("open", path, err)
	}
	return k, nil
}

// SubKeys returns the direct children of path.
func (r WindowsRegistry) SubKeys(_ context.Context, path string) ([]string, error) {
	k, err := r.open(path, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil, err
	}
	defer k.Close()
	names, err := k.ReadSubKeyNames(-1)
	if err != nil {
		return nil, classifyRegistry("enumerate", path, err)
	}
	return names, nil
}

// StringValue reads a REG_SZ or REG_EXPAND_SZ value.
func (r WindowsRegistry) StringValue(_ context.Context, path, name string) (string, error) {
	k, err := r.open(path, registry.QUERY_VALUE)
	if err != nil {
		return "", err
	}
	defer k.Close()
	v, _, err := k.GetStringValue(name)
	if err != nil {
		return "", classifyRegistry("read", path+`\`+name, err)
	}
	return v, nil
}

// KeyExists reports whether the key can be opened.
func (r WindowsRegistry) KeyExists(_ context.Context, path string) (bool, error) {
	k, err := r.open(path, registry.QUERY_VALUE)
	if err != nil {
		if engine.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	k.Close()
	return true, nil
}

// DeleteTree deletes the key and all of its descendants with RegDeleteTreeW.
func (WindowsRegistry) DeleteTree(_ context.Context, path string) error {
	root, sub, err := splitKeyPath(path)
	if err != nil {
		return err
	}
	if sub == "" {
		return engine.NewPermissionError("refusing to delete a registry hive", nil).WithSubject(path)
	}
	parentPath, leaf := "", sub
	if i := strings.LastIndex(sub, `\`); i >= 0 {
		parentPath, leaf = sub[:i], sub[i+1:]
	}
	parent, err := registry.OpenKey(root, parentPath, registry.ALL_ACCESS|registry.WOW64_64KEY)
	if err != nil {
		return classifyRegistry("delete", path, err)
	}
	defer parent.Close()

	leafPtr, err := windows.UTF16PtrFromString(leaf)
	if err != nil {
		return engine.NewSystemError("invalid key name", err).WithSubject(path)
	}
	ret, _, _ := procRegDeleteTreeW.Call(uintptr(parent), uintptr(unsafe.Pointer(leafPtr)))
	if ret != 0 {
		return classifyRegistry("delete", path, windows.Errno(ret))
	}
	return nil
}

func classifyRegistry(op, subject string, err error) error {
	if errors.Is(err, registry.ErrNotExist) {
		return engine.NewNotFoundError(op+" failed", err).WithSubject(subject).WithOperation(op)
	}
	return classify(op, subject, err)
}
