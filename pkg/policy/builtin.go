package policy

// Builtin returns the policies every guard starts with.
func Builtin() []Policy {
	return []Policy{
		protectedPathsPolicy(),
		registryDepthPolicy(),
		protectedServicesPolicy(),
		moduleCoveragePolicy(),
	}
}

// protectedPathsPolicy refuses file trees that are, or contain, an OS root.
func protectedPathsPolicy() Policy {
	return Policy{
		Name:        "protected-paths",
		Description: "Refuses drive roots, the Windows directory, Program Files roots and the user profile root",
		Severity:    SeverityCritical,
		Enabled:     true,
		Source:      "builtin",
		Rego: `package decom.guard.paths

import rego.v1

protected := {
	"c:\\windows",
	"c:\\windows\\system32",
	"c:\\windows\\system32\\drivers",
	"c:\\windows\\syswow64",
	"c:\\program files",
	"c:\\program files (x86)",
	"c:\\program files\\common files",
	"c:\\program files (x86)\\common files",
	"c:\\programdata",
	"c:\\users",
}

normalized(p) := trim_right(replace(lower(p), "/", "\\"), "\\")

deny contains violation if {
	some t in input.targets
	t.kind == "file_tree"
	regex.match("^[a-z]:$", normalized(t.path))
	violation := {
		"kind": t.kind,
		"subject": t.path,
		"message": sprintf("%s is a drive root", [t.path]),
	}
}

deny contains violation if {
	some t in input.targets
	t.kind == "file_tree"
	normalized(t.path) in protected
	violation := {
		"kind": t.kind,
		"subject": t.path,
		"message": sprintf("%s is a protected system directory", [t.path]),
	}
}

deny contains violation if {
	some t in input.targets
	t.kind == "file_tree"
	p := normalized(t.path)
	not regex.match("^[a-z]:$", p)
	some q in protected
	startswith(q, concat("", [p, "\\"]))
	violation := {
		"kind": t.kind,
		"subject": t.path,
		"message": sprintf("%s contains the protected directory %s", [t.path, q]),
	}
}
`,
	}
}

// registryDepthPolicy refuses hive roots and shared configuration keys.
func registryDepthPolicy() Policy {
	return Policy{
		Name:        "registry-depth",
		Description: "Refuses registry keys with fewer than three segments and shared system keys",
		Severity:    SeverityError,
		Enabled:     true,
		Source:      "builtin",
		Rego: `package decom.guard.registry

import rego.v1

hives := {
	"hkey_local_machine": "hklm",
	"hkey_classes_root": "hkcr",
	"hkey_current_user": "hkcu",
	"hkey_users": "hku",
}

shared := {
	"hklm\\software\\microsoft",
	"hklm\\software\\microsoft\\windows",
	"hklm\\software\\microsoft\\windows\\currentversion",
	"hklm\\software\\microsoft\\windows\\currentversion\\uninstall",
	"hklm\\software\\microsoft\\windows\\currentversion\\installer",
	"hklm\\software\\wow6432node\\microsoft",
	"hklm\\software\\classes",
	"hklm\\system\\currentcontrolset",
	"hklm\\system\\currentcontrolset\\services",
	"hklm\\system\\currentcontrolset\\services\\eventlog",
	"hklm\\system\\currentcontrolset\\services\\eventlog\\application",
	"hkcr\\clsid",
	"hkcr\\installer",
	"hkcr\\installer\\products",
}

segments(p) := [s | some s in split(lower(p), "\\"); s != ""]

normalized(p) := concat("\\", array.concat([object.get(hives, segs[0], segs[0])], array.slice(segs, 1, count(segs)))) if {
	segs := segments(p)
	count(segs) > 0
}

deny contains violation if {
	some t in input.targets
	t.kind == "config_entry"
	count(segments(t.path)) < 3
	violation := {
		"kind": t.kind,
		"subject": t.path,
		"message": sprintf("%s is too close to the hive root", [t.path]),
	}
}

deny contains violation if {
	some t in input.targets
	t.kind == "config_entry"
	normalized(t.path) in shared
	violation := {
		"kind": t.kind,
		"subject": t.path,
		"message": sprintf("%s is shared by the operating system", [t.path]),
	}
}
`,
	}
}

// protectedServicesPolicy refuses core OS services and the services the
// dependency manager suspends.
func protectedServicesPolicy() Policy {
	return Policy{
		Name:        "protected-services",
		Description: "Refuses core Windows services and the platform services",
		Severity:    SeverityCritical,
		Enabled:     true,
		Source:      "builtin",
		Rego: `package decom.guard.services

import rego.v1

core := {
	"bfe",
	"cryptsvc",
	"dcomlaunch",
	"dhcp",
	"dnscache",
	"eventlog",
	"lanmanserver",
	"lanmanworkstation",
	"mpssvc",
	"netprofm",
	"nsi",
	"plugplay",
	"power",
	"rpceptmapper",
	"rpcss",
	"samss",
	"schedule",
	"trustedinstaller",
	"windefend",
	"winmgmt",
	"wscsvc",
	"wuauserv",
}

platform := {lower(s) | some s in input.platform_services}

deny contains violation if {
	some s in input.services
	lower(s.name) in core
	violation := {
		"kind": "service",
		"subject": s.name,
		"message": sprintf("%s is a core operating system service", [s.name]),
	}
}

deny contains violation if {
	some s in input.services
	lower(s.name) in platform
	violation := {
		"kind": "service",
		"subject": s.name,
		"message": sprintf("%s is suspended and restored by the run", [s.name]),
	}
}
`,
	}
}

// moduleCoveragePolicy warns about modules that are unregistered but not
// deleted because no planned file tree contains them.
func moduleCoveragePolicy() Policy {
	return Policy{
		Name:        "module-coverage",
		Description: "Warns about modules outside every planned file tree",
		Severity:    SeverityWarning,
		Enabled:     true,
		Source:      "builtin",
		Rego: `package decom.guard.modules

import rego.v1

covered(m) if {
	some t in input.targets
	t.kind == "file_tree"
	startswith(lower(m), concat("", [trim_right(lower(t.path), "\\"), "\\"]))
}

deny contains violation if {
	some m in input.modules
	not covered(m)
	violation := {
		"kind": "module",
		"subject": m,
		"message": sprintf("%s is outside every planned file tree and will stay on disk", [m]),
	}
}
`,
	}
}
