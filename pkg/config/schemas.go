package config

// documentSchema is unified with every loaded document. Defaults here are the
// reference tunables.
const documentSchema = `
#Duration: =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#FilePath: =~"^([A-Za-z]:[\\\\/]|[\\\\/]|%[^%\\\\/]+%([\\\\/]|$))"

#ConditionalTarget: {
	kind:  "config_entry" | "file_tree"
	path:  string & !=""
	when?: string

	if kind == "file_tree" {
		path: #FilePath
	}
}

#Profile: {
	name:         =~"^[a-z0-9][a-z0-9-]*$"
	product:      string & !=""
	description?: string

	productsNamespace?: string
	installerNamespaces?: [...(string & =~"\\{product_id\\}")]
	uninstallKey?: string & =~"\\{installer_id\\}"

	legacyBelowMajor?: int & >=0
	legacyEntries?: [...string]

	conditional?: [...#ConditionalTarget]

	vendorKeys?: [...string]
	fileTrees?: [...#FilePath]
	modulePaths?: [...#FilePath]

	services: {
		pattern: string & !=""
		auxiliary?: [...string]
	}
	devices?: {
		adapterPattern?: string
		devicePattern?:  string
		class?:          string
	}

	platformServices?: [...string]
	monitoringServices?: [...string]
}

#Settings: {
	retry: {
		attempts: int & >=1 & <=100 | *3
		delay:    #Duration | *"2s"
	}
	settle: #Duration | *"5s"
	dependents: enabled: bool | *true
	preserveNetworkAdapters: bool | *false
	skipConfirmation:        bool | *false
	failOnResiduals:         bool | *false
	journal: path: string | *""
	policies: {
		paths?: [...string]
		disabled?: [...string]
	}
	metrics: {
		textfile:    string | *""
		pushgateway: string | *""
		job:         string | *"decom"
	}
	logging: {
		level:  "trace" | "debug" | *"info" | "warn" | "error"
		format: *"console" | "json"
		output: string | *"stderr"
	}
	tracing: {
		exporter: "stdout" | "otlp" | *"none"
		endpoint: string | *""
		insecure: bool | *true
	}
}

#Document: {
	profile:  #Profile
	settings: #Settings
}
`
