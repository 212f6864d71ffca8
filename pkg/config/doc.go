// Package config loads decommissioning documents written in CUE.
//
// # Overview
//
// A document has two top-level fields. profile describes one product: its
// installer display name, registry and file locations, services, handler
// modules and devices. settings holds the run tunables: retry bounds, the
// settle wait, dependent suspension, journal, metrics, logging and tracing.
//
// # Loading
//
// Loader unifies each document with the built-in #Document schema, which
// supplies defaults and rejects unknown fields, then decodes it and runs
// struct validation with go-playground/validator. Custom validators check
// glob patterns, durations and conditions.
//
//	loader, err := config.NewLoader()
//	if err != nil {
//	    return err
//	}
//	doc, err := loader.LoadFile("contoso.cue")
//	if err != nil {
//	    return err
//	}
//	knowledge, err := doc.Profile.Knowledge()
//	settings, err := doc.Settings.EngineSettings()
//
// Built-in profiles are embedded and loaded by name with LoadProfile.
//
// # Conditions
//
// Conditional targets carry a Starlark expression over the host facts
// os_major and arch, for example:
//
//	arch == "amd64" and os_major < 6
//
// Expressions are checked when the document loads and evaluated by the
// planner against the live host.
package config
