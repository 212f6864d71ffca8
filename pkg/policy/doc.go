// Package policy reviews decommissioning plans with Open Policy Agent.
//
// A Guard holds a set of Rego modules. Each module defines a deny set in its
// package; every element is an object with kind, subject, message and an
// optional severity. Before a plan is shown for confirmation the Guard
// evaluates every enabled module against the plan and moves each subject with
// an error or critical violation into the plan's exclusions. Warnings are
// logged and the subject stays in the plan.
//
// # Built-in policies
//
//   - protected-paths: drive roots, the Windows directory, System32, the
//     Program Files roots, ProgramData and the user profile root
//   - registry-depth: keys with fewer than three segments and keys shared by
//     the operating system, such as the Uninstall root
//   - protected-services: core Windows services and the platform services the
//     run suspends
//   - module-coverage: warns about modules that no planned file tree contains
//
// # Input
//
//	{
//	  "product": "Contoso Secure Client",
//	  "os_major": 10,
//	  "targets": [{"kind": "file_tree", "path": "C:\\Program Files\\Contoso", "origin": "file_tree"}],
//	  "services": [{"name": "ContosoAgent", "display_name": "Contoso Agent"}],
//	  "modules": ["C:\\Program Files\\Contoso\\shellext.dll"],
//	  "platform_services": ["EventLog", "Winmgmt"]
//	}
//
// # Custom policies
//
// Extra .rego and .json files are loaded with LoadPaths. A .rego file is named
// after the file and defaults to warning severity; a .json file carries name,
// description, rego and severity fields.
//
//	guard, err := policy.NewGuard(ctx, logger, knowledge.PlatformServices)
//	if err != nil {
//	    return err
//	}
//	if err := guard.LoadPaths(ctx, "/etc/decom/policies"); err != nil {
//	    return err
//	}
//	orch, err := engine.NewOrchestrator(host, knowledge, settings, logger, engine.WithGuard(guard))
package policy
