// Package engine removes every trace of an installed product from a Windows host.
//
// # Overview
//
// A run moves through a fixed state machine:
//
//  1. Discover - Find the product's installer identities (Locator)
//  2. Plan - Build the ordered removal plan (Planner, PlanGuard)
//  3. Confirm - Ask the operator unless confirmation is skipped (Confirmer)
//  4. Unregister - Unregister shell and handler modules (Unregistrar)
//  5. Stop target services - Stop and uninstall the product's services (Remover)
//  6. Suspend dependents - Stop services that hold files open (DependencyManager)
//  7. Remove targets - Delete registry trees and file trees with retry (Remover)
//  8. Remove devices - Remove virtual adapters and PnP devices (DeviceRemover)
//  9. Restore dependents - Restart what was suspended, always
//  10. Verify - Re-scan for residuals (Verifier)
//
// The run ends in nothing_to_do, declined, completed or completed_with_residuals.
//
// # Host Access
//
// All host access goes through the collaborator interfaces in Host: Registry,
// ServiceControl, FileSystem, ModuleLoader, DeviceManager and OSInfo. The
// platform package implements them for Windows and memhost implements them in
// memory for tests and simulations.
//
// # Error Classification
//
// Host errors are classified so that only transient locks are retried:
//
//   - NotFound: the target is already gone, treated as success
//   - TransientLock: a sharing violation or busy resource, retried
//   - Permission: access denied, never retried
//   - System: any other failure
//
// Removal failures never abort a run. They are recorded as actions on the
// RunReport and surface again as residuals during verification.
//
// # Example Usage
//
//	o, err := engine.NewOrchestrator(host, knowledge, engine.DefaultSettings(), logger,
//	    engine.WithConfirmer(prompt),
//	    engine.WithObserver(journal))
//	if err != nil {
//	    return err
//	}
//	report, err := o.Run(ctx)
package engine
