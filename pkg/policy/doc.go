// Package policy provides Open Policy Agent (OPA) integration for Castellan.
//
// This package gates deployments with Rego policies. Before rule content is
// pushed or a role binding is created, the engine evaluates the manifest, each
// detection rule, and the role grant against the built-in policies plus any
// operator-supplied .rego files.
//
// # Usage
//
// Creating a policy engine and gating a manifest:
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//
//	result, err := engine.EvaluateManifest(ctx, manifest)
//	if err != nil {
//	    return err
//	}
//	if !result.Allowed {
//	    // refuse the deployment and report result.Violations
//	}
//
// Custom policies loaded from disk add to the built-ins; a policy blocks when
// any of its deny results carries error or critical severity. Warning and info
// results are reported but do not block.
package policy
