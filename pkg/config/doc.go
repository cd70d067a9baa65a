// Package config loads and validates castellan deployment configuration.
//
// # Overview
//
// A deployment is described by one YAML document: the remote endpoint, the
// target workspace identifiers, the settings and connectors to reconcile,
// the rule manifest location, and the ambient concerns (journal, policy,
// telemetry, logging). The loader decodes the document, applies environment
// overrides and defaults, then validates it twice: struct-tag validation for
// field-level constraints and CUE schema unification for document shape.
//
// # Components
//
// Loader: reads and validates configuration documents. Parse accepts raw
// YAML, Load reads a file.
//
// SchemaRegistry: manages CUE schemas. Built-in schemas cover the document
// root, individual settings, and the telemetry block; callers can register
// additional schemas.
//
// # Usage Example
//
//	loader := config.NewLoader()
//	cfg, err := loader.Load(ctx, "deploy.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	req, err := cfg.ToRequest()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// ToRequest converts the validated document into the pipeline request the
// orchestrator consumes, building one desired setting per enabled entry.
package config
