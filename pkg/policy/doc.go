// Package policy provides Open Policy Agent (OPA) admission control for
// Fleetyard missions.
//
// Missions are evaluated against Rego policies before they enter
// preparation. Built-in policies cover structural checks (undefined mission
// type, empty agent reservation, oversized fan-out); operators can add their
// own .rego or .json policies and have them hot-reloaded.
//
// # Usage
//
// Creating the engine and wiring it into the orchestrator:
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	admission := policy.NewAdmission(engine, catalog, logger)
//	orch := orchestrator.NewEngine(store, catalog, yards, gateway, dispatcher,
//	    logger, orchestrator.Options{Admission: admission})
//
// Loading operator policies:
//
//	err = engine.LoadPolicies(ctx, []string{"/etc/fleetyard/policies"})
//
// # Custom Policies
//
// Policies live under the fleetyard package namespace and report violations
// through their deny set. The input document carries the mission under
// work_process plus a known_type flag:
//
//	package fleetyard.admission.payload
//
//	import rego.v1
//
//	deny contains violation if {
//	    not input.work_process.data.pallet_id
//	    violation := {
//	        "message": "transport missions must name a pallet",
//	        "severity": "error",
//	    }
//	}
//
// A deny entry may be a string or a mapping with message and severity keys.
// Violations with error or critical severity reject the mission, which the
// orchestrator records as planning_failed. info and warning findings are
// logged and the mission proceeds.
//
// # Hot Reload
//
// The loader watches policy files and swaps the operator set on change:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, engine.ReplacePolicies)
package policy
