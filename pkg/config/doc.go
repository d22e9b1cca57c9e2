// Package config loads and validates the Fleetyard engine configuration.
//
// Configuration is a single YAML document covering the SQLite store, the
// recipe catalog, admission policies, the yard inventory, microservice
// dispatch, the time-out watcher, and telemetry. Unknown keys are rejected
// so typos fail loudly at startup instead of silently falling back to
// defaults.
//
// # Usage Example
//
//	cfg, err := config.Load("fleetyard.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store, err := stores.NewSQLiteStore(cfg.Store.StoreOptions())
//
// Load applies defaults before validation, so a minimal file only needs to
// override what differs from DefaultConfig.
package config
