// Package recipes loads the declarative mission recipe catalog from YAML
// files and serves recipe lookups to the orchestrator. The catalog watches
// its directory and hot-reloads changed recipes without a restart.
package recipes
