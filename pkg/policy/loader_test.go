package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

const sampleRego = `package fleetyard.admission.payload

# Transport missions must name a pallet
# in their mission payload.

import rego.v1

deny contains violation if {
	not input.work_process.data.pallet_id
	violation := {"message": "transport missions must name a pallet", "severity": "error"}
}
`

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}
	return path
}

func TestLoadFromFileRego(t *testing.T) {
	loader := NewLoader(testLogger())
	path := writePolicyFile(t, t.TempDir(), "require-pallet.rego", sampleRego)

	policy, err := loader.LoadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "require-pallet" {
		t.Errorf("Expected name 'require-pallet', got '%s'", policy.Name)
	}
	if policy.Rego != sampleRego {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected default severity error, got %s", policy.Severity)
	}
	if policy.Description == "" {
		t.Error("Expected description from leading comments")
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	loader := NewLoader(testLogger())

	policy := Policy{
		Name:        "night-review",
		Description: "Night missions get flagged for review",
		Rego:        "package fleetyard.admission.hours\n\nimport rego.v1\n",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"operator"},
	}
	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	path := writePolicyFile(t, t.TempDir(), "night-review.json", string(data))

	loaded, err := loader.LoadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if loaded.Name != policy.Name {
		t.Errorf("Expected name '%s', got '%s'", policy.Name, loaded.Name)
	}
	if loaded.Severity != SeverityWarning {
		t.Errorf("Expected severity warning, got '%s'", loaded.Severity)
	}
	if loaded.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt default")
	}
}

func TestLoadFromFileUnsupportedType(t *testing.T) {
	loader := NewLoader(testLogger())
	path := writePolicyFile(t, t.TempDir(), "notes.txt", "not a policy")

	if _, err := loader.LoadFromFile(path); err == nil {
		t.Error("Expected unsupported file type to be rejected")
	}
}

func TestLoadFromFileInvalidJSON(t *testing.T) {
	loader := NewLoader(testLogger())
	path := writePolicyFile(t, t.TempDir(), "broken.json", "{not json")

	if _, err := loader.LoadFromFile(path); err == nil {
		t.Error("Expected invalid JSON to be rejected")
	}
}

func TestLoadFromFileCaches(t *testing.T) {
	loader := NewLoader(testLogger())
	path := writePolicyFile(t, t.TempDir(), "require-pallet.rego", sampleRego)

	first, err := loader.LoadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	second, err := loader.LoadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if first != second {
		t.Error("Expected the cached policy instance")
	}

	loader.ClearCache()
	third, err := loader.LoadFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if first == third {
		t.Error("Expected a fresh instance after ClearCache")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(testLogger())

	dir := t.TempDir()
	writePolicyFile(t, dir, "require-pallet.rego", sampleRego)
	writePolicyFile(t, dir, "broken.json", "{not json")
	writePolicyFile(t, dir, "notes.txt", "ignored")

	sub := filepath.Join(dir, "extra")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}
	writePolicyFile(t, sub, "other.rego", "package fleetyard.admission.other\n\nimport rego.v1\n")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	// Broken and non-policy files are skipped, subdirectories are walked.
	if len(policies) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(policies))
	}
}

func TestLoadFromPathsNonExistent(t *testing.T) {
	loader := NewLoader(testLogger())
	_, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "absent")})
	if err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestLoadedPoliciesEvaluate(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	dir := t.TempDir()
	writePolicyFile(t, dir, "require-pallet.rego", sampleRego)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), admissionInput(validMission(), true))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected the loaded pallet policy to reject a mission without a pallet")
	}
	if !hasViolation(result, "require-pallet") {
		t.Errorf("Expected require-pallet violation, got %+v", result.Violations)
	}
}
