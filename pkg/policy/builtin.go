package policy

import (
	"time"
)

// GetBuiltinPolicies returns the admission policies compiled into every
// engine.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		missionTypePolicy(),
		agentReservationPolicy(),
		fanOutPolicy(),
	}
}

// missionTypePolicy rejects missions whose type has no recipe.
func missionTypePolicy() Policy {
	return Policy{
		Name:        "mission-type-defined",
		Description: "Rejects missions whose type is not defined in the recipe catalog",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"admission", "recipes"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fleetyard.admission.mission_type

import rego.v1

deny contains violation if {
	not input.known_type
	violation := {
		"message": sprintf("mission type '%s' is not defined", [input.work_process.work_process_type_name]),
		"severity": "error",
	}
}
`,
	}
}

// agentReservationPolicy rejects missions that name no agents at all. A
// mission without agents can never produce a dispatchable assignment.
func agentReservationPolicy() Policy {
	return Policy{
		Name:        "agents-reserved",
		Description: "Rejects missions without any agent reservation",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"admission", "agents"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fleetyard.admission.agents

import rego.v1

deny contains violation if {
	count(object.get(input.work_process, "agent_ids", [])) == 0
	count(object.get(input.work_process, "agent_uuids", [])) == 0
	violation := {
		"message": "mission reserves no agents",
		"severity": "error",
	}
}
`,
	}
}

// fanOutPolicy caps the agent reservation size.
func fanOutPolicy() Policy {
	return Policy{
		Name:        "agent-fan-out",
		Description: "Rejects missions reserving more agents than the orchestrator is sized for",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"admission", "agents", "limits"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package fleetyard.admission.fan_out

import rego.v1

reserved := count(object.get(input.work_process, "agent_ids", [])) +
	count(object.get(input.work_process, "agent_uuids", []))

deny contains violation if {
	reserved > 32
	violation := {
		"message": sprintf("mission reserves %d agents, limit is 32", [reserved]),
		"severity": "error",
	}
}
`,
	}
}
