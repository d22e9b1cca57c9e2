// Package yards provides a file-backed yard and agent inventory for
// standalone deployments. Production deployments replace it with a reader
// backed by the fleet broker.
package yards

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fleetyard/fleetyard/pkg/orchestrator"
)

// inventoryDoc is the YAML shape of an inventory file.
type inventoryDoc struct {
	Yards []yardDoc `yaml:"yards" validate:"required,min=1,dive"`
}

type yardDoc struct {
	ID     string                 `yaml:"id" validate:"required"`
	UID    string                 `yaml:"uid" validate:"required"`
	Name   string                 `yaml:"name"`
	Map    map[string]interface{} `yaml:"map"`
	Agents []agentDoc             `yaml:"agents" validate:"dive"`
}

type agentDoc struct {
	ID   string `yaml:"id" validate:"required"`
	UUID string `yaml:"uuid" validate:"required"`
	Name string `yaml:"name"`
}

// StaticInventory is an immutable orchestrator.YardReader loaded from a YAML
// file.
type StaticInventory struct {
	yardsByUID   map[string]*orchestrator.Yard
	yardsByID    map[string]*orchestrator.Yard
	agentsByUUID map[string]*orchestrator.Agent
	agentsByID   map[string]*orchestrator.Agent
	agentsByYard map[string][]*orchestrator.Agent
}

// EmptyInventory returns an inventory with no yards. Missions that name a
// yard or agent fail resolution against it.
func EmptyInventory() *StaticInventory {
	return &StaticInventory{
		yardsByUID:   make(map[string]*orchestrator.Yard),
		yardsByID:    make(map[string]*orchestrator.Yard),
		agentsByUUID: make(map[string]*orchestrator.Agent),
		agentsByID:   make(map[string]*orchestrator.Agent),
		agentsByYard: make(map[string][]*orchestrator.Agent),
	}
}

// LoadFile reads and indexes an inventory file. Duplicate yard or agent
// identifiers are rejected.
func LoadFile(path string) (*StaticInventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	var doc inventoryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse inventory file %s: %w", path, err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("inventory %s failed validation: %w", path, err)
	}

	inv := &StaticInventory{
		yardsByUID:   make(map[string]*orchestrator.Yard),
		yardsByID:    make(map[string]*orchestrator.Yard),
		agentsByUUID: make(map[string]*orchestrator.Agent),
		agentsByID:   make(map[string]*orchestrator.Agent),
		agentsByYard: make(map[string][]*orchestrator.Agent),
	}

	for _, yd := range doc.Yards {
		if _, dup := inv.yardsByID[yd.ID]; dup {
			return nil, fmt.Errorf("duplicate yard id %s in %s", yd.ID, path)
		}
		if _, dup := inv.yardsByUID[yd.UID]; dup {
			return nil, fmt.Errorf("duplicate yard uid %s in %s", yd.UID, path)
		}
		yard := &orchestrator.Yard{
			ID:      yd.ID,
			UID:     yd.UID,
			Name:    yd.Name,
			MapData: orchestrator.Payload(yd.Map),
		}
		inv.yardsByID[yard.ID] = yard
		inv.yardsByUID[yard.UID] = yard

		for _, ad := range yd.Agents {
			if _, dup := inv.agentsByID[ad.ID]; dup {
				return nil, fmt.Errorf("duplicate agent id %s in %s", ad.ID, path)
			}
			if _, dup := inv.agentsByUUID[ad.UUID]; dup {
				return nil, fmt.Errorf("duplicate agent uuid %s in %s", ad.UUID, path)
			}
			agent := &orchestrator.Agent{
				ID:     ad.ID,
				UUID:   ad.UUID,
				Name:   ad.Name,
				YardID: yard.ID,
			}
			inv.agentsByID[agent.ID] = agent
			inv.agentsByUUID[agent.UUID] = agent
			inv.agentsByYard[yard.ID] = append(inv.agentsByYard[yard.ID], agent)
		}
	}

	return inv, nil
}

// ResolveYard implements orchestrator.YardReader.
func (inv *StaticInventory) ResolveYard(ctx context.Context, uid string) (*orchestrator.Yard, error) {
	yard, ok := inv.yardsByUID[uid]
	if !ok {
		return nil, orchestrator.NewPermanentError("yard not found: "+uid, nil).
			WithCode(orchestrator.ErrCodeNotFound)
	}
	return yard, nil
}

// ResolveAgents implements orchestrator.YardReader, preserving input order.
func (inv *StaticInventory) ResolveAgents(ctx context.Context, uuids []string) ([]*orchestrator.Agent, error) {
	agents := make([]*orchestrator.Agent, 0, len(uuids))
	for _, uuid := range uuids {
		agent, ok := inv.agentsByUUID[uuid]
		if !ok {
			return nil, orchestrator.NewPermanentError("agent not found: "+uuid, nil).
				WithCode(orchestrator.ErrCodeNotFound)
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// Snapshot implements orchestrator.YardReader. The snapshot carries the
// selected agents under "agents" and, when requested, the yard map under
// "map".
func (inv *StaticInventory) Snapshot(ctx context.Context, q orchestrator.SnapshotQuery) (orchestrator.Payload, error) {
	yard, ok := inv.yardsByID[q.YardID]
	if !ok {
		return nil, orchestrator.NewPermanentError("yard not found: "+q.YardID, nil).
			WithCode(orchestrator.ErrCodeNotFound)
	}

	var selected []*orchestrator.Agent
	if len(q.AgentIDs) == 0 {
		selected = inv.agentsByYard[yard.ID]
	} else {
		for _, id := range q.AgentIDs {
			if agent, ok := inv.agentsByID[id]; ok {
				selected = append(selected, agent)
			}
		}
	}

	agents := make([]interface{}, 0, len(selected))
	for _, agent := range selected {
		agents = append(agents, map[string]interface{}{
			"id":      agent.ID,
			"uuid":    agent.UUID,
			"name":    agent.Name,
			"yard_id": agent.YardID,
		})
	}

	snap := orchestrator.Payload{"agents": agents}
	if q.IncludeMap && yard.MapData != nil {
		snap["map"] = map[string]interface{}(yard.MapData)
	}
	return snap, nil
}
