package orchestrator

// GraphNode is the minimal shape both pipelines share: an identifier plus
// the identifiers of the nodes it depends on.
type GraphNode interface {
	// NodeID returns the node identifier (request_uid or assignment id).
	NodeID() string

	// NodeDependsOn returns the identifiers this node depends on.
	NodeDependsOn() []string
}

// NodeID implements GraphNode for service requests, keyed by request_uid.
func (r *ServiceRequest) NodeID() string { return r.RequestUID }

// NodeDependsOn implements GraphNode for service requests.
func (r *ServiceRequest) NodeDependsOn() []string { return r.DependOnRequests }

// NodeID implements GraphNode for assignments.
func (a *Assignment) NodeID() string { return a.ID }

// NodeDependsOn implements GraphNode for assignments.
func (a *Assignment) NodeDependsOn() []string { return a.DependOnAssignments }

// DepGraph indexes a scope of nodes by id and by reverse dependency edge so
// propagation can look up dependents without scanning.
type DepGraph[N GraphNode] struct {
	nodes      map[string]N
	dependents map[string][]string
}

// NewDepGraph builds the index for one scope (all requests of a mission, or
// all assignments of a mission). Dependency ids that identify no node in the
// scope are kept; Ready treats them as unsatisfied.
func NewDepGraph[N GraphNode](nodes []N) *DepGraph[N] {
	g := &DepGraph[N]{
		nodes:      make(map[string]N, len(nodes)),
		dependents: make(map[string][]string),
	}
	for _, n := range nodes {
		g.nodes[n.NodeID()] = n
	}
	for _, n := range nodes {
		for _, dep := range n.NodeDependsOn() {
			if dep == "" {
				continue
			}
			g.dependents[dep] = append(g.dependents[dep], n.NodeID())
		}
	}
	return g
}

// Node returns the node with the given id, if it is in scope.
func (g *DepGraph[N]) Node(id string) (N, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Dependents returns the ids of nodes whose dependencies reference id.
func (g *DepGraph[N]) Dependents(id string) []string {
	return g.dependents[id]
}

// Ready reports whether every dependency of the node is satisfied. A node
// with no dependencies is ready immediately. Dependencies that identify no
// node in scope are never satisfied.
func (g *DepGraph[N]) Ready(id string, satisfied func(N) bool) bool {
	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	for _, dep := range n.NodeDependsOn() {
		if dep == "" {
			continue
		}
		d, ok := g.nodes[dep]
		if !ok || !satisfied(d) {
			return false
		}
	}
	return true
}

// Unsatisfied returns the dependency ids of the node that are not yet
// satisfied.
func (g *DepGraph[N]) Unsatisfied(id string, satisfied func(N) bool) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	var remaining []string
	for _, dep := range n.NodeDependsOn() {
		if dep == "" {
			continue
		}
		d, ok := g.nodes[dep]
		if !ok || !satisfied(d) {
			remaining = append(remaining, dep)
		}
	}
	return remaining
}

// findCycle reports the id of a node caught in a dependency cycle, or ""
// when the batch is acyclic. It relaxes order indices the same way stepOrders
// does; an order that exceeds twice the node count cannot stabilize.
// Dependency ids outside the batch are skipped: they reference nodes that
// already exist and cannot point back into the batch.
func findCycle[N GraphNode](nodes []N) string {
	orders := make(map[string]int, len(nodes))
	for _, n := range nodes {
		orders[n.NodeID()] = 1
	}

	limit := 2 * len(nodes)
	for changed := true; changed; {
		changed = false
		for _, n := range nodes {
			for _, dep := range n.NodeDependsOn() {
				depOrder, ok := orders[dep]
				if !ok {
					continue
				}
				if depOrder+1 > orders[n.NodeID()] {
					orders[n.NodeID()] = depOrder + 1
					changed = true
				}
				if orders[n.NodeID()] > limit {
					return n.NodeID()
				}
			}
		}
	}
	return ""
}

// stepOrders assigns each recipe step an order index by iterative relaxation:
// order = max(order, dependency order + 1), repeated until fixpoint. A step
// whose order exceeds twice the node count cannot stabilize, which means the
// step graph has a cycle; the offending step is named in the error.
func stepOrders(steps []ServicePlanStep) (map[string]int, error) {
	orders := make(map[string]int, len(steps))
	for _, s := range steps {
		orders[s.Step] = 1
	}

	limit := 2 * len(steps)
	for changed := true; changed; {
		changed = false
		for _, s := range steps {
			for _, dep := range s.DependsOnSteps {
				if dep == "" {
					continue
				}
				depOrder, ok := orders[dep]
				if !ok {
					return nil, NewValidationError("step " + s.Step + " depends on unknown step " + dep).
						WithEntity(s.Step)
				}
				if depOrder+1 > orders[s.Step] {
					orders[s.Step] = depOrder + 1
					changed = true
				}
				if orders[s.Step] > limit {
					return nil, NewDependencyCycleError(s.Step)
				}
			}
		}
	}

	return orders, nil
}
