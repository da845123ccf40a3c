package plan

import (
	"github.com/jensneuse/abstractlogger"

	"github.com/wundergraph/federationplan/pkg/graphmodel"
	"github.com/wundergraph/federationplan/pkg/operation"
)

// Configuration tunes planning behavior.
type Configuration struct {
	Logger abstractlogger.Logger
	// DisableParallelFetches keeps independent fetches sequential, in the
	// order planning discovered them.
	DisableParallelFetches bool
}

// Planner turns normalized operations into query plans against a graph of
// federated services.
type Planner struct {
	graph  *graphmodel.Graph
	config Configuration
}

func NewPlanner(graph *graphmodel.Graph, config Configuration) *Planner {
	if config.Logger == nil {
		config.Logger = abstractlogger.Noop{}
	}
	return &Planner{graph: graph, config: config}
}

// Plan builds the plan tree for op. The same graph and operation always
// produce the same plan.
func (p *Planner) Plan(op *operation.Operation) (*QueryPlan, error) {
	builder := newFetchGroupBuilder(p.graph, op)
	groups, err := builder.build()
	if err != nil {
		return nil, err
	}
	p.config.Logger.Debug("plan.Planner.Plan: groups built",
		abstractlogger.String("operation", op.Name),
		abstractlogger.Int("groups", len(groups)),
	)

	scheduled, err := newGroupScheduler(groups, p.config.DisableParallelFetches).schedule()
	if err != nil {
		return nil, err
	}

	queryPlan, err := newPlanEmitter(op).emit(scheduled)
	if err != nil {
		return nil, err
	}
	p.config.Logger.Debug("plan.Planner.Plan: plan emitted",
		abstractlogger.String("operation", op.Name),
	)
	return queryPlan, nil
}
