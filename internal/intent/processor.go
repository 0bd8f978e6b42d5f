package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	merrors "github.com/p-blackswan/memgraph/internal/errors"
	"github.com/p-blackswan/memgraph/internal/graph"
	"github.com/p-blackswan/memgraph/internal/history"
	"github.com/p-blackswan/memgraph/internal/metrics"
)

// Graph is the part of the engine the processor needs.
type Graph interface {
	Batch(entry history.Entry, fn func(b *graph.Batch) error) error
}

// Config controls optional processor behaviour.
type Config struct {
	// RecordIntentNodes stores each applied intent as an intent node that
	// references the primary node it created.
	RecordIntentNodes bool
}

// Processor applies intents. Every intent is all-or-nothing: if any step
// fails the graph, history and event stream are left untouched.
type Processor struct {
	graph   Graph
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewProcessor creates a processor over g.
func NewProcessor(g Graph, cfg Config, logger zerolog.Logger) *Processor {
	return &Processor{
		graph:  g,
		cfg:    cfg,
		logger: logger.With().Str("component", "intent").Logger(),
	}
}

// SetMetrics attaches a metrics recorder.
func (p *Processor) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Process applies in and returns every node it created, primary first.
func (p *Processor) Process(ctx context.Context, in Intent) ([]graph.Node, error) {
	start := time.Now()
	created, err := p.process(ctx, in)

	status := "success"
	if err != nil {
		status = merrors.Kind(err)
	}
	if p.metrics != nil {
		p.metrics.RecordIntent(string(in.Type), status, time.Since(start).Seconds())
		if err != nil {
			p.metrics.RecordError("intent", status)
		}
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("intent", string(in.Type)).Msg("intent rejected")
		return nil, err
	}
	p.logger.Info().Str("intent", string(in.Type)).Int("nodes", len(created)).Str("actor", in.Actor).Msg("intent applied")
	return created, nil
}

func (p *Processor) process(ctx context.Context, in Intent) ([]graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	plan, err := p.plan(in)
	if err != nil {
		return nil, err
	}

	entry := history.Entry{
		Type:    history.EntryIntentApplied,
		Content: fmt.Sprintf("%s: %s", in.Type, plan.primary.Name),
		Actor:   in.Actor,
	}

	var created []graph.Node
	err = p.graph.Batch(entry, func(b *graph.Batch) error {
		var err error
		created, err = p.apply(b, in, plan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ProcessAll applies ins as one change: either every intent is applied or
// none is. It records a single intent_applied entry and returns the
// created nodes per intent, in order.
func (p *Processor) ProcessAll(ctx context.Context, ins []Intent) ([][]graph.Node, error) {
	start := time.Now()
	created, err := p.processAll(ctx, ins)
	elapsed := time.Since(start).Seconds() / float64(max(len(ins), 1))

	status := "success"
	if err != nil {
		status = merrors.Kind(err)
	}
	if p.metrics != nil {
		for _, in := range ins {
			p.metrics.RecordIntent(string(in.Type), status, elapsed)
		}
		if err != nil {
			p.metrics.RecordError("intent", status)
		}
	}
	if err != nil {
		p.logger.Warn().Err(err).Int("intents", len(ins)).Msg("intent group rejected")
		return nil, err
	}
	p.logger.Info().Int("intents", len(ins)).Msg("intent group applied")
	return created, nil
}

func (p *Processor) processAll(ctx context.Context, ins []Intent) ([][]graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ins) == 0 {
		return nil, merrors.NewValidation("intents", "at least one intent is required")
	}
	plans := make([]intentPlan, len(ins))
	summary := make([]string, len(ins))
	for i, in := range ins {
		plan, err := p.plan(in)
		if err != nil {
			return nil, fmt.Errorf("intent %d (%s): %w", i, in.Type, err)
		}
		plans[i] = plan
		summary[i] = fmt.Sprintf("%s: %s", in.Type, plan.primary.Name)
	}

	entry := history.Entry{
		Type:    history.EntryIntentApplied,
		Content: strings.Join(summary, "; "),
		Actor:   ins[0].Actor,
	}
	created := make([][]graph.Node, len(ins))
	err := p.graph.Batch(entry, func(b *graph.Batch) error {
		for i, in := range ins {
			nodes, err := p.apply(b, in, plans[i])
			if err != nil {
				return fmt.Errorf("intent %d (%s): %w", i, in.Type, err)
			}
			created[i] = nodes
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// apply performs one planned intent inside b.
func (p *Processor) apply(b *graph.Batch, in Intent, plan intentPlan) ([]graph.Node, error) {
	primary, err := b.AddNode(plan.primary)
	if err != nil {
		return nil, err
	}
	created := []graph.Node{primary}

	for _, child := range plan.children {
		n, err := b.AddNode(child.node)
		if err != nil {
			return nil, prefixField(err, child.field)
		}
		created = append(created, n)
		if _, err := b.AddRelationship(primary.ID, n.ID, child.rel, nil); err != nil {
			return nil, err
		}
	}

	for _, dep := range plan.dependsOn {
		if _, err := b.AddRelationship(primary.ID, dep, graph.RelDependsOn, nil); err != nil {
			return nil, err
		}
	}

	if p.cfg.RecordIntentNodes {
		rec, err := b.AddNode(graph.Node{
			Name:     fmt.Sprintf("%s %s", in.Type, primary.Name),
			Type:     graph.NodeIntent,
			Metadata: map[string]any{"intentType": string(in.Type), "data": in.Data, "actor": in.Actor},
		})
		if err != nil {
			return nil, err
		}
		if _, err := b.AddRelationship(rec.ID, primary.ID, graph.RelReferences, nil); err != nil {
			return nil, err
		}
		created = append(created, rec)
	}
	return created, nil
}

type childSpec struct {
	field string // error prefix, e.g. "screens[0]."
	node  graph.Node
	rel   graph.RelationshipType
}

type intentPlan struct {
	primary   graph.Node
	children  []childSpec
	dependsOn []string
}

func (p *Processor) plan(in Intent) (intentPlan, error) {
	switch in.Type {
	case CreateFeature:
		var d FeatureData
		if err := decode(in.Data, &d); err != nil {
			return intentPlan{}, err
		}
		if err := d.check(""); err != nil {
			return intentPlan{}, err
		}
		plan := intentPlan{primary: d.node(), dependsOn: d.DependsOn}
		for i, s := range d.Screens {
			field := fmt.Sprintf("screens[%d].", i)
			if err := s.check(field); err != nil {
				return intentPlan{}, err
			}
			plan.children = append(plan.children, childSpec{field: field, node: s.node(), rel: graph.RelContains})
		}
		for i, a := range d.APIs {
			field := fmt.Sprintf("apis[%d].", i)
			if err := a.check(field); err != nil {
				return intentPlan{}, err
			}
			plan.children = append(plan.children, childSpec{field: field, node: a.node(), rel: graph.RelUses})
		}
		for i, m := range d.DataModels {
			field := fmt.Sprintf("dataModels[%d].", i)
			if err := m.check(field); err != nil {
				return intentPlan{}, err
			}
			plan.children = append(plan.children, childSpec{field: field, node: m.node(), rel: graph.RelUses})
		}
		return plan, nil

	case CreateScreen:
		var d ScreenData
		if err := decode(in.Data, &d); err != nil {
			return intentPlan{}, err
		}
		if err := d.check(""); err != nil {
			return intentPlan{}, err
		}
		return intentPlan{primary: d.node()}, nil

	case CreateAPI:
		var d APIData
		if err := decode(in.Data, &d); err != nil {
			return intentPlan{}, err
		}
		if err := d.check(""); err != nil {
			return intentPlan{}, err
		}
		return intentPlan{primary: d.node()}, nil

	case CreateDataModel:
		var d DataModelData
		if err := decode(in.Data, &d); err != nil {
			return intentPlan{}, err
		}
		if err := d.check(""); err != nil {
			return intentPlan{}, err
		}
		return intentPlan{primary: d.node()}, nil

	case CreateLogic:
		var d LogicData
		if err := decode(in.Data, &d); err != nil {
			return intentPlan{}, err
		}
		if err := d.check(""); err != nil {
			return intentPlan{}, err
		}
		return intentPlan{primary: d.node()}, nil
	}
	return intentPlan{}, merrors.NewValidation("type", fmt.Sprintf("unknown intent %q", in.Type))
}

// prefixField qualifies a child validation error with its position.
func prefixField(err error, prefix string) error {
	if ve, ok := err.(*merrors.ValidationError); ok {
		return merrors.NewValidation(prefix+ve.Field, ve.Reason)
	}
	return err
}
