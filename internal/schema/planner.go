package schema

import (
	"fmt"
	"time"
)

// FieldTransformKind discriminates the FieldTransform tagged variant
// (§3 Data Model: Transformation).
type FieldTransformKind int

const (
	TransformDirect FieldTransformKind = iota
	TransformCopy
	TransformRename
	TransformCast
	TransformDefault
	TransformRemove
	TransformSplit
	TransformMerge
	TransformCustom
)

// FieldTransform is one ordered step of a Transformation.
type FieldTransform struct {
	Kind FieldTransformKind

	From, To string   // Direct, Copy, Rename, Split(from), Merge(to)
	Keep     bool     // Copy
	ToType   FieldType // Cast
	Default  any       // Default
	Field    string    // Remove, Default, Cast, Custom
	Fields   []string  // Split(to), Merge(from)
	Rule     string    // Split, Merge rule identifier
	CustomID string    // Custom
	Args     map[string]any
}

// Transformation is the ordered list of FieldTransforms that rewrites a
// stored value from one schema version to the next (§3 Data Model).
type Transformation struct {
	ID          string
	Description string
	Steps       []FieldTransform
}

// Invert returns the inverse Transformation if every step is losslessly
// invertible, and false otherwise (used to synthesize a rollback_plan for
// high/critical-risk hops, §4.F Planner).
func (t Transformation) Invert() (Transformation, bool) {
	inv := Transformation{ID: t.ID + ":inverse", Description: "inverse of " + t.Description}
	steps := make([]FieldTransform, 0, len(t.Steps))
	for i := len(t.Steps) - 1; i >= 0; i-- {
		s := t.Steps[i]
		switch s.Kind {
		case TransformDirect:
			steps = append(steps, FieldTransform{Kind: TransformDirect, From: s.To, To: s.From})
		case TransformRename:
			steps = append(steps, FieldTransform{Kind: TransformRename, From: s.To, To: s.From})
		case TransformCopy:
			steps = append(steps, FieldTransform{Kind: TransformCopy, From: s.To, To: s.From, Keep: s.Keep})
		default:
			// Cast/Default/Remove/Split/Merge/Custom are not generically
			// invertible without domain knowledge of the forward rule.
			return Transformation{}, false
		}
	}
	inv.Steps = steps
	return inv, true
}

// Step is one hop of a MigrationPlan: the schema versions it moves
// between, the transformation it applies, and the risk it carries.
type Step struct {
	From, To       SemanticVersion
	Transformation Transformation
	Risk           RiskLevel
}

// Plan is the full migration recipe from one version to another
// (§3 Data Model: Migration Plan).
type Plan struct {
	From, To          SemanticVersion
	Steps             []Step
	EstimatedDuration time.Duration
	RiskLevel         RiskLevel
	RequiresBackup    bool
	Transformations   []Transformation
	RollbackPlan      *Plan
	Warnings          []string
}

// ErrNoPath is returned when the planner finds no migration path between
// two registered versions.
type ErrNoPath struct{ From, To SemanticVersion }

func (e *ErrNoPath) Error() string {
	return fmt.Sprintf("schema: no migration path from %s to %s", e.From, e.To)
}

// ErrNonInvertibleTransform is returned when a rollback is required but a
// hop's transformation cannot be losslessly inverted.
type ErrNonInvertibleTransform struct{ Step Step }

func (e *ErrNonInvertibleTransform) Error() string {
	return fmt.Sprintf("schema: transform %s (%s -> %s) has no lossless inverse", e.Step.Transformation.ID, e.Step.From, e.Step.To)
}

// Planner computes a migration Plan between two registered schema
// versions via BFS over declared-migrable edges (§4.F Planner).
type Planner struct {
	registry    *Registry
	checker     *CompatibilityChecker
	compatCache map[[2]SemanticVersion]CompatibilityResult
}

func NewPlanner(registry *Registry) *Planner {
	return &Planner{
		registry:    registry,
		checker:     NewCompatibilityChecker(),
		compatCache: make(map[[2]SemanticVersion]CompatibilityResult),
	}
}

// edges returns every other registered version that shares v's major or
// whose major differs from v's by one; those pairs are treated as migrable
// (§4.F Planner). Adjacent-major edges are implied by the version numbers,
// not declared separately.
func (p *Planner) edges(v SemanticVersion) []SemanticVersion {
	var out []SemanticVersion
	for _, o := range p.registry.Versions() {
		if o.Equal(v) {
			continue
		}
		if o.SameMajor(v) || absDiff(o.Major, v.Major) == 1 {
			out = append(out, o)
		}
	}
	return out
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func (p *Planner) compat(from, to SemanticVersion) (CompatibilityResult, error) {
	key := [2]SemanticVersion{from, to}
	if c, ok := p.compatCache[key]; ok {
		return c, nil
	}
	fromSchema, err := p.registry.Get(from)
	if err != nil {
		return CompatibilityResult{}, err
	}
	toSchema, err := p.registry.Get(to)
	if err != nil {
		return CompatibilityResult{}, err
	}
	c := p.checker.Check(fromSchema, toSchema)
	p.compatCache[key] = c
	return c, nil
}

// Plan computes the shortest path from -> to and builds the full Plan:
// per-hop Transformation derived from the compatibility change set,
// aggregated risk, backup/rollback synthesis, and a duration estimate.
func (p *Planner) Plan(from, to SemanticVersion) (*Plan, error) {
	if from.Equal(to) {
		return &Plan{From: from, To: to, RiskLevel: Low}, nil
	}
	if _, err := p.registry.Get(from); err != nil {
		return nil, &ErrSchemaMissing{Version: from}
	}
	if _, err := p.registry.Get(to); err != nil {
		return nil, &ErrSchemaMissing{Version: to}
	}

	path, ok := p.bfs(from, to)
	if !ok {
		return nil, &ErrNoPath{From: from, To: to}
	}

	plan := &Plan{From: from, To: to, RiskLevel: Low}
	for i := 0; i+1 < len(path); i++ {
		hopFrom, hopTo := path[i], path[i+1]
		compat, err := p.compat(hopFrom, hopTo)
		if err != nil {
			return nil, err
		}
		transform := buildTransformation(hopFrom, hopTo, compat)
		step := Step{From: hopFrom, To: hopTo, Transformation: transform, Risk: compat.Risk}
		plan.Steps = append(plan.Steps, step)
		plan.Transformations = append(plan.Transformations, transform)
		plan.RiskLevel = plan.RiskLevel.max(compat.Risk)
		for _, ch := range compat.Changes {
			if ch.Kind == Removed {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("hop %s->%s removes field %q", hopFrom, hopTo, ch.Field))
			}
		}
	}

	if plan.RiskLevel >= High {
		plan.RequiresBackup = true
		rollback, invertible := p.synthesizeRollback(plan)
		if invertible {
			plan.RollbackPlan = rollback
		} else {
			plan.Warnings = append(plan.Warnings, "no lossless rollback plan; restore relies on backup snapshot")
		}
	}

	const base = 2 * time.Second
	const perHop = 500 * time.Millisecond
	const perMapping = 10 * time.Millisecond
	mappings := 0
	for _, t := range plan.Transformations {
		mappings += len(t.Steps)
	}
	plan.EstimatedDuration = base + time.Duration(len(plan.Steps))*perHop + time.Duration(mappings)*perMapping

	return plan, nil
}

// synthesizeRollback builds the inverse plan hop-by-hop in reverse order;
// it fails (returns ok=false) if any hop's transformation isn't invertible.
func (p *Planner) synthesizeRollback(plan *Plan) (*Plan, bool) {
	rollback := &Plan{From: plan.To, To: plan.From, RiskLevel: plan.RiskLevel}
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		step := plan.Steps[i]
		inv, ok := step.Transformation.Invert()
		if !ok {
			return nil, false
		}
		rollback.Steps = append(rollback.Steps, Step{From: step.To, To: step.From, Transformation: inv, Risk: step.Risk})
		rollback.Transformations = append(rollback.Transformations, inv)
	}
	return rollback, true
}

// bfs finds the shortest edge sequence from -> to over declared-migrable
// edges, returning the full version path including endpoints.
func (p *Planner) bfs(from, to SemanticVersion) ([]SemanticVersion, bool) {
	type node struct {
		v    SemanticVersion
		path []SemanticVersion
	}
	visited := map[SemanticVersion]bool{from: true}
	queue := []node{{v: from, path: []SemanticVersion{from}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.v.Equal(to) {
			return cur.path, true
		}
		for _, next := range p.edges(cur.v) {
			if visited[next] {
				continue
			}
			visited[next] = true
			nextPath := make([]SemanticVersion, len(cur.path), len(cur.path)+1)
			copy(nextPath, cur.path)
			nextPath = append(nextPath, next)
			queue = append(queue, node{v: next, path: nextPath})
		}
	}
	return nil, false
}

// buildTransformation derives the Transformation as the composition of
// FieldTransforms implied by the change set: Added -> Default,
// Removed -> Remove, TypeChanged -> Cast (§4.F Planner).
func buildTransformation(from, to SemanticVersion, compat CompatibilityResult) Transformation {
	t := Transformation{ID: fmt.Sprintf("migrate_%s_to_%s", from, to), Description: fmt.Sprintf("%s -> %s", from, to)}
	for _, ch := range compat.Changes {
		switch ch.Kind {
		case Added:
			if ch.HasDefault {
				t.Steps = append(t.Steps, FieldTransform{Kind: TransformDefault, Field: ch.Field, Default: ch.Default})
			}
		case Removed:
			t.Steps = append(t.Steps, FieldTransform{Kind: TransformRemove, Field: ch.Field})
		case TypeChanged:
			t.Steps = append(t.Steps, FieldTransform{Kind: TransformCast, Field: ch.Field, ToType: ch.NewType})
		case RequiredChanged, Modified:
			// No data rewrite required; the validator enforces the new
			// constraint on read/write.
		}
	}
	return t
}
