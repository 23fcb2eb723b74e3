package schema

// ChangeKind discriminates a per-field change between two schema versions
// (§4.F Compatibility checker).
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
	TypeChanged
	RequiredChanged
	Modified
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case TypeChanged:
		return "type_changed"
	case RequiredChanged:
		return "required_changed"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// FieldChange is one detected difference between two schema versions.
type FieldChange struct {
	Field       string
	Kind        ChangeKind
	OldType     FieldType
	NewType     FieldType
	OldRequired bool
	NewRequired bool
	HasDefault  bool
	Default     any
	Details     string
}

// RiskLevel categorizes how destructive a migration may be (§4.F).
type RiskLevel int

const (
	Low RiskLevel = iota
	Medium
	High
	Critical
)

func (r RiskLevel) String() string {
	switch r {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

func (r RiskLevel) max(o RiskLevel) RiskLevel {
	if o > r {
		return o
	}
	return r
}

// CompatibilityResult is the outcome of comparing two schemas.
type CompatibilityResult struct {
	From    SemanticVersion
	To      SemanticVersion
	Changes []FieldChange
	Risk    RiskLevel
}

// CompatibilityChecker computes the per-field change set between two
// schemas and derives an overall RiskLevel (§4.F).
type CompatibilityChecker struct{}

func NewCompatibilityChecker() *CompatibilityChecker { return &CompatibilityChecker{} }

// Check compares from and to, producing the full change list and the
// aggregate risk per the rules in §4.F:
//   - Low: only additions that are optional or carry a default, or pure
//     docs changes (a required addition with no default is High).
//   - Medium: non-breaking type widenings, field renames with explicit
//     mapping (renames are not detectable from a pure field diff and are
//     scored Medium by the planner when it knows about them explicitly).
//   - High: required-field change, narrowing cast, removal of a used field.
//   - Critical: incompatible required type change with no lossless transform.
func (c *CompatibilityChecker) Check(from, to Schema) CompatibilityResult {
	result := CompatibilityResult{From: from.Version, To: to.Version, Risk: Low}

	for name, toField := range to.Fields {
		fromField, existed := from.Fields[name]
		if !existed {
			change := FieldChange{Field: name, Kind: Added, NewType: toField.Type, NewRequired: toField.Required, HasDefault: toField.Default != nil, Default: toField.Default}
			result.Changes = append(result.Changes, change)
			if toField.Required && toField.Default == nil {
				result.Risk = result.Risk.max(High)
			} else {
				result.Risk = result.Risk.max(Low)
			}
			continue
		}

		if fromField.Type != toField.Type {
			change := FieldChange{Field: name, Kind: TypeChanged, OldType: fromField.Type, NewType: toField.Type}
			result.Changes = append(result.Changes, change)
			if isWidening(fromField.Type, toField.Type) {
				result.Risk = result.Risk.max(Medium)
			} else if toField.Required {
				result.Risk = result.Risk.max(Critical)
			} else {
				result.Risk = result.Risk.max(High)
			}
		}

		if fromField.Required != toField.Required {
			change := FieldChange{Field: name, Kind: RequiredChanged, OldRequired: fromField.Required, NewRequired: toField.Required}
			result.Changes = append(result.Changes, change)
			if toField.Required && !fromField.Required {
				result.Risk = result.Risk.max(High)
			} else {
				result.Risk = result.Risk.max(Low)
			}
		}
	}

	for name, fromField := range from.Fields {
		if _, stillPresent := to.Fields[name]; !stillPresent {
			result.Changes = append(result.Changes, FieldChange{Field: name, Kind: Removed, OldType: fromField.Type, OldRequired: fromField.Required})
			result.Risk = result.Risk.max(High)
		}
	}

	return result
}

// isWidening reports whether a type change from 'from' to 'to' is a
// lossless widening (e.g. number literal widening, any field narrowing to
// a concrete type is NOT widening). Only the pairs the domain actually
// needs are enumerated; anything else is treated conservatively as
// non-widening.
func isWidening(from, to FieldType) bool {
	widenings := map[FieldType][]FieldType{
		TypeString: {TypeAny},
		TypeNumber: {TypeAny},
		TypeBool:   {TypeAny},
		TypeObject: {TypeAny},
		TypeArray:  {TypeAny},
	}
	for _, t := range widenings[from] {
		if t == to {
			return true
		}
	}
	return false
}
