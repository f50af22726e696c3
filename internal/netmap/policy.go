package netmap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultBackupFactor is the container backup factor used when a policy
// does not set one.
const DefaultBackupFactor = 3

// Clause controls how a selector spreads nodes over attribute buckets.
type Clause uint8

const (
	// ClauseUnspecified behaves like ClauseDistinct.
	ClauseUnspecified Clause = iota

	// ClauseSame takes every node from one bucket.
	ClauseSame

	// ClauseDistinct takes each node from a different bucket.
	ClauseDistinct
)

// String returns the policy keyword for the clause.
func (c Clause) String() string {
	switch c {
	case ClauseSame:
		return "SAME"
	case ClauseDistinct:
		return "DISTINCT"
	default:
		return ""
	}
}

// Operation is a filter comparison or composition.
type Operation uint8

const (
	OpUnspecified Operation = iota
	OpEQ
	OpNE
	OpGT
	OpGE
	OpLT
	OpLE
	OpAND
	OpOR
)

var opNames = map[Operation]string{
	OpEQ:  "EQ",
	OpNE:  "NE",
	OpGT:  "GT",
	OpGE:  "GE",
	OpLT:  "LT",
	OpLE:  "LE",
	OpAND: "AND",
	OpOR:  "OR",
}

// String returns the policy keyword for the operation.
func (o Operation) String() string {
	return opNames[o]
}

// Replica asks for Count copies on the nodes of the named selector.
// An empty Selector means every selector of the policy.
type Replica struct {
	Count    uint32
	Selector string
}

// Selector picks Count nodes (times the backup factor) from the nodes
// matching Filter, grouped by Attribute according to Clause.
type Selector struct {
	Name      string
	Count     uint32
	Clause    Clause
	Attribute string
	Filter    string // Filter is a filter name or "*" for the whole map
}

// Filter is either a named attribute comparison, a composition of nested
// filters (AND/OR), or a reference to another named filter (Op unset).
type Filter struct {
	Name    string
	Key     string
	Op      Operation
	Value   string
	Filters []Filter
}

// PlacementPolicy describes how a container's objects are spread.
type PlacementPolicy struct {
	Replicas     []Replica
	BackupFactor uint32 // BackupFactor is CBF, 0 means DefaultBackupFactor
	Selectors    []Selector
	Filters      []Filter
}

// ErrInvalidPolicy is wrapped by policy validation failures.
var ErrInvalidPolicy = errors.New("invalid placement policy")

// PolicyError reports that a policy cannot be placed on a network map.
// Replica is the index of the failing replica descriptor, -1 for the
// policy as a whole.
type PolicyError struct {
	Replica int
	Reason  string
}

func (e *PolicyError) Error() string {
	if e.Replica < 0 {
		return "placement policy: " + e.Reason
	}

	return fmt.Sprintf("placement policy: replica %d: %s", e.Replica, e.Reason)
}

// backupFactor returns the effective CBF.
func (p *PlacementPolicy) backupFactor() int {
	if p.BackupFactor == 0 {
		return DefaultBackupFactor
	}

	return int(p.BackupFactor)
}

// Validate checks counts, names and references.
func (p *PlacementPolicy) Validate() error {
	if p == nil || len(p.Replicas) == 0 {
		return fmt.Errorf("%w: no replicas", ErrInvalidPolicy)
	}

	filters := make(map[string]bool, len(p.Filters))
	for _, f := range p.Filters {
		if f.Name == "" {
			return fmt.Errorf("%w: unnamed top-level filter", ErrInvalidPolicy)
		}
		if filters[f.Name] {
			return fmt.Errorf("%w: duplicate filter %q", ErrInvalidPolicy, f.Name)
		}
		if err := checkRefs(f, filters); err != nil {
			return err
		}
		filters[f.Name] = true
	}

	selectors := make(map[string]bool, len(p.Selectors))
	for _, s := range p.Selectors {
		if s.Count == 0 {
			return fmt.Errorf("%w: selector %q has zero count", ErrInvalidPolicy, s.Name)
		}
		if s.Name != "" && selectors[s.Name] {
			return fmt.Errorf("%w: duplicate selector %q", ErrInvalidPolicy, s.Name)
		}
		if s.Filter != "" && s.Filter != "*" && !filters[s.Filter] {
			return fmt.Errorf("%w: unknown filter %q", ErrInvalidPolicy, s.Filter)
		}
		selectors[s.Name] = true
	}

	for i, r := range p.Replicas {
		if r.Count == 0 {
			return fmt.Errorf("%w: replica %d has zero count", ErrInvalidPolicy, i)
		}
		if r.Selector != "" && !selectors[r.Selector] {
			return fmt.Errorf("%w: unknown selector %q", ErrInvalidPolicy, r.Selector)
		}
	}

	return nil
}

// checkRefs verifies that references inside f point to earlier filters.
func checkRefs(f Filter, known map[string]bool) error {
	if f.Op == OpUnspecified {
		if !known[f.Name] {
			return fmt.Errorf("%w: unknown filter reference @%s", ErrInvalidPolicy, f.Name)
		}
		return nil
	}

	for _, sub := range f.Filters {
		if err := checkRefs(sub, known); err != nil {
			return err
		}
	}

	return nil
}

// String renders the policy in its text form. Policies produced by
// ParsePolicy render back to an equivalent text.
func (p *PlacementPolicy) String() string {
	var lines []string

	for _, r := range p.Replicas {
		line := "REP " + strconv.FormatUint(uint64(r.Count), 10)
		if r.Selector != "" {
			line += " IN " + r.Selector
		}
		lines = append(lines, line)
	}

	if p.BackupFactor != 0 {
		lines = append(lines, "CBF "+strconv.FormatUint(uint64(p.BackupFactor), 10))
	}

	for _, s := range p.Selectors {
		line := "SELECT " + strconv.FormatUint(uint64(s.Count), 10)
		if s.Attribute != "" {
			line += " IN "
			if s.Clause != ClauseUnspecified {
				line += s.Clause.String() + " "
			}
			line += s.Attribute
		}

		from := s.Filter
		if from == "" {
			from = "*"
		}
		line += " FROM " + from

		if s.Name != "" {
			line += " AS " + s.Name
		}
		lines = append(lines, line)
	}

	for _, f := range p.Filters {
		lines = append(lines, "FILTER "+filterExpr(f)+" AS "+f.Name)
	}

	return strings.Join(lines, "\n")
}

// filterExpr renders the body of a filter; references render as @Name.
func filterExpr(f Filter) string {
	if f.Op == OpUnspecified {
		return "@" + f.Name
	}

	switch f.Op {
	case OpAND, OpOR:
		parts := make([]string, len(f.Filters))
		for i, sub := range f.Filters {
			parts[i] = filterExpr(sub)
		}
		return strings.Join(parts, " "+f.Op.String()+" ")
	default:
		return f.Key + " " + f.Op.String() + " " + f.Value
	}
}
