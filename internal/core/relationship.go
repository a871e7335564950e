package core

import "sort"

// RelationType identifies the kind of a relationship edge.
type RelationType string

const (
	RelationParent     RelationType = "parent"
	RelationChild      RelationType = "child"
	RelationDependsOn  RelationType = "depends_on"
	RelationBlocks     RelationType = "blocks"
	RelationRelated    RelationType = "related"
	RelationBundleRoot RelationType = "bundle_root"
)

// ValidRelationTypes is a map for O(1) relation type validation.
var ValidRelationTypes = map[RelationType]bool{
	RelationParent:     true,
	RelationChild:      true,
	RelationDependsOn:  true,
	RelationBlocks:     true,
	RelationRelated:    true,
	RelationBundleRoot: true,
}

// Relationship is a typed directed edge between two task ids.
type Relationship struct {
	Type   RelationType `yaml:"type"`
	Target string       `yaml:"target"`
}

// Inverse returns the relation type maintained on the other side of an
// edge, and whether an inverse exists. bundle_root is directed-only.
func (t RelationType) Inverse() (RelationType, bool) {
	switch t {
	case RelationParent:
		return RelationChild, true
	case RelationChild:
		return RelationParent, true
	case RelationDependsOn:
		return RelationBlocks, true
	case RelationBlocks:
		return RelationDependsOn, true
	case RelationRelated:
		return RelationRelated, true
	default:
		return "", false
	}
}

// NormalizeEdges enforces the canonical edge invariants: no self-edges,
// deduplicated, stable-sorted by (type, target), at most one parent and
// at most one bundle_root (first occurrence wins).
func NormalizeEdges(selfID string, edges []Relationship) []Relationship {
	if len(edges) == 0 {
		return nil
	}

	seen := make(map[Relationship]bool, len(edges))
	haveParent := false
	haveBundleRoot := false

	out := make([]Relationship, 0, len(edges))
	for _, e := range edges {
		if e.Target == "" || e.Target == selfID {
			continue
		}
		if !ValidRelationTypes[e.Type] {
			continue
		}
		if seen[e] {
			continue
		}
		if e.Type == RelationParent {
			if haveParent {
				continue
			}
			haveParent = true
		}
		if e.Type == RelationBundleRoot {
			if haveBundleRoot {
				continue
			}
			haveBundleRoot = true
		}
		seen[e] = true
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Target < out[j].Target
	})

	if len(out) == 0 {
		return nil
	}
	return out
}

// EdgesOfType returns targets of all edges with the given type, in
// canonical order.
func EdgesOfType(edges []Relationship, t RelationType) []string {
	var targets []string
	for _, e := range edges {
		if e.Type == t {
			targets = append(targets, e.Target)
		}
	}
	return targets
}
