package backup

import "snapback/internal/tree"

// A snapshot can only serve as delta parent if both sides hold it: the sending side
// needs it for `send -p`, and the receiving side must find the matching received copy.
func usableAsParent(r *SnapshotRecord) bool {
	return r.SourceState == SourceReadOnly && r.TargetState == TargetValid
}

// sourceNode is a record seen through its source identity.
type sourceNode struct{ r *SnapshotRecord }

func (n sourceNode) Number() uint            { return n.r.Number }
func (n sourceNode) UUID() string            { return n.r.Source.UUID }
func (n sourceNode) ParentUUID() string      { return n.r.Source.ParentUUID }
func (n sourceNode) IsValid() bool           { return usableAsParent(n.r) }
func (n sourceNode) record() *SnapshotRecord { return n.r }

// targetNode is a record seen through its target identity.
type targetNode struct{ r *SnapshotRecord }

func (n targetNode) Number() uint            { return n.r.Number }
func (n targetNode) UUID() string            { return n.r.Target.UUID }
func (n targetNode) ParentUUID() string      { return n.r.Target.ParentUUID }
func (n targetNode) IsValid() bool           { return usableAsParent(n.r) }
func (n targetNode) record() *SnapshotRecord { return n.r }

type recordNode interface {
	tree.Node
	record() *SnapshotRecord
}

func nearestValid[N recordNode](t *tree.Tree[N], uuid string) (*SnapshotRecord, int, bool, error) {
	n, distance, ok, err := t.FindNearestValid(uuid)
	if err != nil || !ok {
		return nil, 0, ok, err
	}
	return n.record(), distance, true, nil
}

func sourceNodes(records []*SnapshotRecord) []sourceNode {
	nodes := make([]sourceNode, 0, len(records))
	for _, r := range records {
		if r.SourceState != SourceMissing {
			nodes = append(nodes, sourceNode{r})
		}
	}
	return nodes
}

func targetNodes(records []*SnapshotRecord) []targetNode {
	nodes := make([]targetNode, 0, len(records))
	for _, r := range records {
		if r.TargetState != TargetMissing {
			nodes = append(nodes, targetNode{r})
		}
	}
	return nodes
}
