package reconcile

import (
	"sort"

	"localsync/core/localtree"
)

// ActionType is the kind of step a Plan asks for.
type ActionType string

const (
	// ActionPut uploads a local file missing or outdated remotely.
	ActionPut ActionType = "put"
	// ActionGet downloads a remote file missing locally.
	ActionGet ActionType = "get"
	// ActionLink records that both sides already hold the same content.
	ActionLink ActionType = "link"
	// ActionConflict marks a path that changed on both sides.
	ActionConflict ActionType = "conflict"
)

// Action is one step of a Plan.
type Action struct {
	Type   ActionType       `json:"type"`
	Path   string           `json:"path"`
	Node   localtree.NodeID `json:"-"`
	Remote RemoteEntry      `json:"remote"`
	Reason string           `json:"reason"`
}

// PlanSummary counts the actions of a plan by type.
type PlanSummary struct {
	Puts      int `json:"puts"`
	Gets      int `json:"gets"`
	Links     int `json:"links"`
	Conflicts int `json:"conflicts"`
	InSync    int `json:"in_sync"`
}

// Plan lists what it takes to bring the local tree and a remote listing in
// line. Building a plan changes nothing.
type Plan struct {
	Actions []Action    `json:"actions"`
	Summary PlanSummary `json:"summary"`
}

// sameContent compares a local file with a remote entry.
func sameContent(n *localtree.Node, r RemoteEntry) bool {
	if r.HasFingerprint {
		return n.Fingerprint == r.Fingerprint
	}
	return n.Size == r.Size && n.ModTime == r.ModTime
}

// BuildPlan compares the files of tree with a remote index.
func BuildPlan(tree *localtree.Tree, index map[string]RemoteEntry) *Plan {
	plan := &Plan{}
	local := make(map[string]struct{})

	tree.Lock()
	tree.Walk(func(n *localtree.Node) bool {
		if !n.Syncable {
			return false
		}
		if n.IsFolder() {
			return true
		}
		p := tree.RelPath(n)
		local[p] = struct{}{}

		r, ok := index[p]
		switch {
		case !ok:
			plan.add(Action{Type: ActionPut, Path: p, Node: n.ID, Reason: "missing remotely"})
		case n.Remote == r.Handle && !n.Dirty:
			plan.Summary.InSync++
		case sameContent(n, r):
			if n.Remote == r.Handle {
				plan.Summary.InSync++
			} else {
				plan.add(Action{Type: ActionLink, Path: p, Node: n.ID, Remote: r, Reason: "same content"})
			}
		case n.Remote == r.Handle:
			plan.add(Action{Type: ActionPut, Path: p, Node: n.ID, Remote: r, Reason: "changed locally"})
		case n.Linked() && !n.Dirty:
			plan.add(Action{Type: ActionGet, Path: p, Node: n.ID, Remote: r, Reason: "changed remotely"})
		default:
			plan.add(Action{Type: ActionConflict, Path: p, Node: n.ID, Remote: r, Reason: "content differs"})
		}
		return true
	})
	tree.Unlock()

	for p, r := range index {
		if _, ok := local[p]; ok {
			continue
		}
		plan.add(Action{Type: ActionGet, Path: p, Remote: r, Reason: "missing locally"})
	}

	sort.Slice(plan.Actions, func(i, j int) bool {
		return plan.Actions[i].Path < plan.Actions[j].Path
	})
	return plan
}

func (p *Plan) add(a Action) {
	p.Actions = append(p.Actions, a)
	switch a.Type {
	case ActionPut:
		p.Summary.Puts++
	case ActionGet:
		p.Summary.Gets++
	case ActionLink:
		p.Summary.Links++
	case ActionConflict:
		p.Summary.Conflicts++
	}
}
