package tree

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/nao1215/reductree/internal/stage"
)

// TestCreateAndAddNode verifies root handling, chain building and id
// assignment.
func TestCreateAndAddNode(t *testing.T) {
	t.Parallel()

	t.Run("first node becomes root regardless of parent", func(t *testing.T) {
		t.Parallel()
		r := newResolver()
		tr := newTestTree(r)
		if tr.State() != StateEmpty {
			t.Fatalf("expected empty tree, got %s", tr.State())
		}
		id := mustAdd(t, tr, r, "loader", UnderParent(42))
		root, ok := tr.RootID()
		if !ok || root != id || id != 0 {
			t.Errorf("expected root 0, got %d (%v)", root, ok)
		}
		if tr.State() != StateBuilding {
			t.Errorf("expected building, got %s", tr.State())
		}
	})

	t.Run("chain building uses the last added node", func(t *testing.T) {
		t.Parallel()
		r := newResolver()
		tr := newTestTree(r)
		root := mustAdd(t, tr, r, "loader")
		a := mustAdd(t, tr, r, "proc")
		b := mustAdd(t, tr, r, "proc")
		c := mustAdd(t, tr, r, "proc", UnderParent(root))

		nodeA, _ := tr.Node(a)
		nodeB, _ := tr.Node(b)
		nodeRoot, _ := tr.Node(root)
		if nodeA.Parent != root || nodeB.Parent != a {
			t.Errorf("unexpected parents: a=%d b=%d", nodeA.Parent, nodeB.Parent)
		}
		if diff := cmp.Diff([]int{a, c}, nodeRoot.Children); diff != "" {
			t.Errorf("root children mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("explicit ids", func(t *testing.T) {
		t.Parallel()
		r := newResolver()
		tr := newTestTree(r)
		mustAdd(t, tr, r, "loader")
		id := mustAdd(t, tr, r, "proc", WithID(7))
		if id != 7 {
			t.Errorf("expected id 7, got %d", id)
		}
		if next := mustAdd(t, tr, r, "proc"); next != 8 {
			t.Errorf("expected next id 8, got %d", next)
		}
		_, err := tr.CreateAndAddNode(r.mustStage(t, "proc"), WithID(7))
		if !errors.Is(err, ErrStructural) {
			t.Errorf("expected structural error for duplicate id, got %v", err)
		}
	})

	t.Run("unknown parent", func(t *testing.T) {
		t.Parallel()
		r := newResolver()
		tr := newTestTree(r)
		mustAdd(t, tr, r, "loader")
		_, err := tr.CreateAndAddNode(r.mustStage(t, "proc"), UnderParent(99))
		if !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("expected ErrNodeNotFound, got %v", err)
		}
	})

	t.Run("base kind cannot be attached", func(t *testing.T) {
		t.Parallel()
		r := newResolver()
		tr := newTestTree(r)
		_, err := tr.CreateAndAddNode(r.mustStage(t, "abstract"))
		if !errors.Is(err, stage.ErrAbstract) {
			t.Errorf("expected stage.ErrAbstract, got %v", err)
		}
		if _, err := tr.CreateAndAddNode(nil); !errors.Is(err, ErrNilStage) {
			t.Errorf("expected ErrNilStage, got %v", err)
		}
	})
}

// TestReplaceNodePlugin verifies that replacing keeps the position.
func TestReplaceNodePlugin(t *testing.T) {
	t.Parallel()

	r := newResolver()
	tr := newTestTree(r)
	mustAdd(t, tr, r, "loader")
	a := mustAdd(t, tr, r, "proc")
	b := mustAdd(t, tr, r, "proc")

	if err := tr.PrepareExecution(context.Background(), false, false); err != nil {
		t.Fatalf("PrepareExecution failed: %v", err)
	}
	if err := tr.ReplaceNodePlugin(a, r.mustStage(t, "reduce")); err != nil {
		t.Fatalf("ReplaceNodePlugin failed: %v", err)
	}
	n, _ := tr.Node(a)
	if n.Stage.Descriptor().ImplementationName != "reduce" {
		t.Errorf("stage was not replaced")
	}
	if diff := cmp.Diff([]int{b}, n.Children); diff != "" {
		t.Errorf("children changed (-want +got):\n%s", diff)
	}
	if !tr.Changed() {
		t.Errorf("replacing a stage must mark the tree changed")
	}
	if err := tr.ReplaceNodePlugin(99, r.mustStage(t, "proc")); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

// TestRemoveNode removes a node with two descendants.
func TestRemoveNode(t *testing.T) {
	t.Parallel()

	r := newResolver()
	tr := newTestTree(r)
	root := mustAdd(t, tr, r, "loader")
	a := mustAdd(t, tr, r, "proc")
	b := mustAdd(t, tr, r, "proc")
	c := mustAdd(t, tr, r, "proc", UnderParent(a))
	d := mustAdd(t, tr, r, "proc", UnderParent(root))

	removed, err := tr.RemoveNode(a)
	if err != nil {
		t.Fatalf("RemoveNode failed: %v", err)
	}
	if diff := cmp.Diff([]int{a, b, c}, removed); diff != "" {
		t.Errorf("removed ids mismatch (-want +got):\n%s", diff)
	}
	var remaining []int
	for _, n := range tr.Nodes() {
		remaining = append(remaining, n.ID)
	}
	if diff := cmp.Diff([]int{root, d}, remaining); diff != "" {
		t.Errorf("remaining ids mismatch (-want +got):\n%s", diff)
	}

	if _, err := tr.RemoveNode(root); err != nil {
		t.Fatalf("RemoveNode(root) failed: %v", err)
	}
	if tr.State() != StateEmpty || tr.Len() != 0 {
		t.Errorf("removing the root must empty the tree")
	}
	if _, err := tr.RemoveNode(root); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

// buildRandomTree attaches n processing nodes below a loader root, each
// under a randomly drawn existing node.
func buildRandomTree(t *rapid.T, r *fakeResolver) *Tree {
	tr := newTestTree(r)
	mustAdd(t, tr, r, "loader")
	n := rapid.IntRange(0, 15).Draw(t, "nodes")
	for i := range n {
		ids := tr.ids()
		parent := rapid.SampledFrom(ids).Draw(t, "parent")
		id := mustAdd(t, tr, r, "proc", UnderParent(parent))
		if err := tr.SetNodeParameter(id, "length", rapid.IntRange(1, 64).Draw(t, "length")); err != nil {
			t.Fatalf("SetNodeParameter failed: %v", err)
		}
		if rapid.Bool().Draw(t, "labelled") {
			if err := tr.SetNodeParameter(id, "label", rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "label")); err != nil {
				t.Fatalf("SetNodeParameter failed: %v", err)
			}
		}
		if err := tr.SetKeepResults(id, i%3 == 0); err != nil {
			t.Fatalf("SetKeepResults failed: %v", err)
		}
	}
	return tr
}

// TestRemoveNodeProperty checks that a removal takes away exactly the
// subtree and nothing else.
func TestRemoveNodeProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		r := newResolver()
		tr := buildRandomTree(rt, r)
		before := tr.ids()
		target := rapid.SampledFrom(before).Draw(rt, "target")
		want := tr.subtree(target)
		slices.Sort(want)

		removed, err := tr.RemoveNode(target)
		if err != nil {
			rt.Fatalf("RemoveNode failed: %v", err)
		}
		if diff := cmp.Diff(want, removed); diff != "" {
			rt.Fatalf("removed set mismatch (-want +got):\n%s", diff)
		}
		after := tr.ids()
		for _, id := range after {
			if slices.Contains(removed, id) {
				rt.Fatalf("node %d is both removed and remaining", id)
			}
		}
		if len(after)+len(removed) != len(before) {
			rt.Fatalf("expected %d nodes in total, got %d remaining + %d removed", len(before), len(after), len(removed))
		}
	})
}

// TestConsistencyCheck flags dimensionality mismatches and misplaced
// input stages without failing.
func TestConsistencyCheck(t *testing.T) {
	t.Parallel()

	r := newResolver()
	tr := newTestTree(r)
	root := mustAdd(t, tr, r, "loader")
	a := mustAdd(t, tr, r, "proc")
	bad := mustAdd(t, tr, r, "plane", UnderParent(a))
	input := mustAdd(t, tr, r, "loader", UnderParent(a))
	sink := mustAdd(t, tr, r, "sink", UnderParent(a))

	consistent, inconsistent := tr.ConsistencyCheck()
	if diff := cmp.Diff([]int{root, a, sink}, consistent); diff != "" {
		t.Errorf("consistent ids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{bad, input}, inconsistent); diff != "" {
		t.Errorf("inconsistent ids mismatch (-want +got):\n%s", diff)
	}
	if tr.State() != StateBuilding {
		t.Errorf("expected building, got %s", tr.State())
	}

	for _, id := range []int{bad, input} {
		if _, err := tr.RemoveNode(id); err != nil {
			t.Fatalf("RemoveNode failed: %v", err)
		}
	}
	if _, inconsistent := tr.ConsistencyCheck(); len(inconsistent) != 0 {
		t.Errorf("expected no inconsistent nodes, got %v", inconsistent)
	}
	if tr.State() != StateValidated {
		t.Errorf("expected validated, got %s", tr.State())
	}
}

// TestPrepareExecution verifies the skip rule and the forced flag.
func TestPrepareExecution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty tree", func(t *testing.T) {
		t.Parallel()
		tr := newTestTree(newResolver())
		err := tr.PrepareExecution(ctx, false, false)
		if !errors.Is(err, stage.ErrUserConfig) {
			t.Errorf("expected user config error, got %v", err)
		}
	})

	t.Run("skip when unchanged", func(t *testing.T) {
		t.Parallel()
		r := newResolver()
		tr := newTestTree(r)
		ids := []int{mustAdd(t, tr, r, "loader"), mustAdd(t, tr, r, "proc"), mustAdd(t, tr, r, "proc")}

		if err := tr.PrepareExecution(ctx, false, false); err != nil {
			t.Fatalf("PrepareExecution failed: %v", err)
		}
		if tr.State() != StatePrepared {
			t.Errorf("expected prepared, got %s", tr.State())
		}
		for range 3 {
			if err := tr.PrepareExecution(ctx, false, false); err != nil {
				t.Fatalf("PrepareExecution failed: %v", err)
			}
		}
		for _, id := range ids {
			if got := recorderAt(t, tr, id).prepares; got != 1 {
				t.Errorf("node %d prepared %d times, want 1", id, got)
			}
		}

		if err := tr.PrepareExecution(ctx, true, false); err != nil {
			t.Fatalf("forced PrepareExecution failed: %v", err)
		}
		for _, id := range ids {
			if got := recorderAt(t, tr, id).prepares; got != 2 {
				t.Errorf("node %d prepared %d times after forcing, want 2", id, got)
			}
		}
	})

	t.Run("parameter changes", func(t *testing.T) {
		t.Parallel()
		r := newResolver()
		tr := newTestTree(r)
		root := mustAdd(t, tr, r, "loader")
		if err := tr.PrepareExecution(ctx, false, false); err != nil {
			t.Fatalf("PrepareExecution failed: %v", err)
		}

		if err := tr.SetNodeParameter(root, "fail_at", 3); err != nil {
			t.Fatalf("SetNodeParameter failed: %v", err)
		}
		if tr.Changed() {
			t.Errorf("a parameter without shape effect must not mark the tree changed")
		}
		if err := tr.SetNodeParameter(root, "length", 5); err != nil {
			t.Fatalf("SetNodeParameter failed: %v", err)
		}
		if !tr.Changed() {
			t.Errorf("a shape-affecting parameter must mark the tree changed")
		}
		err := tr.SetNodeParameter(root, "length", "many")
		if !errors.Is(err, stage.ErrUserConfig) {
			t.Errorf("expected user config error, got %v", err)
		}
		if id, ok := stage.FailedNode(err); !ok || id != root {
			t.Errorf("expected error attributed to node %d, got %d", root, id)
		}
	})

	t.Run("test mode keeps the tree dirty", func(t *testing.T) {
		t.Parallel()
		r := newResolver()
		tr := newTestTree(r)
		root := mustAdd(t, tr, r, "loader")
		if err := tr.PrepareExecution(ctx, false, true); err != nil {
			t.Fatalf("PrepareExecution failed: %v", err)
		}
		if !tr.Changed() {
			t.Errorf("test mode must not clear the changed flag")
		}
		if err := tr.PrepareExecution(ctx, false, false); err != nil {
			t.Fatalf("PrepareExecution failed: %v", err)
		}
		if got := recorderAt(t, tr, root).prepares; got != 2 {
			t.Errorf("expected 2 prepares, got %d", got)
		}
	})
}

// TestPrepareSkipProperty checks that an unchanged tree is never prepared
// twice without forcing.
func TestPrepareSkipProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		r := newResolver()
		tr := buildRandomTree(rt, r)
		ctx := context.Background()
		if err := tr.PrepareExecution(ctx, false, false); err != nil {
			rt.Fatalf("PrepareExecution failed: %v", err)
		}
		counts := make(map[int]int)
		for _, id := range tr.ids() {
			counts[id] = recorderAt(rt, tr, id).prepares
		}
		for range rapid.IntRange(1, 4).Draw(rt, "repeats") {
			if err := tr.PrepareExecution(ctx, false, false); err != nil {
				rt.Fatalf("PrepareExecution failed: %v", err)
			}
		}
		for id, want := range counts {
			if got := recorderAt(rt, tr, id).prepares; got != want {
				rt.Fatalf("node %d prepared %d times, want %d", id, got, want)
			}
		}
	})
}

// TestExecuteProcessFailure runs a chain root -> A -> B where A fails on
// scan point 5.
func TestExecuteProcessFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newResolver()
	tr := newTestTree(r)
	mustAdd(t, tr, r, "loader")
	a := mustAdd(t, tr, r, "proc")
	b := mustAdd(t, tr, r, "proc")
	if err := tr.SetNodeParameter(a, "fail_at", 5); err != nil {
		t.Fatalf("SetNodeParameter failed: %v", err)
	}

	sb, err := tr.ExecuteProcess(ctx, 4, nil, nil)
	if err != nil {
		t.Fatalf("scan point 4 failed: %v", err)
	}
	if idx, _ := sb.GlobalIndex(); idx != 4 {
		t.Errorf("expected global index 4 in sideband, got %d", idx)
	}

	_, err = tr.ExecuteProcess(ctx, 5, nil, stage.Sideband{"detector": "pilatus"})
	if !errors.Is(err, stage.ErrUserConfig) {
		t.Fatalf("expected user config error, got %v", err)
	}
	if id, ok := stage.FailedNode(err); !ok || id != a {
		t.Errorf("expected failure at node %d, got %d (%v)", a, id, ok)
	}
	var uce *stage.UserConfigError
	if errors.As(err, &uce) && uce.DisplayName != "Recorder proc" {
		t.Errorf("expected display name in error, got %q", uce.DisplayName)
	}
	if diff := cmp.Diff([]int{4}, recorderAt(t, tr, b).processed); diff != "" {
		t.Errorf("node B must not run for scan point 5 (-want +got):\n%s", diff)
	}
	if len(tr.GetCurrentResults()) != 0 {
		t.Errorf("a failed scan point must not leave results")
	}
}

// TestSidebandIsShared checks that sideband writes are visible downstream.
func TestSidebandIsShared(t *testing.T) {
	t.Parallel()

	r := newResolver()
	tr := newTestTree(r)
	mustAdd(t, tr, r, "loader")
	mustAdd(t, tr, r, "proc")

	sb := stage.Sideband{"marker": 1}
	got, err := tr.ExecuteProcess(context.Background(), 2, nil, sb)
	if err != nil {
		t.Fatalf("ExecuteProcess failed: %v", err)
	}
	if got["marker"] != 1 || got[stage.GlobalIndexKey] != 2 {
		t.Errorf("unexpected sideband %v", got)
	}
	if sb[stage.GlobalIndexKey] != 2 {
		t.Errorf("sideband must be passed by reference")
	}
}

// TestGetCurrentResults checks leaf and keep-results selection.
func TestGetCurrentResults(t *testing.T) {
	t.Parallel()

	r := newResolver()
	tr := newTestTree(r)
	mustAdd(t, tr, r, "loader")
	m := mustAdd(t, tr, r, "proc")
	l := mustAdd(t, tr, r, "reduce")
	mustAdd(t, tr, r, "sink", UnderParent(m))
	if err := tr.SetKeepResults(m, true); err != nil {
		t.Fatalf("SetKeepResults failed: %v", err)
	}

	if got := tr.GetCurrentResults(); len(got) != 0 {
		t.Errorf("expected no results before running, got %v", got)
	}
	if _, err := tr.ExecuteProcess(context.Background(), 2, nil, nil); err != nil {
		t.Fatalf("ExecuteProcess failed: %v", err)
	}

	want := map[int]stage.Payload{
		m: vec{2, 2, 2},
		l: scalar(6),
	}
	if diff := cmp.Diff(want, tr.GetCurrentResults()); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	var withResults []int
	for _, n := range tr.GetAllNodesWithResults() {
		withResults = append(withResults, n.ID)
	}
	if diff := cmp.Diff([]int{m, l}, withResults); diff != "" {
		t.Errorf("nodes with results mismatch (-want +got):\n%s", diff)
	}
}

// TestGetAllResultShapes resolves shapes by running the chain once.
func TestGetAllResultShapes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("resolved by a test run", func(t *testing.T) {
		t.Parallel()
		r := newResolver()
		tr := newTestTree(r)
		mustAdd(t, tr, r, "loader")
		m := mustAdd(t, tr, r, "proc")
		l := mustAdd(t, tr, r, "reduce")
		mustAdd(t, tr, r, "sink", UnderParent(m))
		if err := tr.SetKeepResults(m, true); err != nil {
			t.Fatalf("SetKeepResults failed: %v", err)
		}

		shapes, err := tr.GetAllResultShapes(ctx)
		if err != nil {
			t.Fatalf("GetAllResultShapes failed: %v", err)
		}
		want := map[int]stage.Shape{m: {3}, l: {}}
		if diff := cmp.Diff(want, shapes); diff != "" {
			t.Errorf("shapes mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int{0}, recorderAt(t, tr, l).processed); diff != "" {
			t.Errorf("expected one test run on scan point 0 (-want +got):\n%s", diff)
		}
		if len(tr.GetCurrentResults()) != 0 {
			t.Errorf("test run results must be discarded")
		}
	})

	t.Run("unresolved shape", func(t *testing.T) {
		t.Parallel()
		r := newResolver()
		tr := newTestTree(r)
		mustAdd(t, tr, r, "loader")
		silent := mustAdd(t, tr, r, "proc")
		if err := tr.SetNodeParameter(silent, "silent", true); err != nil {
			t.Fatalf("SetNodeParameter failed: %v", err)
		}

		_, err := tr.GetAllResultShapes(ctx)
		if !errors.Is(err, stage.ErrUserConfig) {
			t.Fatalf("expected user config error, got %v", err)
		}
		if id, _ := stage.FailedNode(err); id != silent {
			t.Errorf("expected node %d to be named, got %d", silent, id)
		}
	})

	t.Run("output rank differs from declared", func(t *testing.T) {
		t.Parallel()
		r := newResolver()
		tr := newTestTree(r)
		mustAdd(t, tr, r, "loader")
		squash := mustAdd(t, tr, r, "squash")

		_, err := tr.GetAllResultShapes(ctx)
		if !errors.Is(err, stage.ErrUserConfig) {
			t.Fatalf("expected user config error, got %v", err)
		}
		if id, _ := stage.FailedNode(err); id != squash {
			t.Errorf("expected node %d to be named, got %d", squash, id)
		}

		_, err = tr.ExecuteProcess(ctx, 1, nil, nil)
		if !errors.Is(err, stage.ErrUserConfig) {
			t.Fatalf("expected user config error from ExecuteProcess, got %v", err)
		}
	})
}

// TestExecuteSinglePlugin runs one node out of band.
func TestExecuteSinglePlugin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newResolver()
	tr := newTestTree(r)
	mustAdd(t, tr, r, "loader")
	a := mustAdd(t, tr, r, "reduce")
	b := mustAdd(t, tr, r, "proc")

	out, _, err := tr.ExecuteSinglePlugin(ctx, a, vec{1, 2, 3}, stage.NewSideband(9))
	if err != nil {
		t.Fatalf("ExecuteSinglePlugin failed: %v", err)
	}
	if out != scalar(6) {
		t.Errorf("expected 6, got %v", out)
	}
	if len(recorderAt(t, tr, b).processed) != 0 {
		t.Errorf("children must not run")
	}
	if _, _, err := tr.ExecuteSinglePlugin(ctx, 42, nil, nil); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}
