package stack

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testStack(name string, deps ...string) *Stack {
	return &Stack{Name: name, Dependencies: deps, TemplatePath: name + ".yaml"}
}

func TestGraph_OrderBatches(t *testing.T) {
	g, err := BuildGraph([]*Stack{testStack("A"), testStack("B", "A"), testStack("C", "A")}, GraphOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if diff := cmp.Diff([][]string{{"A"}, {"B", "C"}}, g.Order()); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"B", "C"}, {"A"}}, g.Reverse().Order()); diff != "" {
		t.Fatalf("reverse order (-want +got):\n%s", diff)
	}
}

func TestGraph_CycleDetected(t *testing.T) {
	_, err := BuildGraph([]*Stack{testStack("A", "C"), testStack("B", "A"), testStack("C", "B"), testStack("D")}, GraphOptions{})
	var cyc *CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
	if len(cyc.Cycle) != 3 {
		t.Fatalf("cycle=%v", cyc.Cycle)
	}
	for _, name := range cyc.Cycle {
		if name == "D" {
			t.Fatalf("D is not on the cycle: %v", cyc.Cycle)
		}
	}
}

func TestGraph_MissingDependency(t *testing.T) {
	stacks := []*Stack{testStack("A"), testStack("B", "A", "X")}
	_, err := BuildGraph(stacks, GraphOptions{})
	var missing *MissingDependencyError
	if !errors.As(err, &missing) || missing.Dependency != "X" || missing.Stack != "B" {
		t.Fatalf("expected missing X from B, got %v", err)
	}
	g, err := BuildGraph(stacks, GraphOptions{IgnoreMissing: true})
	if err != nil {
		t.Fatalf("ignore missing: %v", err)
	}
	if diff := cmp.Diff([][2]string{{"B", "A"}}, g.Edges()); diff != "" {
		t.Fatalf("edges (-want +got):\n%s", diff)
	}
}

func TestGraph_Walks(t *testing.T) {
	g, err := BuildGraph([]*Stack{testStack("A"), testStack("B", "A"), testStack("C", "B"), testStack("D", "A")}, GraphOptions{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if diff := cmp.Diff([]string{"A", "B"}, g.DepsOf("C")); diff != "" {
		t.Fatalf("DepsOf(C) (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B", "C", "D"}, g.DependentsOf("A")); diff != "" {
		t.Fatalf("DependentsOf(A) (-want +got):\n%s", diff)
	}
}

// Every stack lands in exactly one batch, after all of its dependencies.
func TestGraph_OrderRespectsDependencies(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		n := 2 + rng.Intn(20)
		var stacks []*Stack
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("s%02d", i)
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(4) == 0 {
					deps = append(deps, fmt.Sprintf("s%02d", j))
				}
			}
			stacks = append(stacks, testStack(name, deps...))
		}
		g, err := BuildGraph(stacks, GraphOptions{})
		if err != nil {
			t.Fatalf("iter %d: %v", iter, err)
		}
		batchOf := map[string]int{}
		for i, batch := range g.Order() {
			for _, name := range batch {
				if _, dup := batchOf[name]; dup {
					t.Fatalf("iter %d: %s scheduled twice", iter, name)
				}
				batchOf[name] = i
			}
		}
		if len(batchOf) != n {
			t.Fatalf("iter %d: scheduled %d of %d", iter, len(batchOf), n)
		}
		for _, s := range stacks {
			for _, dep := range s.Dependencies {
				if batchOf[dep] >= batchOf[s.Name] {
					t.Fatalf("iter %d: %s (batch %d) not after %s (batch %d)", iter, s.Name, batchOf[s.Name], dep, batchOf[dep])
				}
			}
		}
	}
}

func TestSelect_ScopeExpansion(t *testing.T) {
	p, err := NewProject("/tmp/p",
		testStack("dev/vpc"),
		testStack("dev/app", "dev/vpc"),
		testStack("prod/vpc"),
		testStack("prod/app", "prod/vpc", "dev/vpc"),
	)
	if err != nil {
		t.Fatalf("project: %v", err)
	}

	sel, err := Select(p, "prod/app.yaml", false, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if diff := cmp.Diff([]string{"dev/vpc", "prod/app", "prod/vpc"}, sel.Names()); diff != "" {
		t.Fatalf("forward (-want +got):\n%s", diff)
	}

	sel, err = Select(p, "dev/vpc", true, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if diff := cmp.Diff([]string{"dev/app", "dev/vpc", "prod/app"}, sel.Names()); diff != "" {
		t.Fatalf("reverse (-want +got):\n%s", diff)
	}

	sel, err = Select(p, "dev", false, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if diff := cmp.Diff([]string{"dev/app", "dev/vpc"}, sel.Names()); diff != "" {
		t.Fatalf("directory (-want +got):\n%s", diff)
	}

	sel, err = Select(p, "", false, false)
	if err != nil || len(sel.Stacks) != 4 {
		t.Fatalf("whole project: %v %v", sel.Names(), err)
	}

	if _, err := Select(p, "staging", false, false); !errors.Is(err, ErrNoStacks) {
		t.Fatalf("expected ErrNoStacks, got %v", err)
	}
}
