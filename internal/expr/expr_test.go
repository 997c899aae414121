package expr

import (
	"testing"
)

func mapResolver(m map[int64]bool) LeafResolver {
	return func(id int64) (bool, bool) {
		v, ok := m[id]
		return v, ok
	}
}

func TestEvaluatePrecedence(t *testing.T) {
	resolve := mapResolver(map[int64]bool{1: true, 0: false, 2: true, 3: false})

	cases := []struct {
		expr string
		want bool
	}{
		{"1", true},
		{"0", false},
		{"1 AND 0", false},
		{"1 OR 0", true},
		{"(1 AND 0) OR 1", true},
		{"(1 AND 0)", false},
		// AND binds tighter than OR
		{"0 AND 1 OR 2", true},
		{"0 AND (1 OR 3)", false},
		{"1 AND 2 AND 0 OR 2", true},
		{"NOT 0", true},
		{"NOT 1 OR 2", true},
		{"NOT (1 OR 2)", false},
		{"true AND 1", true},
		{"false OR 0", false},
		{"((1))", true},
		{"(1 OR 3) AND (2 OR 0)", true},
	}

	for _, tc := range cases {
		got, err := Evaluate(tc.expr, resolve)
		if err != nil {
			t.Errorf("Evaluate(%q) returned error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestCaseInsensitiveKeywords(t *testing.T) {
	resolve := mapResolver(map[int64]bool{1: true, 0: false})

	for _, expr := range []string{"1 and 0 or 1", "1 And 0 Or 1", "1 AND 0 OR 1"} {
		got, err := Evaluate(expr, resolve)
		if err != nil {
			t.Fatalf("Evaluate(%q) returned error: %v", expr, err)
		}
		if !got {
			t.Errorf("Evaluate(%q) = false, want true", expr)
		}
	}
}

func TestMalformedExpressions(t *testing.T) {
	resolve := mapResolver(map[int64]bool{1: true, 2: true})

	cases := []string{
		"",
		"   ",
		"(1 AND 2",
		"1 AND 2)",
		"1 AND",
		"OR 1",
		"1 2",
		"1 && 2",
		"foo",
		"()",
	}

	for _, expr := range cases {
		got, err := Evaluate(expr, resolve)
		if err == nil {
			t.Errorf("Evaluate(%q) expected error, got %v", expr, got)
		}
		if got {
			t.Errorf("Evaluate(%q) must degrade to false on error", expr)
		}
	}
}

func TestUnresolvableLeaf(t *testing.T) {
	resolve := mapResolver(map[int64]bool{1: true})

	got, err := Evaluate("1 AND 99", resolve)
	if err == nil {
		t.Fatal("expected error for unresolvable id 99")
	}
	if got {
		t.Error("unresolvable leaf must degrade to false")
	}
}

func TestLeaves(t *testing.T) {
	e, err := Parse("(1 AND 2) OR NOT 3 OR 1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	leaves := e.Leaves()
	want := []int64{1, 2, 3}
	if len(leaves) != len(want) {
		t.Fatalf("expected %d leaves, got %d", len(want), len(leaves))
	}
	for i, id := range want {
		if leaves[i] != id {
			t.Errorf("leaf %d: expected %d, got %d", i, id, leaves[i])
		}
	}
}

func TestLiteralOnlyExpression(t *testing.T) {
	got, err := Evaluate("true AND (false OR true)", nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !got {
		t.Error("expected true")
	}
}

func TestReparseIsStable(t *testing.T) {
	resolve := mapResolver(map[int64]bool{1: true, 2: false})
	e, err := Parse("1 OR 2")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := e.Eval(resolve)
		if err != nil {
			t.Fatalf("Eval failed: %v", err)
		}
		if !got {
			t.Errorf("evaluation %d: expected true", i)
		}
	}
}
