package core

import (
	"context"
	"errors"
	"testing"
)

func TestStatementResolve(t *testing.T) {
	root := NewStatement(context.Background(), nil, 0, String("x"))
	root.Bind("a", Num(1))

	child := root.Child()
	child.Bind("b", Num(2))

	v, err := child.Resolve("a")
	if err != nil {
		t.Fatal(err)
	}
	if v.Float() != 1 {
		t.Fatal(v)
	}

	if _, err = root.Resolve("b"); !errors.Is(err, ErrBindingMissing) {
		t.Fatal(err)
	}

	child.Bind("a", Num(3))
	if v, _ = child.Resolve("a"); v.Float() != 3 {
		t.Fatal("inner binding should shadow")
	}
	if v, _ = root.Resolve("a"); v.Float() != 1 {
		t.Fatal("inner binding leaked")
	}
}

func TestStatementSiblingIsolation(t *testing.T) {
	root := NewStatement(context.Background(), nil, 0, MustParseJSON(`{"n":1}`))

	a := root.Child()
	b := root.Child()

	a.CurrentValue().Put("n", Num(2))
	a.SetCurrentValue(String("replaced"))

	n, _ := b.CurrentValue().Get("n")
	if n.Float() != 1 {
		t.Fatal("sibling saw a change")
	}
	if n, _ = root.CurrentValue().Get("n"); n.Float() != 1 {
		t.Fatal("parent saw a change")
	}
}

func TestStatementDetached(t *testing.T) {
	st := NewStatement(nil, nil, 0, nil)
	if st.Exec() != nil {
		t.Fatal("detached statement has a context")
	}
	if st.Context() == nil {
		t.Fatal("no context.Context")
	}
	if st.CurrentValue().Kind != KindEmpty {
		t.Fatal(st.CurrentValue())
	}
}

func TestStatementHandleReleased(t *testing.T) {
	arena := NewArena()
	ec := NewExecContext(arena, "h")
	st := ec.NewStatement(context.Background(), nil)
	if st.Exec() != ec {
		t.Fatal("handle doesn't resolve")
	}
	arena.Remove(ec.Handle())
	if st.Exec() != nil {
		t.Fatal("released handle still resolves")
	}
}
