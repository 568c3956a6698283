package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/storage"
)

func TestImpl(t *testing.T) {
	// Just confirm that this code compiles.
	var _ storage.Store = &Storage{}
}

func TestBasics(t *testing.T) {
	var (
		filename = filepath.Join(t.TempDir(), "storage.db")
		ns       = "simpsons"
	)

	s, err := NewStorage(filename)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}

	defer func() {
		if err := s.Close(ctx); err != nil {
			t.Fatal(err)
		}
	}()

	if v, err := s.Load(ctx, ns, "homer"); err != nil {
		t.Fatal(err)
	} else if v != nil {
		t.Fatal(v)
	}

	if err := s.Save(ctx, ns, "homer", core.MustParseJSON(`{"likes":"beer","n":1.50}`)); err != nil {
		t.Fatal(err)
	}

	v, err := s.Load(ctx, ns, "homer")
	if err != nil {
		t.Fatal(err)
	}
	if v == nil {
		t.Fatal("nothing loaded")
	}
	if got, want := v.String(), `{"likes":"beer","n":1.5}`; got != want {
		t.Fatalf("%s != %s", got, want)
	}

	nss, err := s.Namespaces(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(nss) != 1 || nss[0] != ns {
		t.Fatal(nss)
	}

	if err := s.Remove(ctx, ns, "homer"); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Load(ctx, ns, "homer"); err != nil {
		t.Fatal(err)
	} else if v != nil {
		t.Fatal(v)
	}
	if nss, err = s.Namespaces(ctx); err != nil {
		t.Fatal(err)
	} else if len(nss) != 0 {
		t.Fatal(nss)
	}

	// Removing again is fine.
	if err := s.Remove(ctx, ns, "homer"); err != nil {
		t.Fatal(err)
	}
}

func TestNoFilename(t *testing.T) {
	if _, err := NewStorage(""); err == nil {
		t.Fatal("expected an error")
	}
}
