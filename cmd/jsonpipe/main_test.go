package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/sio"
	"github.com/Comcast/jsonpipe/storage"
	"github.com/Comcast/jsonpipe/storage/bolt"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := openStore(ctx, Args{Store: "none"})
	if err != nil {
		t.Fatal(err)
	}
	if _, is := s.(*storage.Noop); !is {
		t.Fatal(s)
	}

	s, err = openStore(ctx, Args{Store: "json", StoreFile: filepath.Join(dir, "state.json")})
	if err != nil {
		t.Fatal(err)
	}
	if _, is := s.(*storage.JSONStore); !is {
		t.Fatal(s)
	}
	s.Close(ctx)

	s, err = openStore(ctx, Args{Store: "bolt", StoreFile: filepath.Join(dir, "state.db")})
	if err != nil {
		t.Fatal(err)
	}
	if _, is := s.(*bolt.Storage); !is {
		t.Fatal(s)
	}
	s.Close(ctx)

	if _, err = openStore(ctx, Args{Store: "bolt"}); err == nil {
		t.Fatal("expected an error for bolt without a file")
	}

	_, err = openStore(ctx, Args{Store: "redis"})
	if !errors.Is(err, core.ErrConfiguration) {
		t.Fatal(err)
	}
}

func TestMakeOutput(t *testing.T) {
	stdio, err := sio.NewStdio(sio.Conf{})
	if err != nil {
		t.Fatal(err)
	}

	out, err := makeOutput(stdio, Args{Timestamps: true})
	if err != nil {
		t.Fatal(err)
	}
	w, is := out.(*sio.Writer)
	if !is || !w.Timestamps {
		t.Fatal(out)
	}

	if _, err = makeOutput(stdio, Args{Driver: "stdio", Publish: "out"}); err == nil {
		t.Fatal("expected an error for --publish without mqtt")
	}

	ws, err := sio.NewWebSocket(sio.Conf{"url": "ws://localhost:1/"})
	if err != nil {
		t.Fatal(err)
	}
	if out, err = makeOutput(ws, Args{}); err != nil {
		t.Fatal(err)
	}
	if out != core.Component(ws) {
		t.Fatal(out)
	}
}

func TestWriteDocs(t *testing.T) {
	p, err := core.ParseProgram([]byte(`{"name":"double","doc":"Doubles *numbers*.","steps":[{"op":"*","args":[{"current":true},2]}]}`))
	if err != nil {
		t.Fatal(err)
	}
	filename := filepath.Join(t.TempDir(), "double.html")
	if err = writeDocs(p, filename); err != nil {
		t.Fatal(err)
	}
	bs, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(bs), "<em>numbers</em>") {
		t.Fatal(string(bs))
	}
}
