package tools

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Comcast/jsonpipe/core"

	"github.com/stretchr/testify/require"
)

var shoutProgram = `
name: shout
version: "1.0"
doc: |
  Makes text **louder**.
steps:
  - call: user:text:shout
    args: [{current: true}]
functions:
  user:text:shout:
    interpreter: goja
    doc: Upper-cases its argument.
    source: return args[0].toUpperCase() + "!";
aggregates:
  counts:
    timeout: 2s
    output: true
`

func TestRenderFunctionsHTML(t *testing.T) {
	var out bytes.Buffer
	if err := RenderFunctionsHTML(BuiltinRegistry(), &out); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	require.Contains(t, s, `id="core:math:sqrt"`)
	require.Contains(t, s, "<code>ceil(x)</code>")
}

func TestRenderProgramPage(t *testing.T) {
	p, err := core.ParseProgram([]byte(shoutProgram))
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := RenderProgramPage(p, nil, &out, []string{"program.css"}); err != nil {
		t.Fatal(err)
	}
	s := out.String()

	for _, want := range []string{
		"<title>shout</title>",
		`href="program.css"`,
		"<strong>louder</strong>",
		`id="user:text:shout"`,
		"toUpperCase",
		`class="aggregateName">counts<`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %q", want)
		}
	}
	if strings.Contains(s, "core:math:sqrt") {
		t.Fatal("didn't want builtins")
	}
}

func TestReadAndRenderProgramPage(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "shout.yaml")
	if err := os.WriteFile(filename, []byte(shoutProgram), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := ReadAndRenderProgramPage(filename, nil, &out); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	require.Contains(t, s, "/static/program-html.css")
	require.Contains(t, s, "core:state:get")

	if err := ReadAndRenderProgramPage(filename+".missing", nil, &out); err == nil {
		t.Fatal("expected an error")
	}
}
