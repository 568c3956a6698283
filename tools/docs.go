/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package tools renders program and function documentation as HTML.
package tools

import (
	"fmt"
	"html"
	"io"
	"os"
	"sort"

	"github.com/Comcast/jsonpipe/core"

	"github.com/jsccast/yaml"
	md "github.com/russross/blackfriday/v2"
)

func printer(out io.Writer) func(format string, args ...interface{}) {
	return func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}
}

// code renders a document fragment as YAML.
func code(x interface{}) string {
	if s, is := x.(string); is {
		return html.EscapeString(s)
	}
	bs, err := yaml.Marshal(x)
	if err != nil {
		return html.EscapeString(fmt.Sprintf("%v", x))
	}
	return html.EscapeString(string(bs))
}

// RenderFunctionsHTML writes a table of the registry's functions,
// including those of imported modules.
func RenderFunctionsHTML(reg *core.Registry, out io.Writer) error {
	f := printer(out)

	f(`<div class="functions"><table>`)
	for _, name := range reg.List() {
		fn, have := reg.Lookup(name)
		if !have {
			continue
		}
		f(`<tr class="function"><td><span id="%s" class="functionName">%s</span></td><td>`, name, name)
		if fn.Doc != "" {
			f(`<div class="functionDoc doc">%s</div>`, md.Run([]byte(fn.Doc)))
		}
		f(`</td></tr>`)
	}
	f(`</table></div>`)

	return nil
}

// RenderProgramHTML writes the program's documentation, its steps,
// its function sources, and its aggregates.
func RenderProgramHTML(p *core.Program, out io.Writer) error {
	f := printer(out)

	if p.Doc != "" {
		f(`<div class="programDoc doc">%s</div>`, md.Run([]byte(p.Doc)))
	}

	f(`<div class="steps"><table>`)
	for i, step := range p.Steps {
		f(`<tr class="step"><td><div class="stepNum">%d</div></td>`, i)
		f(`<td><div class="code"><pre>%s</pre></div></td></tr>`, code(step))
	}
	f(`</table></div>`)

	if 0 < len(p.Functions) {
		names := make([]string, 0, len(p.Functions))
		for name := range p.Functions {
			names = append(names, name)
		}
		sort.Strings(names)

		f(`<div class="programFunctions"><table>`)
		for _, name := range names {
			src := p.Functions[name]
			f(`<tr class="function"><td><span id="%s" class="functionName">%s</span></td><td>`, name, name)
			if src.Doc != "" {
				f(`<div class="functionDoc doc">%s</div>`, md.Run([]byte(src.Doc)))
			}
			if src.Interpreter != "" {
				f(`<div>interpreter: <span class="interpreter">%s</span></div>`, src.Interpreter)
			}
			f(`<div class="code"><pre>%s</pre></div>`, code(src.Source))
			f(`</td></tr>`)
		}
		f(`</table></div>`)
	}

	if 0 < len(p.Aggregates) {
		ids := make([]string, 0, len(p.Aggregates))
		for id := range p.Aggregates {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		f(`<div class="aggregates"><table>`)
		for _, id := range ids {
			a := p.Aggregates[id]
			f(`<tr class="aggregate"><td><span id="%s" class="aggregateName">%s</span></td><td><table>`, id, id)
			if a.Timeout != "" {
				f(`<tr><td>timeout</td><td><code>%s</code></td></tr>`, html.EscapeString(a.Timeout))
			}
			if a.Initial != nil {
				f(`<tr><td>initial</td><td><pre>%s</pre></td></tr>`, code(a.Initial))
			}
			if a.Combine != nil {
				f(`<tr><td>combine</td><td><pre>%s</pre></td></tr>`, code(a.Combine))
			}
			if a.Result != nil {
				f(`<tr><td>result</td><td><pre>%s</pre></td></tr>`, code(a.Result))
			}
			if a.Output {
				f(`<tr><td>output</td><td>true</td></tr>`)
			}
			f(`</table></td></tr>`)
		}
		f(`</table></div>`)
	}

	return nil
}

// RenderProgramPage writes a complete HTML page for the program.  When
// reg isn't nil, the page ends with the registry's functions.
func RenderProgramPage(p *core.Program, reg *core.Registry, out io.Writer, cssFiles []string) error {
	if cssFiles == nil {
		cssFiles = []string{"/static/program-html.css"}
	}

	title := p.Name
	if title == "" {
		title = "program"
	}
	title = html.EscapeString(title)

	fmt.Fprintf(out, `<!DOCTYPE html>
<meta charset="utf-8">
<html>
  <head>
  <title>%s</title>
`, title)

	for _, cssFile := range cssFiles {
		fmt.Fprintf(out, "  <link href=\"%s\" rel=\"stylesheet\">\n", cssFile)
	}

	fmt.Fprintf(out, `
  </head>
  <body>
    <h1>%s</h1>
`, title)

	if p.Version != "" {
		fmt.Fprintf(out, "    <div class=\"version\">%s</div>\n", html.EscapeString(p.Version))
	}

	if err := RenderProgramHTML(p, out); err != nil {
		return err
	}

	if reg != nil {
		fmt.Fprintf(out, "    <h2>Functions</h2>\n")
		if err := RenderFunctionsHTML(reg, out); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, `
  </body>
</html>
`)

	return nil
}

// BuiltinRegistry returns a Registry with only the built-in functions.
func BuiltinRegistry() *core.Registry {
	reg := core.NewRegistry()
	reg.MustRegister(core.Builtins()...)
	return reg
}

// ReadAndRenderProgramPage parses a program (JSON or YAML) from the
// given file and renders its page along with the built-in functions.
func ReadAndRenderProgramPage(filename string, cssFiles []string, out io.Writer) error {
	src, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	p, err := core.ParseProgram(src)
	if err != nil {
		return err
	}
	return RenderProgramPage(p, BuiltinRegistry(), out, cssFiles)
}
