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

package sio

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Comcast/jsonpipe/core"

	"github.com/pkg/errors"
)

// ShortLength bounds what JShort renders.
var ShortLength = 70

// JShort renders the Value as JSON, truncated to ShortLength bytes
// with an ellipsis.
func JShort(v *core.Value) string {
	js := v.String()
	if ShortLength < len(js) {
		return js[:ShortLength] + "..."
	}
	return js
}

var shell = regexp.MustCompile(`<<(.*?)>>`)

// ShellExpand replaces each '<<cmd>>' in the input line with the
// trimmed stdout of running cmd with "bash -c".  The commands are
// killed if ctx is done.
func ShellExpand(ctx context.Context, line string) (string, error) {
	var acc strings.Builder
	last := 0
	for _, loc := range shell.FindAllStringSubmatchIndex(line, -1) {
		acc.WriteString(line[last:loc[0]])
		sh := line[loc[2]:loc[3]]

		var out, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, "bash", "-c", sh)
		cmd.Stdout = &out
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return "", errors.Wrapf(err, "shell %q: %s", sh, strings.TrimSpace(stderr.String()))
		}
		acc.WriteString(strings.TrimRight(out.String(), "\n"))
		last = loc[1]
	}
	acc.WriteString(line[last:])
	return acc.String(), nil
}
