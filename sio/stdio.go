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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/crew"
)

// Stdio is a fairly simple Driver that reads lines of JSON from
// stdin.
type Stdio struct {
	lifecycle

	// In is the input.
	In io.Reader

	// Out gets the prompt.
	Out io.Writer

	// Prompt, if not empty, is written to Out before each line is
	// read.
	Prompt string

	// StopWord ends input.
	StopWord string

	// ShellExpand enables input to include inline shell commands
	// delimited by '<<' and '>>'.  Use at your own risk, of
	// course!
	ShellExpand bool

	// CorrelationField names the input property that gives the
	// correlation id.
	CorrelationField string

	// InputEOF will be closed on EOF (or the StopWord).
	InputEOF chan bool
}

// NewStdio creates a new Stdio from the Conf.
//
// In and Out are initialized with os.Stdin and os.Stdout
// respectively.
func NewStdio(c Conf) (*Stdio, error) {
	if err := c.Check("prompt", "stopWord", "shellExpand", "correlationField", "verbose"); err != nil {
		return nil, err
	}
	s := &Stdio{
		In:       os.Stdin,
		Out:      os.Stdout,
		InputEOF: make(chan bool),
	}
	var err error
	if s.Prompt, err = c.String("prompt", ""); err != nil {
		return nil, err
	}
	if s.StopWord, err = c.String("stopWord", "quit"); err != nil {
		return nil, err
	}
	if s.ShellExpand, err = c.Bool("shellExpand", false); err != nil {
		return nil, err
	}
	if s.CorrelationField, err = c.String("correlationField", ""); err != nil {
		return nil, err
	}
	if s.Verbose, err = c.Bool("verbose", false); err != nil {
		return nil, err
	}
	return s, nil
}

// Start reads input in a goroutine.  Each line is processed before
// the next one is read.
func (s *Stdio) Start(ctx context.Context, m *crew.Manager) error {
	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	s.Lock()
	s.InputEOF = fresh(s.InputEOF)
	eof := s.InputEOF
	s.Unlock()

	lines := make(chan string)

	// The reader can block forever on In, so Stop doesn't wait
	// for it.
	go func() {
		defer close(lines)
		in := bufio.NewReader(s.In)
		for {
			if s.Prompt != "" && s.Out != nil {
				fmt.Fprint(s.Out, s.Prompt)
			}
			line, err := in.ReadString('\n')
			if 0 < len(line) {
				select {
				case <-ctx.Done():
					return
				case lines <- line:
				}
			}
			if err != nil {
				if err != io.EOF {
					s.logf("stdin error %s", err)
				}
				return
			}
		}
	}()

	s.goDo(func() {
		defer close(eof)
		defer s.stopped()
		for {
			var line string
			select {
			case <-ctx.Done():
				return
			case l, ok := <-lines:
				if !ok {
					s.logf("stdio input done")
					return
				}
				line = strings.TrimSpace(l)
			}

			if s.StopWord != "" && line == s.StopWord {
				return
			}
			if len(line) == 0 || strings.HasPrefix(line, "#") {
				continue
			}
			if s.ShellExpand {
				var err error
				if line, err = ShellExpand(ctx, line); err != nil {
					s.logf("stdin error %s", err)
					continue
				}
			}

			v, err := core.ParseJSON([]byte(line))
			if err != nil {
				fmt.Fprintf(os.Stderr, "bad input: %s\n", err)
				continue
			}

			s.process(ctx, m, CorrelationID(s.CorrelationField, v), v)
		}
	})

	return nil
}

// Stop stops reading.
func (s *Stdio) Stop(ctx context.Context) error {
	s.end()
	return nil
}
