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
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/crew"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// File is a Driver that follows a file of JSON lines.
//
// New complete lines are read at every PollInterval and, with Watch,
// whenever the file system reports a change.  A partial last line
// waits for its newline.  If the file shrinks, it's read again from
// the start.
type File struct {
	lifecycle

	Filename string

	Fs afero.Fs

	PollInterval time.Duration

	// Watch uses fsnotify to notice changes sooner.  Only useful
	// with the OS file system.
	Watch bool

	// FromStart reads lines that were in the file before Start.
	FromStart bool

	CorrelationField string

	offset int64
}

// NewFile makes a File from the Conf.
func NewFile(c Conf) (*File, error) {
	if err := c.Check("filename", "pollInterval", "watch", "fromStart", "correlationField", "verbose"); err != nil {
		return nil, err
	}
	f := &File{
		Fs: afero.NewOsFs(),
	}
	var err error
	if f.Filename, err = c.String("filename", ""); err != nil {
		return nil, err
	}
	if f.Filename == "" {
		return nil, core.NewConfigurationError("filename", "no filename given")
	}
	if f.PollInterval, err = c.Duration("pollInterval", time.Second); err != nil {
		return nil, err
	}
	if f.Watch, err = c.Bool("watch", false); err != nil {
		return nil, err
	}
	if f.FromStart, err = c.Bool("fromStart", true); err != nil {
		return nil, err
	}
	if f.CorrelationField, err = c.String("correlationField", ""); err != nil {
		return nil, err
	}
	if f.Verbose, err = c.Bool("verbose", false); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) size() (int64, error) {
	fi, err := f.Fs.Stat(f.Filename)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// readLines returns the complete lines after the offset and advances
// the offset past them.
func (f *File) readLines() ([][]byte, error) {
	size, err := f.size()
	if err != nil {
		return nil, err
	}
	if size < f.offset {
		f.logf("File %s shrank; starting over", f.Filename)
		f.offset = 0
	}
	if size == f.offset {
		return nil, nil
	}

	in, err := f.Fs.Open(f.Filename)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", f.Filename)
	}
	defer in.Close()

	if _, err = in.Seek(f.offset, io.SeekStart); err != nil {
		return nil, errors.Wrapf(err, "seeking %s", f.Filename)
	}
	bs, err := io.ReadAll(in)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", f.Filename)
	}

	end := bytes.LastIndexByte(bs, '\n')
	if end < 0 {
		return nil, nil
	}
	f.offset += int64(end + 1)

	var acc [][]byte
	for _, line := range bytes.Split(bs[:end], []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		acc = append(acc, line)
	}
	return acc, nil
}

func (f *File) poll(ctx context.Context, m *crew.Manager) {
	lines, err := f.readLines()
	if err != nil {
		f.logf("File %s error %s", f.Filename, err)
		return
	}
	for _, line := range lines {
		if ctx.Err() != nil {
			return
		}
		v, err := core.ParseJSON(line)
		if err != nil {
			f.logf("File %s bad input: %s", f.Filename, err)
			continue
		}
		f.process(ctx, m, CorrelationID(f.CorrelationField, v), v)
	}
}

func (f *File) Start(ctx context.Context, m *crew.Manager) error {
	if f.Fs == nil {
		f.Fs = afero.NewOsFs()
	}

	f.offset = 0
	if !f.FromStart {
		size, err := f.size()
		if err != nil {
			return err
		}
		f.offset = size
	}

	var (
		events  chan fsnotify.Event
		errs    chan error
		watcher *fsnotify.Watcher
	)
	if f.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return errors.Wrap(err, "fsnotify")
		}
		// Watch the directory so that the file can come and go.
		if err = w.Add(filepath.Dir(f.Filename)); err != nil {
			w.Close()
			return errors.Wrapf(err, "watching %s", f.Filename)
		}
		watcher = w
		events, errs = w.Events, w.Errors
	}

	ctx, err := f.begin(ctx)
	if err != nil {
		if watcher != nil {
			watcher.Close()
		}
		return err
	}

	interval := f.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	f.goDo(func() {
		if watcher != nil {
			defer watcher.Close()
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		f.poll(ctx, m)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.poll(ctx, m)
			case e, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if filepath.Clean(e.Name) == filepath.Clean(f.Filename) {
					f.poll(ctx, m)
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				f.logf("File %s watch error %s", f.Filename, err)
			}
		}
	})

	return nil
}

func (f *File) Stop(ctx context.Context) error {
	f.end()
	return nil
}
