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

// Package main runs a single program against one input driver.
//
// Input comes from a driver (stdio by default), each input is
// evaluated by an execution context chosen by the crew strategy, and
// results go to stdout (or back to the websocket, or to an MQTT
// topic).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/crew"
	_ "github.com/Comcast/jsonpipe/interpreters/goja"
	_ "github.com/Comcast/jsonpipe/match"
	"github.com/Comcast/jsonpipe/metrics"
	"github.com/Comcast/jsonpipe/sio"
	"github.com/Comcast/jsonpipe/storage"
	"github.com/Comcast/jsonpipe/storage/bolt"
	"github.com/Comcast/jsonpipe/tools"
	"github.com/Comcast/jsonpipe/util"

	"github.com/alexflint/go-arg"
	"github.com/spf13/afero"
)

// Args are what are used to build the CLI.
type Args struct {
	Program string `arg:"positional,required" help:"program file (JSON or YAML)"`

	Driver string `arg:"--driver" default:"stdio" help:"input driver: stdio, file, ticker, mqtt, or websocket"`
	Conf   string `arg:"--conf" help:"driver configuration file (YAML)"`

	Strategy  string `arg:"--strategy" default:"singleton" help:"singleton, always_create_new, or reuse_by_correlation_id"`
	Namespace string `arg:"--namespace" default:"jsonpipe" help:"storage namespace for context state"`
	Store     string `arg:"--store" default:"none" help:"state storage: none, json, or bolt"`
	StoreFile string `arg:"--store-file" help:"filename for --store json or bolt"`

	Publish    string `arg:"--publish" help:"MQTT topic for results (mqtt driver only)"`
	Timestamps bool   `arg:"--timestamps" help:"prefix each output line with a timestamp"`

	Metrics string        `arg:"--metrics" help:"serve Prometheus metrics at this address"`
	Docs    string        `arg:"--docs" help:"write the program's HTML documentation to this file and exit"`
	Wait    time.Duration `arg:"--wait" default:"1s" help:"wait this long for in-flight work at shutdown"`

	Verbose bool `arg:"-v,--verbose" help:"verbose logging"`
}

func (Args) Description() string {
	return "jsonpipe evaluates a program against JSON inputs"
}

func main() {
	if err := Main(); err != nil {
		log.Fatal(err)
	}
}

// Main parses the command line and runs until the driver is done or
// the process is interrupted.
func Main() error {
	var args Args
	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return err
	}
	err = parser.Parse(os.Args[1:])
	if err == arg.ErrHelp {
		parser.WriteHelp(os.Stdout)
		return nil
	}
	if err != nil {
		parser.WriteUsage(os.Stderr)
		return err
	}

	util.Logging = args.Verbose

	src, err := os.ReadFile(args.Program)
	if err != nil {
		return err
	}
	p, err := core.ParseProgram(src)
	if err != nil {
		return err
	}

	if args.Docs != "" {
		return writeDocs(p, args.Docs)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err = p.Compile(ctx, nil, false); err != nil {
		return err
	}

	strategy, err := crew.ParseStrategy(args.Strategy)
	if err != nil {
		return err
	}

	conf := sio.Conf{}
	if args.Conf != "" {
		bs, err := os.ReadFile(args.Conf)
		if err != nil {
			return err
		}
		if conf, err = sio.LoadConf(bs); err != nil {
			return err
		}
	}
	if args.Verbose {
		if _, have := conf["verbose"]; !have {
			conf["verbose"] = true
		}
	}

	driver, err := sio.NewDriver(args.Driver, conf)
	if err != nil {
		return err
	}

	output, err := makeOutput(driver, args)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, args)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			util.Warnf("store close error: %s", err)
		}
	}()

	if args.Metrics != "" {
		s := &metrics.Server{
			Listen: args.Metrics,
		}
		if err = s.Start(); err != nil {
			return err
		}
		defer s.Stop()
	}

	m := crew.NewManager(ctx, strategy, func(arena *core.Arena, id string) (*core.ExecContext, error) {
		ec, err := p.NewContext(arena, id)
		if err != nil {
			return nil, err
		}
		ec.Output = output
		ec.Components["out"] = output
		return ec, nil
	})
	m.Namespace = args.Namespace
	m.Store = store
	m.Verbose = args.Verbose

	if err = driver.Start(ctx, m); err != nil {
		return err
	}

	switch d := driver.(type) {
	case *sio.Stdio:
		select {
		case <-ctx.Done():
		case <-d.InputEOF:
		}
	case *sio.Ticker:
		select {
		case <-ctx.Done():
		case <-d.Done:
		}
	default:
		<-ctx.Done()
	}

	util.Logf("jsonpipe shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), args.Wait)
	defer scancel()

	if err = driver.Stop(sctx); err != nil {
		util.Warnf("driver stop error: %s", err)
	}

	return m.Shutdown(sctx)
}

// makeOutput picks the component that receives results.
func makeOutput(driver sio.Driver, args Args) (core.Component, error) {
	if args.Publish != "" {
		d, is := driver.(*sio.MQTT)
		if !is {
			return nil, fmt.Errorf("--publish needs the mqtt driver, not %s", args.Driver)
		}
		return d.Publisher(args.Publish), nil
	}
	if d, is := driver.(*sio.WebSocket); is {
		return d, nil
	}
	w := sio.NewWriter(os.Stdout)
	w.Timestamps = args.Timestamps
	return w, nil
}

func openStore(ctx context.Context, args Args) (storage.Store, error) {
	switch args.Store {
	case "", "none":
		return &storage.Noop{}, nil
	case "json":
		filename := args.StoreFile
		if filename == "" {
			filename = "state.json"
		}
		s := storage.NewJSONStore(afero.NewOsFs(), filename)
		s.Debug = args.Verbose
		if err := s.Open(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "bolt":
		s, err := bolt.NewStorage(args.StoreFile)
		if err != nil {
			return nil, err
		}
		s.Debug = args.Verbose
		if err := s.Open(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, core.NewConfigurationError("store", "unknown store %q", args.Store)
}

func writeDocs(p *core.Program, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err = tools.RenderProgramPage(p, tools.BuiltinRegistry(), f, nil); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
