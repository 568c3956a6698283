// Package jsonpipe provides program-driven JSON evaluation machinery.
//
// The core code is in package 'core', execution-context management is
// in 'crew', input drivers are in 'sio', and the command-line tool is
// in `cmd/jsonpipe`.
package jsonpipe
