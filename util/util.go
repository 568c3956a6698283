// Package util holds the process-wide logging switch.
package util

import "log"

var (
	// Logging is a clumsy switch that affects what Logf does.
	//
	// If Logging is true, then Logf calls log.Printf.
	Logging = false

	// Prefix starts every line written by Logf and Warnf.
	Prefix = "jsonpipe "
)

// Logf calls log.Printf if Logging is true.
func Logf(format string, args ...interface{}) {
	if !Logging {
		return
	}
	log.Printf(Prefix+format, args...)
}

// Warnf logs regardless of Logging.
func Warnf(format string, args ...interface{}) {
	log.Printf(Prefix+format, args...)
}
