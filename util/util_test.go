package util

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
)

func TestLogf(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	was := Logging
	defer func() { Logging = was }()

	Logging = false
	Logf("quiet %d", 1)
	if buf.Len() != 0 {
		t.Fatal(buf.String())
	}

	Logging = true
	Logf("loud %d", 2)
	if !strings.Contains(buf.String(), "jsonpipe loud 2") {
		t.Fatal(buf.String())
	}

	Logging = false
	Warnf("warning %d", 3)
	if !strings.Contains(buf.String(), "jsonpipe warning 3") {
		t.Fatal(buf.String())
	}
}
