package sio

import (
	"errors"
	"testing"
	"time"

	"github.com/Comcast/jsonpipe/core"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

func TestLoadConf(t *testing.T) {
	c, err := LoadConf([]byte(`
poll_interval: 2s
Correlation-Field: id
watch: true
limit: 3
topics: [a, "b:1"]
mqtt:
  client_id: me
`))
	require.NoError(t, err)

	d, err := c.Duration("pollInterval", 0)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, d)

	s, err := c.String("correlationField", "")
	require.NoError(t, err)
	require.Equal(t, "id", s)

	b, err := c.Bool("watch", false)
	require.NoError(t, err)
	require.True(t, b)

	n, err := c.Int("limit", 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	ts, err := c.Strings("topics")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b:1"}, ts)

	sub, err := c.Sub("mqtt")
	require.NoError(t, err)
	s, err = sub.String("clientId", "")
	require.NoError(t, err)
	require.Equal(t, "me", s)

	require.NoError(t, c.Check("pollInterval", "correlationField", "watch", "limit", "topics", "mqtt"))
}

func TestConfCheck(t *testing.T) {
	c := NewConf(map[string]interface{}{
		"filename":  "x",
		"colour":    "red",
		"flavour_x": 1,
	})
	err := c.Check("filename")
	require.Error(t, err)
	require.True(t, errors.Is(err, core.ErrConfiguration))

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 2)
}

func TestConfTypes(t *testing.T) {
	c := Conf{"d": 1.5, "s": true, "n": 1.5, "list": "a, b,,c"}

	d, err := c.Duration("d", 0)
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, d)

	_, err = c.String("s", "")
	require.Error(t, err)

	_, err = c.Int("n", 0)
	require.Error(t, err)

	ss, err := c.Strings("list")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, ss)

	x, err := c.String("missing", "def")
	require.NoError(t, err)
	require.Equal(t, "def", x)

	_, err = LoadConf([]byte(`[1,2]`))
	require.Error(t, err)
}
