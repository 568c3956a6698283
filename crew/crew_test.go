package crew

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/storage"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// counter is a program that increments "n" in the state and returns
// the new count.
const counter = `{
  "name": "counter",
  "steps": [
    {"call": "core:state:get", "args": ["n", 0]},
    {"op": "+", "args": [{"current": true}, 1]},
    {"call": "core:state:set", "args": ["n", {"current": true}]}
  ]
}`

func factory(t *testing.T) Factory {
	p, err := core.ParseProgram([]byte(counter))
	require.NoError(t, err)
	require.NoError(t, p.Compile(context.Background(), nil, true))
	return p.NewContext
}

func eval(t *testing.T, m *Manager, cid string) float64 {
	ctx := context.Background()
	ec, err := m.Resolve(ctx, cid)
	require.NoError(t, err)
	defer m.Done(ctx, ec)
	v, err := ec.Evaluate(ctx, core.NewObject())
	require.NoError(t, err)
	return v.Float()
}

func TestParseStrategy(t *testing.T) {
	for s, want := range map[string]Strategy{
		"singleton":               Singleton,
		"Singleton":               Singleton,
		"alwaysCreateNew":         AlwaysCreateNew,
		"always-create-new":       AlwaysCreateNew,
		"reuse_by_correlation_id": ReuseByCorrelationID,
		"ReuseByCorrelationId":    ReuseByCorrelationID,
	} {
		got, err := ParseStrategy(s)
		require.NoError(t, err, s)
		require.Equal(t, want, got, s)
		again, err := ParseStrategy(got.String())
		require.NoError(t, err)
		require.Equal(t, got, again)
	}

	_, err := ParseStrategy("sometimes")
	require.Error(t, err)
	require.True(t, errors.Is(err, core.ErrConfiguration))
}

func TestSingleton(t *testing.T) {
	ctx := context.Background()
	m := NewManager(ctx, Singleton, factory(t))

	a, err := m.Resolve(ctx, "x")
	require.NoError(t, err)
	b, err := m.Resolve(ctx, "y")
	require.NoError(t, err)
	require.Same(t, a, b)

	require.Equal(t, 1.0, eval(t, m, ""))
	require.Equal(t, 2.0, eval(t, m, "z"))
	require.Equal(t, 1, m.Len())

	require.NoError(t, m.Shutdown(ctx))
	require.True(t, a.IsShutdown())
	require.Equal(t, 0, m.Len())
}

func TestAlwaysCreateNew(t *testing.T) {
	ctx := context.Background()
	m := NewManager(ctx, AlwaysCreateNew, factory(t))

	a, err := m.Resolve(ctx, "x")
	require.NoError(t, err)
	b, err := m.Resolve(ctx, "x")
	require.NoError(t, err)
	require.NotSame(t, a, b)
	require.Equal(t, 0, m.Len())

	m.Done(ctx, a)
	m.Done(ctx, b)
	require.True(t, a.IsShutdown())
	require.Equal(t, 0, m.Arena.Len())

	// Nothing carries over.
	require.Equal(t, 1.0, eval(t, m, ""))
	require.Equal(t, 1.0, eval(t, m, ""))
}

func TestReuseByCorrelationID(t *testing.T) {
	ctx := context.Background()
	m := NewManager(ctx, ReuseByCorrelationID, factory(t))

	require.Equal(t, 1.0, eval(t, m, "homer"))
	require.Equal(t, 2.0, eval(t, m, "homer"))
	require.Equal(t, 1.0, eval(t, m, "marge"))
	require.Equal(t, 3.0, eval(t, m, "homer"))
	require.Equal(t, []string{"homer", "marge"}, m.Contexts())

	a, err := m.Resolve(ctx, "homer")
	require.NoError(t, err)
	require.Equal(t, "homer", a.CorrelationId)

	_, err = m.Resolve(ctx, "")
	require.Error(t, err)
	require.True(t, errors.Is(err, core.ErrConfiguration))

	require.NoError(t, m.Release(ctx, "homer"))
	require.NoError(t, m.Release(ctx, "homer"))
	require.True(t, a.IsShutdown())

	// Without a Store, a released context starts over.
	require.Equal(t, 1.0, eval(t, m, "homer"))
}

func TestReuseConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewManager(ctx, ReuseByCorrelationID, factory(t))

	var (
		wg  sync.WaitGroup
		ecs = make([]*core.ExecContext, 20)
	)
	for i := range ecs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ec, err := m.Resolve(ctx, "bart")
			if err != nil {
				t.Error(err)
				return
			}
			ecs[i] = ec
		}(i)
	}
	wg.Wait()

	for _, ec := range ecs {
		require.Same(t, ecs[0], ec)
	}
	require.Equal(t, 1, m.Len())
}

func TestReleasePersists(t *testing.T) {
	ctx := context.Background()

	store := storage.NewJSONStore(afero.NewMemMapFs(), "/state.json")
	require.NoError(t, store.Open(ctx))

	m := NewManager(ctx, ReuseByCorrelationID, factory(t))
	m.Namespace = "counter"
	m.Store = store

	require.Equal(t, 1.0, eval(t, m, "lisa"))
	require.Equal(t, 2.0, eval(t, m, "lisa"))
	require.NoError(t, m.Release(ctx, "lisa"))

	v, err := store.Load(ctx, "counter", "lisa")
	require.NoError(t, err)
	require.Equal(t, `{"n":2}`, v.String())

	require.Equal(t, 3.0, eval(t, m, "lisa"))
	require.Equal(t, 1.0, eval(t, m, "maggie"))

	require.NoError(t, m.Shutdown(ctx))
	v, err = store.Load(ctx, "counter", "maggie")
	require.NoError(t, err)
	require.Equal(t, `{"n":1}`, v.String())
}

// slowStore delays every Save.
type slowStore struct {
	storage.Store
	delay  time.Duration
	saving chan struct{}
}

func (s *slowStore) Save(ctx context.Context, ns, id string, state *core.Value) error {
	close(s.saving)
	time.Sleep(s.delay)
	return s.Store.Save(ctx, ns, id, state)
}

func TestResolveWaitsForRelease(t *testing.T) {
	ctx := context.Background()

	json := storage.NewJSONStore(afero.NewMemMapFs(), "/state.json")
	require.NoError(t, json.Open(ctx))
	store := &slowStore{
		Store:  json,
		delay:  50 * time.Millisecond,
		saving: make(chan struct{}),
	}

	m := NewManager(ctx, ReuseByCorrelationID, factory(t))
	m.Namespace = "counter"
	m.Store = store

	for i := 1; i <= 3; i++ {
		require.Equal(t, float64(i), eval(t, m, "lisa"))
	}

	released := make(chan error, 1)
	go func() {
		released <- m.Release(ctx, "lisa")
	}()

	<-store.saving
	require.Equal(t, 4.0, eval(t, m, "lisa"))
	require.NoError(t, <-released)
}

// collector remembers what it's given.
type collector struct {
	sync.Mutex
	vs []*core.Value
}

func (c *collector) Produce(ctx context.Context, v *core.Value) (*core.Value, error) {
	c.Lock()
	c.vs = append(c.vs, v.Copy())
	c.Unlock()
	return nil, nil
}

func TestShutdownFlushesAggregates(t *testing.T) {
	ctx := context.Background()

	p, err := core.ParseProgram([]byte(`{
  "name": "batch",
  "steps": [{"aggregate": "batch"}],
  "aggregates": {"batch": {"timeout": "1h", "output": true}}
}`))
	require.NoError(t, err)
	require.NoError(t, p.Compile(ctx, nil, true))

	out := &collector{}
	m := NewManager(ctx, ReuseByCorrelationID, func(arena *core.Arena, id string) (*core.ExecContext, error) {
		ec, err := p.NewContext(arena, id)
		if err != nil {
			return nil, err
		}
		ec.Output = out
		return ec, nil
	})

	for _, js := range []string{`{"n":1}`, `{"n":2}`} {
		ec, err := m.Resolve(ctx, "bart")
		require.NoError(t, err)
		_, err = ec.Evaluate(ctx, core.MustParseJSON(js))
		require.NoError(t, err)
	}

	out.Lock()
	require.Empty(t, out.vs)
	out.Unlock()

	require.NoError(t, m.Shutdown(ctx))

	out.Lock()
	defer out.Unlock()
	require.Len(t, out.vs, 1)
	require.Equal(t, `{"aggregate":"batch","key":"bart","result":[{"n":1},{"n":2}]}`, out.vs[0].String())
}
