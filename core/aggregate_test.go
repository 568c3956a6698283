package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	sync.Mutex
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.Lock()
	c.t = c.t.Add(d)
	c.Unlock()
}

func TestAggregationExactness(t *testing.T) {
	const (
		N = 60
		K = 4
	)

	ctx := context.Background()
	ec := NewExecContext(nil, "agg")
	clock := &fakeClock{t: time.Unix(1000, 0)}
	a := ec.DefineAggregate("batch", &AggregateDef{Timeout: time.Second})
	a.Now = clock.Now

	var (
		mu  sync.Mutex
		got = make(map[string]*Value)
	)
	a.Subscribe(func(ctx context.Context, id, key string, v *Value) {
		mu.Lock()
		defer mu.Unlock()
		if _, dup := got[key]; dup {
			t.Errorf("second result for %s", key)
		}
		got[key] = v
	})

	var wg sync.WaitGroup
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := ec.NewStatement(ctx, Empty())
			if err := a.Register(st, fmt.Sprintf("k%d", i%K), NumP(float64(i), 0)); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	require.True(t, a.Armed())
	require.Equal(t, K, a.Pending())

	vs, err := a.CheckTimeout(ctx, ec)
	require.NoError(t, err)
	require.Empty(t, vs, "flushed before the window expired")

	clock.Advance(2 * time.Second)

	vs, err = a.CheckTimeout(ctx, ec)
	require.NoError(t, err)
	require.Len(t, vs, K)

	// At most one flush per window.
	vs, err = a.CheckTimeout(ctx, ec)
	require.NoError(t, err)
	require.Empty(t, vs)

	mu.Lock()
	require.Len(t, got, K)
	for k := 0; k < K; k++ {
		key := fmt.Sprintf("k%d", k)
		v := got[key]
		require.NotNil(t, v, key)
		require.Equal(t, N/K, v.Len(), key)
		seen := make(map[float64]bool)
		for _, x := range v.Elements() {
			require.Equal(t, k, int(x.Float())%K, "value %v under %s", x.Float(), key)
			seen[x.Float()] = true
		}
		require.Len(t, seen, N/K)
	}
	mu.Unlock()

	// A registration after the drain opens a new window.
	mu.Lock()
	got = make(map[string]*Value)
	mu.Unlock()

	st := ec.NewStatement(ctx, Empty())
	require.False(t, a.Armed())
	require.NoError(t, a.Register(st, "k0", NumP(1000, 0)))
	require.True(t, a.Armed())

	clock.Advance(2 * time.Second)
	vs, err = a.CheckTimeout(ctx, ec)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	require.Equal(t, "[1000]", vs[0].String())
	require.Equal(t, uint64(2), a.Windows())

	mu.Lock()
	require.Len(t, got, 1)
	require.Equal(t, "[1000]", got["k0"].String())
	mu.Unlock()
}

func TestAggregationConcurrentDrain(t *testing.T) {
	ctx := context.Background()
	ec := NewExecContext(nil, "agg")
	a := ec.DefineAggregate("count", &AggregateDef{
		Combine: &Binary{Op: "+", LHS: &Ref{Name: "acc"}, RHS: NumP(1, 0)},
		Initial: NumP(0, 0),
	})

	var (
		mu    sync.Mutex
		total float64
		wg    sync.WaitGroup
	)
	a.Subscribe(func(ctx context.Context, id, key string, v *Value) {
		mu.Lock()
		total += v.Float()
		mu.Unlock()
	})

	const n = 200
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := ec.NewStatement(ctx, Empty())
			if err := a.Register(st, "only", Num(1)); err != nil {
				t.Error(err)
			}
		}()
		if i%50 == 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := a.Flush(ctx, ec); err != nil {
					t.Error(err)
				}
			}()
		}
	}
	wg.Wait()
	_, err := a.Flush(ctx, ec)
	require.NoError(t, err)

	// Nothing lost, nothing counted twice.
	mu.Lock()
	require.Equal(t, float64(n), total)
	mu.Unlock()
}

func TestAggregationCombineAndResult(t *testing.T) {
	ctx := context.Background()
	ec := NewExecContext(nil, "agg")
	a := ec.DefineAggregate("sum", &AggregateDef{
		Combine: &Binary{Op: "+", LHS: &Ref{Name: "acc"}, RHS: &Ref{Name: "value"}},
		Result: NewObject().
			Put("key", &Ref{Name: "key"}).
			Put("count", &Ref{Name: "count"}).
			Put("total", &Binary{Op: "*", LHS: &Current{}, RHS: NumP(10, 0)}),
	})

	st := ec.NewStatement(ctx, Empty())
	for _, n := range []float64{1, 2, 3} {
		require.NoError(t, a.Register(st, "a", NumP(n, 0)))
	}
	require.NoError(t, a.Register(st, "b", NumP(5, 0)))

	vs, err := ec.FlushAggregate(ctx, "sum")
	require.NoError(t, err)
	require.Len(t, vs, 2)
	require.Equal(t, `{"key":"a","count":3,"total":60}`, vs[0].String())
	require.Equal(t, `{"key":"b","count":1,"total":50}`, vs[1].String())
}

func TestAggregateNode(t *testing.T) {
	ctx := context.Background()
	ec := NewExecContext(nil, "agg")
	ec.DefineAggregate("byId", &AggregateDef{})
	ec.Program = &Aggregate{
		ID:    "byId",
		Key:   &Access{Key: "id"},
		Value: &Access{Key: "n"},
	}

	for _, js := range []string{`{"id":"x","n":1}`, `{"id":"y","n":2}`, `{"id":"x","n":3}`} {
		v, err := ec.Evaluate(ctx, MustParseJSON(js))
		require.NoError(t, err)
		require.Equal(t, js, v.String())
	}

	vs, err := ec.FlushAggregate(ctx, "byId")
	require.NoError(t, err)
	require.Len(t, vs, 2)
	require.Equal(t, "[1,3]", vs[0].String())
	require.Equal(t, "[2]", vs[1].String())

	ec.Program = &Aggregate{ID: "nope"}
	_, err = ec.Evaluate(ctx, Empty())
	require.Equal(t, "aggregate-not-found", AsError(err).Code)
}

func TestAggregateResultErrors(t *testing.T) {
	ctx := context.Background()
	ec := NewExecContext(nil, "agg")
	a := ec.DefineAggregate("bad", &AggregateDef{
		Result: &Binary{Op: "/", LHS: &Index{Index: 0}, RHS: &Index{Index: 1}},
	})
	st := ec.NewStatement(ctx, Empty())
	require.NoError(t, a.Register(st, "ok", NumP(4, 0)))
	require.NoError(t, a.Register(st, "ok", NumP(2, 0)))
	require.NoError(t, a.Register(st, "zero", NumP(4, 0)))
	require.NoError(t, a.Register(st, "zero", NumP(0, 0)))

	vs, err := a.Flush(ctx, ec)
	require.Error(t, err)
	require.Len(t, vs, 1)
	require.Equal(t, float64(2), vs[0].Float())
}

func TestFlushAggregatesBeforeExpiry(t *testing.T) {
	ctx := context.Background()
	ec := NewExecContext(nil, "pending")
	a := ec.DefineAggregate("batch", &AggregateDef{Timeout: time.Hour})
	b := ec.DefineAggregate("idle", &AggregateDef{Timeout: time.Hour})

	var (
		mu  sync.Mutex
		got []string
	)
	a.Subscribe(func(ctx context.Context, id, key string, v *Value) {
		mu.Lock()
		got = append(got, key+"="+v.String())
		mu.Unlock()
	})

	st := ec.NewStatement(ctx, Empty())
	require.NoError(t, a.Register(st, "bart", NumP(1, 0)))
	require.NoError(t, a.Register(st, "bart", NumP(2, 0)))

	vs, err := a.CheckTimeout(ctx, ec)
	require.NoError(t, err)
	require.Empty(t, vs)

	require.NoError(t, ec.FlushAggregates(ctx))
	require.False(t, a.Armed())
	require.Equal(t, uint64(1), a.Windows())
	require.Equal(t, uint64(0), b.Windows())

	mu.Lock()
	require.Equal(t, []string{"bart=[1,2]"}, got)
	mu.Unlock()
}
