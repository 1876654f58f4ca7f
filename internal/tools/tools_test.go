package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CivicPulse/civicpulse/internal/cache"
	"github.com/CivicPulse/civicpulse/pkg/types"
)

type fakeGraph struct {
	mu      sync.Mutex
	calls   int
	lastVar map[string]any
	data    string
	err     error
}

func (f *fakeGraph) Query(_ context.Context, _ string, vars map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastVar = vars
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.data), nil
}

func (f *fakeGraph) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func civicExecutor(g GraphQuerier, c cache.Cache) *Executor {
	reg := NewRegistry()
	RegisterCivic(reg, g)
	return NewExecutor(reg, c, ExecutorConfig{TTL: time.Minute, Timeout: time.Second})
}

func call(name, input string) types.ToolCall {
	return types.ToolCall{ID: "call_1", Name: name, Input: json.RawMessage(input)}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	RegisterCivic(reg, &fakeGraph{})

	list := reg.List()
	require.Len(t, list, 10)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Name, list[i].Name)
	}

	assert.NotNil(t, reg.Get("get_bill"))
	assert.Nil(t, reg.Get("nonexistent"))
}

func TestToAnthropicSchema(t *testing.T) {
	tool := &Tool{
		Name:        "get_bill",
		Description: "Get a bill",
		Parameters: []Parameter{
			{Name: "number", Type: "string", Description: "Bill number", Required: true},
			{Name: "status", Type: "string", Enum: []string{"passed"}},
		},
	}

	schema := tool.ToAnthropicSchema()
	assert.Equal(t, "get_bill", schema["name"])

	input := schema["input_schema"].(map[string]any)
	assert.Equal(t, "object", input["type"])
	assert.Equal(t, []string{"number"}, input["required"])

	props := input["properties"].(map[string]any)
	status := props["status"].(map[string]any)
	assert.Equal(t, []string{"passed"}, status["enum"])
	_, hasDesc := status["description"]
	assert.False(t, hasDesc)
}

func TestToOpenAISchema(t *testing.T) {
	tool := &Tool{Name: "list_committees", Description: "List committees"}

	schema := tool.ToOpenAISchema()
	assert.Equal(t, "function", schema["type"])
	fn := schema["function"].(map[string]any)
	assert.Equal(t, "list_committees", fn["name"])
	params := fn["parameters"].(map[string]any)
	assert.Empty(t, params["required"])
}

func TestExecuteUnknownTool(t *testing.T) {
	exec := civicExecutor(&fakeGraph{}, nil)

	res := exec.Execute(context.Background(), call("launch_rocket", `{}`))
	require.True(t, res.IsError())
	assert.Equal(t, CodeUnknownTool, res.Err.Code)
	assert.Equal(t, "call_1", res.CallID)
	assert.Contains(t, res.Content(), `"unknown_tool"`)
}

func TestExecuteInvalidInput(t *testing.T) {
	g := &fakeGraph{data: `{}`}
	exec := civicExecutor(g, nil)

	tests := []struct {
		name  string
		tool  string
		input string
	}{
		{"missing required", "get_bill", `{}`},
		{"not an object", "get_bill", `"C-21"`},
		{"malformed json", "get_bill", `{"number":`},
		{"bad enum", "search_bills", `{"status":"vetoed"}`},
		{"non-integer limit", "search_mps", `{"limit":2.5}`},
		{"empty string", "get_mp", `{"mp_id":"  "}`},
		{"lobbying needs a filter", "search_lobbying", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := exec.Execute(context.Background(), call(tt.tool, tt.input))
			require.True(t, res.IsError())
			assert.Equal(t, CodeInvalidInput, res.Err.Code)
		})
	}
	assert.Equal(t, 0, g.count())
}

func TestExecuteBackendError(t *testing.T) {
	g := &fakeGraph{err: errors.New("connection refused")}
	exec := civicExecutor(g, cache.NewMemory(0))

	res := exec.Execute(context.Background(), call("list_committees", `{}`))
	require.True(t, res.IsError())
	assert.Equal(t, CodeBackendError, res.Err.Code)
	assert.Contains(t, res.Err.Message, "connection refused")

	// failures are not cached
	exec.Execute(context.Background(), call("list_committees", `{}`))
	assert.Equal(t, 2, g.count())
}

func TestExecuteCacheHit(t *testing.T) {
	g := &fakeGraph{data: `{"committees":[{"code":"FINA"}]}`}
	exec := civicExecutor(g, cache.NewMemory(0))

	first := exec.Execute(context.Background(), call("search_bills", `{"query":"housing","limit":5}`))
	require.False(t, first.IsError())
	assert.False(t, first.Cached)

	second := exec.Execute(context.Background(), call("search_bills", `{"limit":5,"query":"housing"}`))
	require.False(t, second.IsError())
	assert.True(t, second.Cached)
	assert.JSONEq(t, string(first.Payload), string(second.Payload))
	assert.Equal(t, 1, g.count())
}

func TestExecutePanicRecovered(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name: "boom",
		Handler: func(ctx context.Context, p Params) (*Output, error) {
			panic("nil map")
		},
	})
	exec := NewExecutor(reg, nil, ExecutorConfig{})

	res := exec.Execute(context.Background(), call("boom", `{}`))
	require.True(t, res.IsError())
	assert.Equal(t, CodeInternalError, res.Err.Code)
}

func TestExecuteTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name: "slow",
		Handler: func(ctx context.Context, p Params) (*Output, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	exec := NewExecutor(reg, nil, ExecutorConfig{Timeout: 20 * time.Millisecond})

	res := exec.Execute(context.Background(), call("slow", `{}`))
	require.True(t, res.IsError())
	assert.Equal(t, CodeBackendError, res.Err.Code)
	assert.Contains(t, res.Err.Message, "timed out")
}

func TestExecuteCollapsesConcurrentCalls(t *testing.T) {
	var runs, entered atomic.Int32
	release := make(chan struct{})
	reg := NewRegistry()
	reg.Register(&Tool{
		Name: "slow_lookup",
		Handler: func(ctx context.Context, p Params) (*Output, error) {
			runs.Add(1)
			<-release
			return &Output{Data: map[string]any{"ok": true}}, nil
		},
	})
	exec := NewExecutor(reg, cache.NewMemory(0), ExecutorConfig{TTL: time.Minute, Timeout: 5 * time.Second})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]Result, callers)
	start := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entered.Add(1)
			results[i] = exec.Execute(context.Background(), call("slow_lookup", `{"q":"x"}`))
		}()
	}

	start(0)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	for i := 1; i < callers; i++ {
		start(i)
	}
	require.Eventually(t, func() bool { return entered.Load() == callers }, time.Second, time.Millisecond)
	// entered is bumped just before Execute, so let the last callers reach the flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.False(t, r.IsError())
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestExecuteSharedCallSurvivesCallerCancel(t *testing.T) {
	var runs, entered atomic.Int32
	release := make(chan struct{})
	reg := NewRegistry()
	reg.Register(&Tool{
		Name: "slow",
		Handler: func(ctx context.Context, p Params) (*Output, error) {
			runs.Add(1)
			select {
			case <-release:
				return &Output{Data: map[string]any{"ok": true}}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	exec := NewExecutor(reg, nil, ExecutorConfig{Timeout: 5 * time.Second})

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	resA := make(chan Result, 1)
	go func() { resA <- exec.Execute(ctxA, call("slow", `{}`)) }()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)

	resB := make(chan Result, 1)
	go func() {
		entered.Add(1)
		resB <- exec.Execute(context.Background(), call("slow", `{}`))
	}()
	require.Eventually(t, func() bool { return entered.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case r := <-resA:
		require.True(t, r.IsError())
		assert.Equal(t, CodeBackendError, r.Err.Code)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller should not wait for the shared call")
	}

	close(release)
	select {
	case r := <-resB:
		assert.False(t, r.IsError())
	case <-time.After(time.Second):
		t.Fatal("second caller never got its result")
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestExecuteCacheKeepsLocale(t *testing.T) {
	g := &fakeGraph{data: `{"mps":[{"id":"jane-doe","name":"Jane Doe"}]}`}
	exec := civicExecutor(g, cache.NewMemory(0))
	in := `{"mp_id":"jane-doe"}`

	en := exec.Execute(WithLocale(context.Background(), "en"), call("get_mp", in))
	require.False(t, en.IsError())
	assert.Equal(t, "/en/mps/jane-doe", en.Navigation.URL)

	fr := exec.Execute(WithLocale(context.Background(), "fr"), call("get_mp", in))
	require.False(t, fr.IsError())
	assert.False(t, fr.Cached)
	assert.Equal(t, "/fr/mps/jane-doe", fr.Navigation.URL)
	assert.NotEqual(t, en.Navigation.Message, fr.Navigation.Message)

	again := exec.Execute(WithLocale(context.Background(), "fr"), call("get_mp", in))
	require.False(t, again.IsError())
	assert.True(t, again.Cached)
	assert.Equal(t, "/fr/mps/jane-doe", again.Navigation.URL)
	assert.Equal(t, 2, g.count())
}

func TestGetMPNavigation(t *testing.T) {
	g := &fakeGraph{data: `{"mps":[{"id":"jane-doe","name":"Jane Doe"}]}`}
	exec := civicExecutor(g, nil)

	res := exec.Execute(WithLocale(context.Background(), "fr"), call("get_mp", `{"mp_id":"jane-doe"}`))
	require.False(t, res.IsError())
	require.NotNil(t, res.Navigation)
	assert.Equal(t, "/fr/mps/jane-doe", res.Navigation.URL)
	assert.Contains(t, res.Navigation.Message, "Jane Doe")
	assert.Equal(t, "jane-doe", g.lastVar["id"])
}

func TestGetMPNotFound(t *testing.T) {
	exec := civicExecutor(&fakeGraph{data: `{"mps":[]}`}, nil)

	res := exec.Execute(context.Background(), call("get_mp", `{"mp_id":"nobody"}`))
	require.True(t, res.IsError())
	assert.Equal(t, CodeInvalidInput, res.Err.Code)
}

func TestGetBillNavigation(t *testing.T) {
	g := &fakeGraph{data: `{"bills":[{"number":"C-21","session":"44-1"}]}`}
	exec := civicExecutor(g, nil)

	res := exec.Execute(context.Background(), call("get_bill", `{"number":"c-21"}`))
	require.False(t, res.IsError())
	assert.Equal(t, "/en/bills/44-1/C-21", res.Navigation.URL)
	assert.Equal(t, "C-21", g.lastVar["number"])
	_, hasSession := g.lastVar["session"]
	assert.False(t, hasSession)
}

func TestNavigate(t *testing.T) {
	exec := civicExecutor(&fakeGraph{}, nil)

	res := exec.Execute(context.Background(), call("navigate", `{"url":"/en/lobbying","message":"See lobbying"}`))
	require.False(t, res.IsError())
	assert.Equal(t, &types.Navigation{URL: "/en/lobbying", Message: "See lobbying"}, res.Navigation)

	for _, bad := range []string{"https://evil.example", "//evil.example/x", "/\\evil.example", "/en/\\\\evil.example", "en/bills"} {
		in, _ := json.Marshal(map[string]string{"url": bad, "message": "go"})
		res := exec.Execute(context.Background(), call("navigate", string(in)))
		require.True(t, res.IsError(), bad)
		assert.Equal(t, CodeInvalidInput, res.Err.Code)
	}
}

func TestSearchLimitClamped(t *testing.T) {
	g := &fakeGraph{data: `{"searchMPs":[]}`}
	exec := civicExecutor(g, nil)

	exec.Execute(context.Background(), call("search_mps", `{"party":"NDP","limit":500}`))
	assert.Equal(t, maxLimit, g.lastVar["limit"])
	assert.Equal(t, "NDP", g.lastVar["party"])

	exec.Execute(context.Background(), call("search_mps", `{"limit":0}`))
	assert.Equal(t, 1, g.lastVar["limit"])
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("get_bill", "en", Params{"number": "C-21", "session": "44-1"})
	b := CacheKey("get_bill", "en", Params{"session": "44-1", "number": "C-21"})
	c := CacheKey("search_bills", "en", Params{"number": "C-21", "session": "44-1"})
	d := CacheKey("get_bill", "fr", Params{"number": "C-21", "session": "44-1"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 64)
}

type recordingObserver struct {
	outcomes []string
}

func (r *recordingObserver) ObserveTool(name, outcome string, d time.Duration) {
	r.outcomes = append(r.outcomes, name+":"+outcome)
}

func TestExecutorObserver(t *testing.T) {
	exec := civicExecutor(&fakeGraph{data: `{"committees":[]}`}, cache.NewMemory(0))
	obs := &recordingObserver{}
	exec.SetObserver(obs)

	exec.Execute(context.Background(), call("list_committees", `{}`))
	exec.Execute(context.Background(), call("list_committees", `{}`))
	exec.Execute(context.Background(), call("nope", `{}`))

	assert.Equal(t, []string{"list_committees:ok", "list_committees:cached", "nope:unknown_tool"}, obs.outcomes)
}
