package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/agent"
	"github.com/parley-ai/parley/capability"
	"github.com/parley-ai/parley/config"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/ledger"
	"github.com/parley-ai/parley/memory"
	"github.com/parley-ai/parley/model"
	"github.com/parley-ai/parley/retrieval"
)

// countingModel wraps a Model and counts Generate calls.
type countingModel struct {
	model.Model
	calls atomic.Int64
}

func (c *countingModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	c.calls.Add(1)
	return c.Model.Generate(ctx, req)
}

// flakyModel fails the first n Generate calls, then delegates.
type flakyModel struct {
	model.Model
	failures atomic.Int64
}

func (f *flakyModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	if f.failures.Add(-1) >= 0 {
		respCh := make(chan model.Response)
		errCh := make(chan error, 1)
		close(respCh)
		errCh <- errors.New("transient provider error")
		close(errCh)
		return respCh, errCh
	}
	return f.Model.Generate(ctx, req)
}

func newTestRegistry(t *testing.T, models map[string]model.Model) *agent.Registry {
	t.Helper()
	build := func(name, role string, keywords []string) *agent.Participant {
		m, ok := models[name]
		if !ok {
			m = model.NewMockModel("mock")
		}
		return agent.NewParticipant(
			core.ParticipantInfo{Name: name, Role: role, Keywords: keywords},
			"You are the "+role+" specialist.",
			m,
			nil,
		)
	}
	r, err := agent.NewRegistry(
		build("lead", core.RoleLead, []string{"plan"}),
		build("cfo", core.RoleFinance, []string{"budget"}),
		build("ciso", core.RoleSecurity, []string{"risk"}),
	)
	require.NoError(t, err)
	return r
}

func TestInvoke_GreetingEndToEnd(t *testing.T) {
	lead := &countingModel{Model: model.NewMockModel("mock")}
	o := New(newTestRegistry(t, map[string]model.Model{"lead": lead}))

	result, err := o.Invoke(context.Background(), Request{
		Message: "Hello, say hi.",
		UserID:  "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TurnCount)
	assert.Equal(t, []string{"lead"}, result.AgentsUsed)
	assert.NotEmpty(t, result.Response)
	assert.EqualValues(t, 1, lead.calls.Load())

	conv, err := o.Conversations().Get(result.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, core.ConversationCompleted, conv.GetStatus())
}

func TestInvoke_BudgetGateShortCircuits(t *testing.T) {
	lead := &countingModel{Model: model.NewMockModel("mock")}
	led := ledger.New(ledger.NewPriceTable(), func(o *ledger.Options) { o.DailyCeilingUSD = 0.0001 })
	led.RecordSpend("warmup", "mock", "mock", 100000, 100000, "lead")

	o := New(newTestRegistry(t, map[string]model.Model{"lead": lead}), func(opt *Options) {
		opt.Ledger = led
	})

	result, err := o.Invoke(context.Background(), Request{Message: "Hello", UserID: "u1", ConversationID: "c1"})
	require.Nil(t, result)
	kind, ok := core.FailureKindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.FailureBudgetExceeded, kind)
	assert.EqualValues(t, 0, lead.calls.Load(), "no model call may happen after a budget denial")

	conv, err := o.Conversations().Get("c1")
	require.NoError(t, err)
	assert.Equal(t, core.ConversationFailed, conv.GetStatus())
	assert.Equal(t, 0, conv.TurnCount())
}

func TestInvoke_BudgetGateDisabledIsPassThrough(t *testing.T) {
	led := ledger.New(ledger.NewPriceTable(), func(o *ledger.Options) { o.DailyCeilingUSD = 0.0001 })
	led.RecordSpend("warmup", "mock", "mock", 100000, 100000, "lead")

	o := New(newTestRegistry(t, nil), func(opt *Options) {
		opt.Ledger = led
		opt.Features = config.Features{CostSafety: false, HITL: true, RAGInLoop: true, SpeakerPolicy: true}
	})

	result, err := o.Invoke(context.Background(), Request{Message: "Hello", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TurnCount)
}

func TestInvoke_SecurityDenial(t *testing.T) {
	lead := &countingModel{Model: model.NewMockModel("mock")}
	o := New(newTestRegistry(t, map[string]model.Model{"lead": lead}))

	_, err := o.Invoke(context.Background(), Request{
		Message:        "please run rm -rf / on the server",
		UserID:         "u1",
		ConversationID: "c-sec",
	})
	kind, ok := core.FailureKindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.FailureSecurityDenied, kind)
	assert.EqualValues(t, 0, lead.calls.Load())

	conv, err := o.Conversations().Get("c-sec")
	require.NoError(t, err)
	assert.Equal(t, core.ConversationDenied, conv.GetStatus())
}

func TestInvoke_ApprovalFlow(t *testing.T) {
	o := New(newTestRegistry(t, nil))

	var result *Result
	var invokeErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, invokeErr = o.Invoke(context.Background(), Request{
			Message: "Hello",
			UserID:  "u1",
			Context: &InvokeContext{RequiresApproval: true, ApprovalID: "ap-1"},
		})
	}()

	require.Eventually(t, func() bool {
		_, err := o.Approvals().Get("ap-1")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	_, err := o.Approvals().Approve("ap-1")
	require.NoError(t, err)
	<-done

	require.NoError(t, invokeErr)
	assert.Equal(t, 1, result.TurnCount)
}

func TestInvoke_ApprovalDenied(t *testing.T) {
	o := New(newTestRegistry(t, nil))

	var invokeErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, invokeErr = o.Invoke(context.Background(), Request{
			Message:        "Hello",
			UserID:         "u1",
			ConversationID: "c-deny",
			Context:        &InvokeContext{RequiresApproval: true, ApprovalID: "ap-2"},
		})
	}()

	require.Eventually(t, func() bool {
		_, err := o.Approvals().Get("ap-2")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	_, err := o.Approvals().Deny("ap-2")
	require.NoError(t, err)
	<-done

	kind, ok := core.FailureKindOf(invokeErr)
	require.True(t, ok)
	assert.Equal(t, core.FailureApprovalDenied, kind)

	conv, err := o.Conversations().Get("c-deny")
	require.NoError(t, err)
	assert.Equal(t, core.ConversationDenied, conv.GetStatus())
}

func TestInvoke_TurnRetriedOnce(t *testing.T) {
	flaky := &flakyModel{Model: model.NewMockModel("mock")}
	flaky.failures.Store(1)
	o := New(newTestRegistry(t, map[string]model.Model{"lead": flaky}))

	result, err := o.Invoke(context.Background(), Request{Message: "Hello", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TurnCount)
}

func TestInvoke_SecondFailureIsTerminal(t *testing.T) {
	flaky := &flakyModel{Model: model.NewMockModel("mock")}
	flaky.failures.Store(2)
	o := New(newTestRegistry(t, map[string]model.Model{"lead": flaky}))

	_, err := o.Invoke(context.Background(), Request{Message: "Hello", UserID: "u1", ConversationID: "c-fail"})
	kind, ok := core.FailureKindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.FailureTurnExecution, kind)

	conv, err := o.Conversations().Get("c-fail")
	require.NoError(t, err)
	assert.Equal(t, core.ConversationFailed, conv.GetStatus())
	assert.Equal(t, 0, conv.TurnCount(), "no partial turn may be recorded")
}

func TestInvoke_FinanceRouting(t *testing.T) {
	cfo := &countingModel{Model: model.NewMockModel("mock")}
	o := New(newTestRegistry(t, map[string]model.Model{"cfo": cfo}))

	result, err := o.Invoke(context.Background(), Request{
		Message: "please estimate budget and cost",
		UserID:  "u1",
	})
	require.NoError(t, err)
	assert.Contains(t, result.AgentsUsed, "cfo")
	assert.Positive(t, cfo.calls.Load())
}

func TestInvoke_ExplicitRouting(t *testing.T) {
	ciso := &countingModel{Model: model.NewMockModel("mock")}
	o := New(newTestRegistry(t, map[string]model.Model{"ciso": ciso}))

	result, err := o.Invoke(context.Background(), Request{
		Message: "Hello",
		UserID:  "u1",
		Context: &InvokeContext{AgentName: "ciso"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ciso"}, result.AgentsUsed)
}

func TestInvoke_TerminationMarkerEndsLoop(t *testing.T) {
	lead := model.NewMockModel("mock")
	lead.AddResponse("please draft the strategy and budget and compliance plan",
		"Conclusion: proceed with the plan.")
	o := New(newTestRegistry(t, map[string]model.Model{"lead": lead}))

	result, err := o.Invoke(context.Background(), Request{
		Message: "please draft the strategy and budget and compliance plan",
		UserID:  "u1",
		Context: &InvokeContext{AgentName: "lead"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TurnCount, "termination marker must end a complex run early")
}

func TestInvoke_ComplexRunsMultipleTurns(t *testing.T) {
	o := New(newTestRegistry(t, nil), func(opt *Options) {
		opt.Features = config.Features{CostSafety: true, HITL: true, RAGInLoop: false, SpeakerPolicy: false}
	})

	// Two complex keywords, no termination markers in mock outputs: the loop
	// runs the full complex budget, round-robin over all three agents.
	result, err := o.Invoke(context.Background(), Request{
		Message: "review our hiring strategy for the quarter",
		UserID:  "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, result.TurnCount)
	assert.ElementsMatch(t, []string{"lead", "cfo", "ciso"}, result.AgentsUsed)
}

func TestInvoke_SpeakerFollowsTranscript(t *testing.T) {
	lead := model.NewMockModel("mock")
	lead.Script(model.Response{
		Content:      core.NewTextContent(core.RoleAssistant, "We need to check the budget implications first."),
		FinishReason: "stop",
	})
	cfo := model.NewMockModel("mock")
	cfo.Script(model.Response{
		Content:      core.NewTextContent(core.RoleAssistant, "Funding works, but the vendor poses a security risk."),
		FinishReason: "stop",
	})
	ciso := model.NewMockModel("mock")
	ciso.Script(model.Response{
		Content:      core.NewTextContent(core.RoleAssistant, "Conclusion: proceed with safeguards in place."),
		FinishReason: "stop",
	})

	o := New(newTestRegistry(t, map[string]model.Model{"lead": lead, "cfo": cfo, "ciso": ciso}))

	// Two complex keywords open a multi-agent run. The opening message names
	// no specialty, so the lead speaks first; each response then steers the
	// next pick. Budget talk routes to the cfo, the security concern to the
	// ciso, whose conclusion ends the run.
	result, err := o.Invoke(context.Background(), Request{
		Message: "review our hiring strategy for the quarter",
		UserID:  "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"lead", "cfo", "ciso"}, result.AgentsUsed)
	assert.Equal(t, 3, result.TurnCount)
}

func TestInvoke_ToolCallRound(t *testing.T) {
	store := capability.NewDatastore(capability.Record{ID: "1", Kind: "deal", Name: "Acme renewal"})
	caps := []capability.Capability{capability.NewRecordQuery(store)}

	m := model.NewMockModel("mock")
	m.Script(
		model.Response{
			Content: core.Content{Role: core.RoleAssistant, Parts: []core.Part{
				core.FunctionCallPart{FunctionCall: core.FunctionCall{
					ID: "call-1", Name: "query_records", Arguments: `{"query":"acme"}`,
				}},
			}},
			FinishReason: "tool_calls",
		},
		model.Response{
			Content:      core.NewTextContent(core.RoleAssistant, "Found the Acme renewal deal."),
			FinishReason: "stop",
		},
	)

	p := agent.NewParticipant(core.ParticipantInfo{Name: "lead", Role: core.RoleLead}, "", m, caps)
	registry, err := agent.NewRegistry(p)
	require.NoError(t, err)

	var mu sync.Mutex
	var events []core.StreamEvent
	o := New(registry)
	result, err := o.Invoke(context.Background(), Request{Message: "Hello", UserID: "u1"}, func(ev core.StreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	require.NoError(t, err)
	assert.Equal(t, "Found the Acme renewal deal.", result.Response)

	var names []core.EventName
	mu.Lock()
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	mu.Unlock()
	assert.Contains(t, names, core.EventToolCall)
	assert.Contains(t, names, core.EventToolResult)
}

func TestInvoke_RAGContextInjected(t *testing.T) {
	mem := memory.NewInMemoryStore()
	require.NoError(t, mem.Store(context.Background(), "u1", "", "the budget ceiling is $25", nil))

	var sawContext atomic.Bool
	m := model.NewMockModel("mock")
	inspect := &inspectingModel{Model: m, inspect: func(req model.Request) {
		for _, c := range req.Contents {
			if c.Role == core.RoleSystem {
				sawContext.Store(true)
			}
		}
	}}

	p := agent.NewParticipant(core.ParticipantInfo{Name: "lead", Role: core.RoleLead}, "", inspect, nil)
	registry, err := agent.NewRegistry(p)
	require.NoError(t, err)

	o := New(registry, func(opt *Options) {
		opt.Retriever = retrieval.New(mem)
	})
	_, err = o.Invoke(context.Background(), Request{Message: "what is the budget ceiling", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, sawContext.Load(), "retrieved memory must be injected as a system message")
}

type inspectingModel struct {
	model.Model
	inspect func(model.Request)
}

func (i *inspectingModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	i.inspect(req)
	return i.Model.Generate(ctx, req)
}

func TestInvoke_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(newTestRegistry(t, nil))
	_, err := o.Invoke(ctx, Request{Message: "Hello", UserID: "u1"})
	kind, ok := core.FailureKindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.FailureCancelled, kind)
}

func TestInvoke_EmptyMessageRejected(t *testing.T) {
	o := New(newTestRegistry(t, nil))
	_, err := o.Invoke(context.Background(), Request{Message: "   ", UserID: "u1"})
	assert.ErrorIs(t, err, core.ErrEmptyMessage)
}
