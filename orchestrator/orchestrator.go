package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/parley-ai/parley/agent"
	"github.com/parley-ai/parley/approval"
	"github.com/parley-ai/parley/capability"
	"github.com/parley-ai/parley/classify"
	"github.com/parley-ai/parley/config"
	"github.com/parley-ai/parley/core"
	"github.com/parley-ai/parley/guard"
	"github.com/parley-ai/parley/ledger"
	"github.com/parley-ai/parley/logging"
	"github.com/parley-ai/parley/model"
	"github.com/parley-ai/parley/retrieval"
	"github.com/parley-ai/parley/selection"
)

// terminationMarkers end the turn loop when an agent's output contains one.
var terminationMarkers = []string{"final answer:", "conclusion:"}

const maxToolRoundsDefault = 4

// InvokeContext carries per-request controls: explicit routing past the
// selection policy and the human-approval requirement flag.
type InvokeContext struct {
	RequiresApproval bool   `json:"requires_approval,omitempty"`
	AgentName        string `json:"agent_name,omitempty"`
	ApprovalID       string `json:"approval_id,omitempty"`
}

// Request is one inbound user message bound to a conversation.
type Request struct {
	Message        string         `json:"message"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Context        *InvokeContext `json:"context,omitempty"`
}

// Result aggregates a completed conversation run.
type Result struct {
	ConversationID  string             `json:"conversation_id"`
	Response        string             `json:"response"`
	AgentsUsed      []string           `json:"agents_used"`
	TurnCount       int                `json:"turn_count"`
	DurationSeconds float64            `json:"duration_seconds"`
	CostBreakdown   map[string]float64 `json:"cost_breakdown"` // per agent, USD
}

// Observer receives every lifecycle event of a run. The streaming transport
// attaches one per session; observers must not block.
type Observer func(core.StreamEvent)

// Options wires the orchestrator's collaborators. Every field has a working
// default so tests can construct a minimal instance.
type Options struct {
	Features      config.Features
	Logger        logging.Logger
	Classifier    *classify.Classifier
	Security      *guard.Gate
	Ledger        *ledger.Ledger
	Approvals     *approval.Store
	Selection     *selection.Policy
	Retriever     *retrieval.Retriever
	Conversations core.ConversationStore
	MaxToolRounds int
}

// Orchestrator composes the gate pipeline and turn loop over an immutable
// agent registry.
type Orchestrator struct {
	registry      *agent.Registry
	features      config.Features
	logger        logging.Logger
	classifier    *classify.Classifier
	security      *guard.Gate
	ledger        *ledger.Ledger
	approvals     *approval.Store
	selection     *selection.Policy
	retriever     *retrieval.Retriever
	conversations core.ConversationStore
	maxToolRounds int
}

// New constructs an orchestrator. Missing collaborators are replaced with
// in-memory defaults; feature flags default to all enabled.
func New(registry *agent.Registry, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Features:      config.Features{CostSafety: true, HITL: true, RAGInLoop: true, SpeakerPolicy: true},
		Logger:        logging.NopLogger{},
		MaxToolRounds: maxToolRoundsDefault,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.New(opts.Logger)
	}
	if opts.Security == nil {
		opts.Security = guard.New()
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.New(ledger.NewPriceTable())
	}
	if opts.Approvals == nil {
		opts.Approvals = approval.NewStore(opts.Logger)
	}
	if opts.Selection == nil {
		opts.Selection = selection.New()
	}
	if opts.Retriever == nil {
		opts.Retriever = retrieval.New(nil)
	}
	if opts.Conversations == nil {
		opts.Conversations = NewConversationStore()
	}
	return &Orchestrator{
		registry:      registry,
		features:      opts.Features,
		logger:        opts.Logger,
		classifier:    opts.Classifier,
		security:      opts.Security,
		ledger:        opts.Ledger,
		approvals:     opts.Approvals,
		selection:     opts.Selection,
		retriever:     opts.Retriever,
		conversations: opts.Conversations,
		maxToolRounds: opts.MaxToolRounds,
	}
}

// Approvals exposes the approval store for external actions.
func (o *Orchestrator) Approvals() *approval.Store { return o.approvals }

// Ledger exposes the cost ledger for read-side rollups.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// Conversations exposes the conversation store.
func (o *Orchestrator) Conversations() core.ConversationStore { return o.conversations }

// Invoke runs one user message through the full pipeline: classify, gate,
// then the turn loop. Gate denials and exhausted retries return a
// *core.ConversationError; the conversation is marked terminal either way.
func (o *Orchestrator) Invoke(ctx context.Context, req Request, observers ...Observer) (*Result, error) {
	started := time.Now()
	emit := func(ev core.StreamEvent) {
		for _, obs := range observers {
			obs(ev)
		}
	}

	if strings.TrimSpace(req.Message) == "" {
		return nil, core.ErrEmptyMessage
	}

	conv, err := o.conversations.GetOrCreate(req.ConversationID, req.UserID)
	if err != nil {
		return nil, err
	}
	if conv.GetStatus().Terminal() {
		return nil, fmt.Errorf("conversation %s is already %s", conv.ID, conv.GetStatus())
	}
	log := o.logger.With("conversation_id", conv.ID, "user_id", req.UserID)

	// Classifying. Never fails; malformed input defaults to standard.
	cls := o.classifier.Classify(req.Message)
	log.Info("conversation.classified",
		"category", string(cls.Category),
		"turn_budget", cls.TurnBudget,
		"terminate_on_first_response", cls.TerminateOnFirstResponse,
	)

	// Gating.
	if convErr := o.runGates(ctx, conv, req, emit, log); convErr != nil {
		o.failConversation(conv, convErr, emit, log)
		return nil, convErr
	}

	// Running.
	if convErr := o.runTurnLoop(ctx, conv, req, cls, emit, log); convErr != nil {
		o.failConversation(conv, convErr, emit, log)
		return nil, convErr
	}

	// Terminating.
	conv.SetStatus(core.ConversationCompleted)
	result := o.buildResult(conv, started)
	emit(core.NewFinalEvent(result.Response))
	log.Info("conversation.completed", "turn_count", result.TurnCount, "agents_used", result.AgentsUsed)
	return result, nil
}

// runGates executes security, budget, and approval checks in order. Each may
// short-circuit with a typed denial; none is ever retried.
func (o *Orchestrator) runGates(
	ctx context.Context,
	conv *core.Conversation,
	req Request,
	emit Observer,
	log logging.Logger,
) *core.ConversationError {
	secResult := o.security.Validate(req.Message, req.UserID)
	switch secResult.Decision {
	case guard.DecisionDeny:
		return core.NewConversationError(core.FailureSecurityDenied,
			"input rejected by security validation: %s", strings.Join(secResult.MatchedPatterns, ", "))
	case guard.DecisionModify:
		// Redaction is the caller's concern; flag and continue.
		log.Warn("security.flagged", "threat_level", secResult.ThreatLevel.String(), "patterns", secResult.MatchedPatterns)
	}

	if o.features.CostSafety {
		if decision := o.ledger.CheckBudget(conv.ID); !decision.CanProceed {
			return core.NewConversationError(core.FailureBudgetExceeded, "%s", decision.Reason)
		}
	}

	if o.features.HITL && req.Context != nil && req.Context.RequiresApproval {
		id := req.Context.ApprovalID
		payload := map[string]any{"message": req.Message}
		created := o.approvals.Create(id, conv.ID, req.UserID, payload)
		emit(core.NewAgentStatusEvent("", "awaiting_approval"))
		log.Info("approval.waiting", "approval_id", created.ID)

		resolved, err := o.approvals.Wait(ctx, created.ID)
		if err != nil {
			return core.NewConversationError(core.FailureCancelled, "approval wait aborted: %v", err)
		}
		if resolved.Status == approval.StatusDenied {
			return core.NewConversationError(core.FailureApprovalDenied,
				"approval request %s was denied", resolved.ID)
		}
	}
	return nil
}

// runTurnLoop repeats the per-turn sub-cycle (select, retrieve, execute,
// record) until the budget is spent or a termination condition fires.
func (o *Orchestrator) runTurnLoop(
	ctx context.Context,
	conv *core.Conversation,
	req Request,
	cls classify.Classification,
	emit Observer,
	log logging.Logger,
) *core.ConversationError {
	participants := o.registry.Infos()

	for turnIdx := 0; turnIdx < cls.TurnBudget; turnIdx++ {
		if err := ctx.Err(); err != nil {
			return core.NewConversationError(core.FailureCancelled, "conversation aborted: %v", err)
		}

		if o.features.CostSafety && turnIdx > 0 {
			if decision := o.ledger.CheckBudget(conv.ID); !decision.CanProceed {
				return core.NewConversationError(core.FailureBudgetExceeded, "%s", decision.Reason)
			}
		}

		// The working query tracks the transcript: the original message opens
		// the conversation, the last substantive response drives every later
		// turn, for selection and retrieval alike.
		workingQuery := req.Message
		if last := conv.LastResponse(); last != "" {
			workingQuery = last
		}

		speaker := o.pickSpeaker(req, workingQuery, turnIdx, participants, log)
		emit(core.NewAgentStatusEvent(speaker.Name(), "speaking"))

		turn, convErr := o.executeTurnWithRetry(ctx, conv, req, speaker, workingQuery, emit, log)
		if convErr != nil {
			return convErr
		}
		conv.AppendTurn(turn)

		outputText := turn.Output.Text()
		if outputText != "" {
			emit(core.NewDeltaEvent(outputText))
			if o.features.RAGInLoop {
				if err := o.retriever.Remember(ctx, req.UserID, speaker.Name(), outputText, nil); err != nil {
					log.Warn("memory.store_failed", "error", err)
				}
			}
		}

		if cls.TerminateOnFirstResponse || containsTerminationMarker(outputText) {
			break
		}
	}
	return nil
}

// pickSpeaker resolves explicit routing, the selection policy, or round-robin
// over all participants when the policy is disabled. The policy is fed the
// working query so routing follows the transcript, not just the opening
// message. Selection never fails terminally; unknown names fall back to the
// first participant.
func (o *Orchestrator) pickSpeaker(
	req Request,
	workingQuery string,
	turnIdx int,
	participants []core.ParticipantInfo,
	log logging.Logger,
) *agent.Participant {
	if req.Context != nil && req.Context.AgentName != "" {
		if info, reason, err := o.selection.PickByName(req.Context.AgentName, participants); err == nil {
			if p, ok := o.registry.Get(info.Name); ok {
				log.Debug("selection.picked", "agent", info.Name, "reason", string(reason))
				return p
			}
		}
		log.Warn("selection.explicit_routing_failed", "agent_name", req.Context.AgentName)
	}

	if !o.features.SpeakerPolicy {
		all := o.registry.All()
		return all[turnIdx%len(all)]
	}

	info, reason, err := o.selection.Pick(workingQuery, participants)
	if err != nil {
		log.Warn("selection.fallback_first", "error", err)
		return o.registry.First()
	}
	p, ok := o.registry.Get(info.Name)
	if !ok {
		return o.registry.First()
	}
	log.Debug("selection.picked", "agent", info.Name, "reason", string(reason))
	return p
}

// executeTurnWithRetry runs one turn, retrying once with the same speaker
// before escalating. A cancelled context is never retried.
func (o *Orchestrator) executeTurnWithRetry(
	ctx context.Context,
	conv *core.Conversation,
	req Request,
	speaker *agent.Participant,
	workingQuery string,
	emit Observer,
	log logging.Logger,
) (core.Turn, *core.ConversationError) {
	turn, err := o.executeTurn(ctx, conv, req, speaker, workingQuery, emit)
	if err == nil {
		return turn, nil
	}
	if ctx.Err() != nil {
		return core.Turn{}, core.NewConversationError(core.FailureCancelled, "turn aborted: %v", ctx.Err())
	}
	log.Warn("turn.retrying", "agent", speaker.Name(), "error", err)

	turn, err = o.executeTurn(ctx, conv, req, speaker, workingQuery, emit)
	if err == nil {
		return turn, nil
	}
	if ctx.Err() != nil {
		return core.Turn{}, core.NewConversationError(core.FailureCancelled, "turn aborted: %v", ctx.Err())
	}
	return core.Turn{}, core.NewConversationError(core.FailureTurnExecution,
		"agent %s failed twice: %v", speaker.Name(), err)
}

// executeTurn performs one complete agent contribution: context retrieval,
// the model call, and any capability invocation rounds, then records spend.
func (o *Orchestrator) executeTurn(
	ctx context.Context,
	conv *core.Conversation,
	req Request,
	speaker *agent.Participant,
	workingQuery string,
	emit Observer,
) (core.Turn, error) {
	startedAt := time.Now().UTC()

	contents := conv.Transcript(req.Message)
	if o.features.RAGInLoop {
		ragContext, err := o.retriever.BuildContext(ctx, req.UserID, speaker.Name(), workingQuery)
		if err != nil {
			return core.Turn{}, fmt.Errorf("build context: %w", err)
		}
		if ragContext != nil {
			contents = append([]core.Content{*ragContext}, contents...)
		}
	}

	caps := speaker.Capabilities()
	modelReq := model.Request{
		Instructions: speaker.Instructions(),
		Contents:     contents,
		Tools:        capability.Definitions(caps),
	}

	var totalCost float64
	var final model.Response
	for round := 0; ; round++ {
		emit(core.NewThinkingEvent())
		respCh, errCh := speaker.Model().Generate(ctx, modelReq)
		resp, err := model.Collect(respCh, errCh)
		if err != nil {
			return core.Turn{}, err
		}
		if resp.Usage != nil {
			info := speaker.Model().Info()
			rec := o.ledger.RecordSpend(conv.ID, info.Provider, info.Name,
				resp.Usage.InputTokens, resp.Usage.OutputTokens, speaker.Name())
			totalCost += rec.CostUSD
		}
		final = resp

		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 || round >= o.maxToolRounds {
			break
		}

		toolContent := core.Content{Role: core.RoleTool}
		for _, call := range calls {
			emit(core.NewToolCallEvent(serializeCall(call)))
			result, capErr := capability.Invoke(ctx, caps, call.Name, call.Arguments)
			fr := core.FunctionResponse{ID: call.ID, Name: call.Name, Response: result}
			if capErr != nil {
				fr.Error = capErr.Error()
			}
			emit(core.NewToolResultEvent(serializeResult(fr)))
			toolContent.Parts = append(toolContent.Parts, core.FunctionResponsePart{FunctionResponse: fr})
		}
		modelReq.Contents = append(modelReq.Contents, resp.Content, toolContent)
	}

	return core.Turn{
		AgentID:   speaker.Name(),
		Input:     core.NewTextContent(core.RoleUser, workingQuery),
		Output:    final.Content,
		StartedAt: startedAt,
		EndedAt:   time.Now().UTC(),
		CostUSD:   totalCost,
	}, nil
}

func (o *Orchestrator) failConversation(
	conv *core.Conversation,
	convErr *core.ConversationError,
	emit Observer,
	log logging.Logger,
) {
	status := core.ConversationFailed
	if convErr.Kind == core.FailureSecurityDenied || convErr.Kind == core.FailureApprovalDenied {
		status = core.ConversationDenied
	}
	conv.SetStatus(status)
	emit(core.NewErrorEvent(convErr.Error()))
	log.Error("conversation.failed", "kind", string(convErr.Kind), "reason", convErr.Reason)
}

func (o *Orchestrator) buildResult(conv *core.Conversation, started time.Time) *Result {
	breakdown := make(map[string]float64)
	for _, t := range conv.GetTurns() {
		breakdown[t.AgentID] += t.CostUSD
	}
	return &Result{
		ConversationID:  conv.ID,
		Response:        conv.LastResponse(),
		AgentsUsed:      conv.AgentsUsed(),
		TurnCount:       conv.TurnCount(),
		DurationSeconds: time.Since(started).Seconds(),
		CostBreakdown:   breakdown,
	}
}

func containsTerminationMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range terminationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func serializeCall(call core.FunctionCall) string {
	raw, err := json.Marshal(call)
	if err != nil {
		return call.Name
	}
	return string(raw)
}

func serializeResult(fr core.FunctionResponse) string {
	raw, err := json.Marshal(fr)
	if err != nil {
		return fr.Name
	}
	return string(raw)
}
