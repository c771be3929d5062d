package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/martinemde/patchwork/llmwire"
	"github.com/martinemde/patchwork/tools"
)

const (
	defaultMaxToolRounds    = 40
	defaultLoopWindow       = 6
	defaultCompactThreshold = 0.8
	defaultMaxTokens        = 8192
	interruptionNotice      = "[Request interrupted by user]"
	loopWarning             = "[WARNING: The recent tool calls repeat an earlier pattern. " +
		"Step back, reconsider the approach, and avoid re-running the same calls.]"
)

// Options configures an Agent.
type Options struct {
	// SystemPrompt overrides the generated prompt. Empty builds one from the
	// working directory.
	SystemPrompt string
	// WorkingDir anchors the environment context. Defaults to the process
	// working directory.
	WorkingDir string
	// MaxToolRounds bounds tool round-trips per user turn. Defaults to 40.
	MaxToolRounds int
	// MaxTokens is the per-response output budget. Defaults to 8192.
	MaxTokens int
	// CompactThreshold is the fraction of the model's context window at
	// which compaction runs. Defaults to 0.8.
	CompactThreshold float64
	// Compactor replaces the default drop-oldest compactor.
	Compactor Compactor
	// LoopWindow is the number of recent tool calls inspected for repeating
	// patterns. Defaults to 6; negative disables detection.
	LoopWindow int
	// Executor options.
	MaxParallelTools int
	Permission       PermissionFunc
	CharLimits       map[string]int
	LineLimits       map[string]int
	// EventBuffer sizes the display event channel.
	EventBuffer int
}

// Agent drives the turn loop for one session: it streams model output,
// executes requested tools, and feeds results back until the model produces
// a final answer.
type Agent struct {
	client   *llmwire.Client
	registry *tools.Registry
	session  *Session
	emitter  *Emitter
	executor *Executor
	compact  Compactor
	opts     Options

	mu         sync.Mutex
	cancelTurn context.CancelFunc
}

// New creates an Agent for a session.
func New(client *llmwire.Client, registry *tools.Registry, session *Session, opts Options) *Agent {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = defaultMaxToolRounds
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.CompactThreshold <= 0 || opts.CompactThreshold > 1 {
		opts.CompactThreshold = defaultCompactThreshold
	}
	if opts.LoopWindow == 0 {
		opts.LoopWindow = defaultLoopWindow
	}
	compactor := opts.Compactor
	if compactor == nil {
		compactor = &DropOldestCompactor{}
	}
	emitter := NewEmitter(session.ID, opts.EventBuffer)
	executor := NewExecutor(registry, emitter, ExecutorOptions{
		MaxParallel: opts.MaxParallelTools,
		Permission:  opts.Permission,
		CharLimits:  opts.CharLimits,
		LineLimits:  opts.LineLimits,
	})
	return &Agent{
		client:   client,
		registry: registry,
		session:  session,
		emitter:  emitter,
		executor: executor,
		compact:  compactor,
		opts:     opts,
	}
}

// Session returns the agent's session.
func (a *Agent) Session() *Session { return a.session }

// Events returns the display event channel for real-time rendering.
func (a *Agent) Events() <-chan DisplayEvent { return a.emitter.Events() }

// Close releases the event channel. The agent must not be used afterwards.
func (a *Agent) Close() { a.emitter.Close() }

// CancelActiveTurn aborts the in-flight turn, if any. The partial assistant
// text streamed so far is kept in the history; requested tool calls that have
// not executed are discarded.
func (a *Agent) CancelActiveTurn() {
	a.mu.Lock()
	cancel := a.cancelTurn
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// TurnOutcome summarizes a completed user turn.
type TurnOutcome struct {
	Answer string
	Rounds int
	Usage  llmwire.Usage
}

// SubmitUserMessage starts a user turn in the background and returns the
// display event channel for rendering. The turn's outcome is delivered as a
// turn_end event; callers that want the result directly use RunTurn.
func (a *Agent) SubmitUserMessage(ctx context.Context, text string) <-chan DisplayEvent {
	go func() {
		if _, err := a.RunTurn(ctx, text); err != nil {
			log.Debug().Err(err).Msg("turn ended with error")
		}
	}()
	return a.emitter.Events()
}

// RunTurn runs one full user turn and blocks until the model produces a final
// answer. Tool failures never abort the turn; they come back to the model as
// error-flagged results. The turn ends with a *TurnLimitError when the model
// keeps requesting tools past the round budget, and with a *CancelledError
// when the host cancels it.
func (a *Agent) RunTurn(ctx context.Context, text string) (*TurnOutcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	if a.cancelTurn != nil {
		a.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("a turn is already in flight")
	}
	a.cancelTurn = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.cancelTurn = nil
		a.mu.Unlock()
	}()

	// Model and provider are pinned for the whole turn.
	model := a.session.Model()
	provider := a.session.Provider()
	systemPrompt := a.opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = BuildSystemPrompt(a.workingDir(), provider, model)
	}

	if err := a.session.Conversation.Append(llmwire.UserMessage(text)); err != nil {
		return nil, err
	}
	a.emitter.Emit(EventTurnStart, map[string]interface{}{"model": model})

	var turnUsage llmwire.Usage
	for round := 0; round <= a.opts.MaxToolRounds; round++ {
		if err := a.maybeCompact(model, systemPrompt); err != nil {
			log.Warn().Err(err).Msg("compaction failed")
		}

		req := llmwire.Request{
			Model:     model,
			Provider:  provider,
			System:    systemPrompt,
			Messages:  a.session.Conversation.Messages(),
			Tools:     a.registry.Definitions(),
			MaxTokens: a.opts.MaxTokens,
		}

		events, err := a.client.Stream(ctx, req)
		if err != nil {
			return nil, a.finishTurn("", err)
		}

		outcome, err := collectStream(ctx, events, a.emitter)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				a.recordInterruption(outcome.Message)
				return nil, a.finishTurn("", &CancelledError{})
			}
			return nil, a.finishTurn("", err)
		}
		a.session.addUsage(outcome.Usage)
		turnUsage = turnUsage.Add(outcome.Usage)

		calls := outcome.Message.ToolCalls()
		if len(outcome.Message.Content) > 0 {
			if err := a.session.Conversation.Append(outcome.Message); err != nil {
				return nil, a.finishTurn("", err)
			}
		}

		if len(calls) == 0 {
			answer := outcome.Message.TextContent()
			return &TurnOutcome{Answer: answer, Rounds: round, Usage: turnUsage}, a.finishTurn(answer, nil)
		}

		results := a.executor.Execute(ctx, calls)
		if a.opts.LoopWindow > 0 && DetectLoop(a.session.Conversation.Messages(), a.opts.LoopWindow) {
			a.emitter.Emit(EventLoopWarning, map[string]interface{}{
				"window": a.opts.LoopWindow,
			})
			results[len(results)-1].Content += "\n\n" + loopWarning
		}
		for _, result := range results {
			msg := llmwire.ToolResultMessage(result.ToolCallID, result.Content, result.IsError)
			if err := a.session.Conversation.Append(msg); err != nil {
				return nil, a.finishTurn("", err)
			}
		}

		if ctx.Err() != nil {
			// Tool results are already appended, so nothing dangles; the
			// interruption marker still has to be recorded.
			a.recordInterruption(llmwire.Message{})
			return nil, a.finishTurn("", &CancelledError{})
		}
	}

	return nil, a.finishTurn("", &TurnLimitError{Rounds: a.opts.MaxToolRounds})
}

// recordInterruption keeps partial streamed text in the history, dropping
// tool calls that will never execute so no call is left unanswered.
func (a *Agent) recordInterruption(partial llmwire.Message) {
	text := partial.TextContent()
	msg := llmwire.AssistantMessage(interruptionNotice)
	if text != "" {
		msg = llmwire.AssistantMessage(text + "\n\n" + interruptionNotice)
	}
	if err := a.session.Conversation.Append(msg); err != nil {
		log.Warn().Err(err).Msg("failed to record interrupted turn")
	}
}

func (a *Agent) finishTurn(answer string, err error) error {
	data := map[string]interface{}{}
	if answer != "" {
		data["answer"] = answer
	}
	if err != nil {
		data["error"] = err.Error()
		a.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
	}
	a.emitter.Emit(EventTurnEnd, data)
	return err
}

// maybeCompact runs the compactor when the estimated request size crosses the
// threshold fraction of the model's context window.
func (a *Agent) maybeCompact(model, systemPrompt string) error {
	info := llmwire.GetModelInfo(model)
	if info == nil || info.ContextWindow <= 0 {
		return nil
	}
	budget := int(float64(info.ContextWindow) * a.opts.CompactThreshold)

	messages := a.session.Conversation.Messages()
	est := llmwire.EstimateTokens(llmwire.Request{
		System:   systemPrompt,
		Messages: messages,
		Tools:    a.registry.Definitions(),
	})
	if est <= budget {
		return nil
	}

	overhead := est - estimateMessages(messages)
	compacted, dropped, err := a.compact.Compact(messages, budget-overhead)
	if err != nil {
		return err
	}
	if dropped == 0 {
		return nil
	}
	if err := a.session.Conversation.Replace(compacted); err != nil {
		return err
	}
	a.emitter.Emit(EventCompaction, map[string]interface{}{
		"dropped_messages": dropped,
		"estimated_tokens": est,
		"budget_tokens":    budget,
	})
	log.Info().
		Int("dropped_messages", dropped).
		Str("model", model).
		Msg("conversation compacted")
	return nil
}

func (a *Agent) workingDir() string {
	if a.opts.WorkingDir != "" {
		return a.opts.WorkingDir
	}
	return "."
}
