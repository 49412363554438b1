// Package pipeline runs the full request flow: embed, retrieve, assemble,
// generate, persist, trace.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/memchat/config"
	"github.com/BaSui01/memchat/internal/metrics"
	"github.com/BaSui01/memchat/llm"
	"github.com/BaSui01/memchat/memory"
	"github.com/BaSui01/memchat/prompt"
	"github.com/BaSui01/memchat/store"
	"github.com/BaSui01/memchat/tokenizer"
	"github.com/BaSui01/memchat/types"
)

// conversationTitleLen caps the auto-generated conversation title.
const conversationTitleLen = 100

// StageLatency is one named pipeline step with its wall time.
type StageLatency struct {
	Name      string  `json:"name"`
	LatencyMS float64 `json:"latency_ms"`
}

// TokenUsage reports prompt composition and cost for one request.
type TokenUsage struct {
	Breakdown         map[string]int `json:"breakdown"`
	Total             int            `json:"total"`
	EstimatedResponse int            `json:"estimated_response"`
	Cost              float64        `json:"cost"`
}

// Observability is the per-request introspection payload returned to the
// caller alongside the response.
type Observability struct {
	RequestID      string               `json:"request_id"`
	Memory         types.MemorySnapshot `json:"memory"`
	TokenUsage     TokenUsage           `json:"token_usage"`
	Steps          []StageLatency       `json:"steps"`
	TotalLatencyMS float64              `json:"total_latency_ms"`
}

// Result is the outcome of one processed message.
type Result struct {
	ResponseText   string        `json:"response"`
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id"`
	Observability  Observability `json:"observability"`
}

// Pipeline orchestrates one user message end to end.
type Pipeline struct {
	store       *store.Store
	coordinator *memory.Coordinator
	assembler   *prompt.Assembler
	provider    llm.Provider
	calculator  *llm.Calculator
	counter     *tokenizer.Counter
	metrics     *metrics.Collector
	tracer      trace.Tracer
	cfg         *config.Config
	logger      *zap.Logger
}

// New wires the pipeline.
func New(
	st *store.Store,
	coordinator *memory.Coordinator,
	assembler *prompt.Assembler,
	provider llm.Provider,
	calculator *llm.Calculator,
	counter *tokenizer.Counter,
	collector *metrics.Collector,
	tracer trace.Tracer,
	cfg *config.Config,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		store:       st,
		coordinator: coordinator,
		assembler:   assembler,
		provider:    provider,
		calculator:  calculator,
		counter:     counter,
		metrics:     collector,
		tracer:      tracer,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "pipeline")),
	}
}

// ProcessMessage runs the full flow for one user message. An empty
// conversationID creates a new conversation titled with the message's first
// characters. Generation failure fails the request; memory tier and
// persistence failures degrade.
func (p *Pipeline) ProcessMessage(ctx context.Context, userID, userMessage, conversationID string) (*Result, error) {
	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := p.tracer.Start(ctx, "pipeline.process_message",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("user.id", userID),
		))
	defer span.End()

	logger := p.logger.With(
		zap.String("request_id", requestID),
		zap.String("user_id", userID))
	logger.Info("processing message")

	// Lazy conversation creation.
	if conversationID == "" {
		conversationID = uuid.NewString()
		conv := types.Conversation{
			ID:        conversationID,
			UserID:    userID,
			Title:     truncateTitle(userMessage),
			CreatedAt: time.Now().UTC(),
		}
		if err := p.store.CreateConversation(ctx, conv); err != nil {
			p.metrics.ObserveRequest("error")
			return nil, err
		}
		logger.Info("created conversation", zap.String("conversation_id", conversationID))
	}

	// Embed the user message. Failure degrades the semantic tier instead of
	// failing the request.
	embedStart := time.Now()
	queryEmbedding, err := p.provider.Embed(ctx, userMessage)
	if err != nil {
		logger.Warn("query embedding failed, semantic recall degraded", zap.Error(err))
		queryEmbedding = nil
	}
	p.metrics.ObserveStage("embed", time.Since(embedStart))

	// Retrieve all tiers.
	retrievalStart := time.Now()
	snapshot := p.coordinator.Aggregate(ctx, userID, conversationID, userMessage, queryEmbedding)
	retrievalLatency := msSince(retrievalStart)
	p.metrics.ObserveStage("retrieval", time.Since(retrievalStart))

	// Correction capture. The flagged message still flows through the rest
	// of the pipeline as a normal message.
	if memory.IsCorrection(userMessage) {
		_, err := p.coordinator.Ledger().Capture(ctx, userID, conversationID, requestID, userMessage,
			map[string]any{
				"short_term":    len(snapshot.Recency.Turns),
				"has_long_term": len(snapshot.Profile.Profile.Preferences) > 0,
			})
		if err != nil {
			logger.Error("failed to capture correction", zap.Error(err))
		} else if refreshed, err := p.coordinator.Ledger().Retrieve(ctx, userID, userMessage); err == nil {
			// The fresh correction must be visible in this request's prompt.
			snapshot.Feedback = types.FeedbackTier{Status: types.TierOK, Corrections: refreshed}
		}
	}

	// Assemble the prompt.
	assemblyStart := time.Now()
	assembled := p.assembler.Assemble(snapshot, userMessage)
	assemblyLatency := msSince(assemblyStart)
	p.metrics.ObserveStage("assembly", time.Since(assemblyStart))
	if assembled.Trimmed && assembled.TotalTokens > p.assembler.Budget() {
		p.metrics.ObservePromptOverflow()
	}

	// Abort before the expensive call if the caller already gave up.
	if err := ctx.Err(); err != nil {
		p.metrics.ObserveRequest("canceled")
		return nil, types.NewError(types.ErrTimeout, "request canceled before generation").WithCause(err)
	}

	generationStart := time.Now()
	generated, err := p.provider.Generate(ctx, assembled.Prompt,
		p.cfg.LLM.MaxTokens, p.cfg.LLM.Temperature)
	if err != nil {
		p.metrics.ObserveRequest("error")
		return nil, err
	}
	generationLatency := msSince(generationStart)
	p.metrics.ObserveStage("generation", time.Since(generationStart))
	p.metrics.ObserveTokens(generated.Provider, generated.Model,
		generated.PromptTokens, generated.CompletionTokens)

	// Persistence runs detached from the caller's deadline: once a response
	// exists it must be recorded even if the caller goes away.
	pctx := context.WithoutCancel(ctx)
	persistStart := time.Now()

	userTurn := types.Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           types.RoleUser,
		Content:        userMessage,
		TokenCount:     p.counter.Count(userMessage),
		CreatedAt:      time.Now().UTC(),
	}
	p.persistTurn(pctx, logger, userID, userTurn, truncateTitle(userMessage), queryEmbedding)

	assistantTurn := types.Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           types.RoleAssistant,
		Content:        generated.Text,
		TokenCount:     generated.CompletionTokens,
		CreatedAt:      time.Now().UTC(),
	}

	// Only corrections that made it into the prompt count as applied; the
	// assembler renders at most prompt.MaxFeedbackEntries of them.
	if applied := snapshot.Feedback.Corrections; len(applied) > 0 {
		if len(applied) > prompt.MaxFeedbackEntries {
			applied = applied[:prompt.MaxFeedbackEntries]
		}
		p.coordinator.Ledger().MarkApplied(pctx, applied)
	}

	cost := p.calculator.Calculate(generated.Model, generated.PromptTokens, generated.CompletionTokens)
	p.metrics.ObserveCost(generated.Provider, generated.Model, cost)

	totalLatency := msSince(start)
	traceRecord := store.Trace{
		RequestID:         requestID,
		UserID:            userID,
		ConversationID:    conversationID,
		UserMessage:       userMessage,
		AssistantResponse: generated.Text,
		PromptTokens:      generated.PromptTokens,
		CompletionTokens:  generated.CompletionTokens,
		TotalTokens:       generated.TotalTokens,
		LatencyMS:         totalLatency,
		Provider:          generated.Provider,
		Model:             generated.Model,
		MemorySnapshot:    snapshot,
		CreatedAt:         time.Now().UTC(),
	}

	// The response embedding and the trace write are independent; overlap
	// them.
	var responseEmbedding []float32
	g, gctx := errgroup.WithContext(pctx)
	g.Go(func() error {
		emb, err := p.provider.Embed(gctx, generated.Text)
		if err != nil {
			logger.Warn("response embedding failed, turn not indexed", zap.Error(err))
			return nil
		}
		responseEmbedding = emb
		return nil
	})
	g.Go(func() error {
		if err := p.store.CreateTrace(gctx, traceRecord); err != nil {
			logger.Error("failed to persist request trace", zap.Error(err))
		}
		return nil
	})
	_ = g.Wait()

	p.persistTurn(pctx, logger, userID, assistantTurn, truncateTitle(userMessage), responseEmbedding)

	persistenceLatency := msSince(persistStart)
	p.metrics.ObserveStage("persistence", time.Since(persistStart))

	// Refresh the snapshot so the observability payload reflects the turns
	// just stored.
	finalSnapshot := p.coordinator.Aggregate(pctx, userID, conversationID, userMessage, queryEmbedding)

	p.metrics.ObserveRequest("ok")
	logger.Info("completed request",
		zap.Int("total_tokens", generated.TotalTokens),
		zap.Float64("cost_usd", cost),
		zap.Float64("latency_ms", totalLatency))

	return &Result{
		ResponseText:   generated.Text,
		ConversationID: conversationID,
		MessageID:      assistantTurn.ID,
		Observability: Observability{
			RequestID: requestID,
			Memory:    finalSnapshot,
			TokenUsage: TokenUsage{
				Breakdown:         assembled.Breakdown,
				Total:             generated.PromptTokens,
				EstimatedResponse: generated.CompletionTokens,
				Cost:              cost,
			},
			Steps: []StageLatency{
				{Name: "Memory Retrieval", LatencyMS: retrievalLatency},
				{Name: "Prompt Construction", LatencyMS: assemblyLatency},
				{Name: "LLM Call", LatencyMS: generationLatency},
				{Name: "Storage / Trace", LatencyMS: persistenceLatency},
			},
			TotalLatencyMS: msSince(start),
		},
	}, nil
}

// persistTurn writes one turn to the store, the recency window, and the
// vector index. Store failure is logged, not returned: the response already
// exists and the caller should receive it.
func (p *Pipeline) persistTurn(ctx context.Context, logger *zap.Logger, userID string, turn types.Turn, title string, embedding []float32) {
	if err := p.store.CreateTurn(ctx, userID, turn); err != nil {
		logger.Error("failed to persist turn",
			zap.String("turn_id", turn.ID),
			zap.Error(err))
		return
	}
	p.coordinator.Window().Put(turn)

	if embedding == nil {
		return
	}
	err := p.coordinator.Index().Add(ctx, turn.ID, userID, turn.ConversationID,
		string(turn.Role), title, turn.Content, embedding)
	if err != nil {
		logger.Warn("failed to index turn",
			zap.String("turn_id", turn.ID),
			zap.Error(err))
	}
}

// DeleteUserData removes all durable and indexed data for a user.
func (p *Pipeline) DeleteUserData(ctx context.Context, userID string) error {
	if err := p.store.DeleteUserData(ctx, userID); err != nil {
		return err
	}
	p.coordinator.Profiles().Invalidate(ctx, userID)
	if err := p.coordinator.Index().DeleteUser(ctx, userID); err != nil {
		p.logger.Warn("failed to delete user vectors",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	return nil
}

func truncateTitle(s string) string {
	runes := []rune(s)
	if len(runes) > conversationTitleLen {
		return string(runes[:conversationTitleLen])
	}
	return s
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
