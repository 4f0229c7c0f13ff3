// Package gateway is the message-processing core: it validates access,
// deduplicates deliveries, merges media into textual context, gates
// input through the guardrail, drives the agent with streaming updates,
// and finalizes the platform response with retry on transient failures.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aidalabs/aida/internal/agent"
	"github.com/aidalabs/aida/internal/backoff"
	"github.com/aidalabs/aida/internal/contextmgr"
	"github.com/aidalabs/aida/internal/media"
	"github.com/aidalabs/aida/internal/observability"
	"github.com/aidalabs/aida/internal/streaming"
	"github.com/aidalabs/aida/internal/tokens"
	"github.com/aidalabs/aida/pkg/models"
	"golang.org/x/sync/semaphore"
)

const thinkingPlaceholder = ":hourglass_flowing_sand: Pensando..."

// streamUpdateInterval throttles in-place message edits during
// streaming so platform rate limits are not exhausted.
const streamUpdateInterval = time.Second

const defaultInstructions = `Você é a Aida, assistente corporativa inteligente. Ajude com perguntas sobre trabalho, projetos e produtividade. Responda sempre em português brasileiro, de forma clara, profissional e objetiva.`

// selfLoopPhrases mark inbound text as likely bot echo. Messages
// containing any of them are dropped silently; false positives are an
// accepted trade-off against feedback loops.
var selfLoopPhrases = []string{
	"encontrei o arquivo",
	"você pode acessá-lo",
	"estou à disposição",
	"não consegui encontrar",
	"vou procurar",
	"aqui está",
}

// Agent is the streaming model invocation the processor drives.
type Agent interface {
	Invoke(ctx context.Context, desc agent.Descriptor, input agent.Input, tools []agent.Tool) (<-chan models.StreamEvent, error)
}

// ToolSource builds the local tool surface for one invocation, keyed by
// the conversation's document index (empty when none exists).
type ToolSource interface {
	Tools(vectorStoreID string) []agent.Tool
}

// Guard gates input before the agent runs.
type Guard interface {
	Check(ctx context.Context, text string) (bool, string)
}

// ToolRouter detects and executes integration workflows.
type ToolRouter interface {
	Detect(text string) (string, bool)
	Execute(ctx context.Context, key, message string, imageURLs []string, out chan<- models.StreamEvent) (*models.AgentResponse, error)
}

// Platform is the outbound messaging surface.
type Platform interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) (string, error)
	UpdateMessage(ctx context.Context, channel, ts, text string) error
	UploadFile(ctx context.Context, channel, threadTS, filename, title string, data []byte) error
}

// Fetcher downloads platform-hosted files.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options configures the processor.
type Options struct {
	Model          string
	Instructions   string
	MaxRetries     int
	MaxConcurrency int

	// Timeout bounds one full Process run. Zero means no bound.
	Timeout time.Duration
}

// MessageProcessor coordinates the full pipeline for one inbound event.
// Safe for concurrent use; a weighted semaphore bounds how many events
// hold an agent invocation at once.
type MessageProcessor struct {
	platform    Platform
	access      AccessPolicy
	guard       Guard
	agent       Agent
	router      ToolRouter
	toolSrc     ToolSource
	assembler   streaming.Assembler
	contexts    *contextmgr.Manager
	accountant  *tokens.Accountant
	transcriber media.Transcriber
	documents   media.DocumentStore
	images      media.ImageGenerator
	fetcher     Fetcher
	logger      *slog.Logger
	metrics     *observability.Metrics

	opts   Options
	policy backoff.Policy
	sem    *semaphore.Weighted
	dedup  *dedupSet

	stores *threadStores
}

// NewMessageProcessor wires the pipeline. metrics may be nil.
func NewMessageProcessor(
	platform Platform,
	access AccessPolicy,
	guard Guard,
	agentRuntime Agent,
	router ToolRouter,
	toolSrc ToolSource,
	contexts *contextmgr.Manager,
	accountant *tokens.Accountant,
	transcriber media.Transcriber,
	documents media.DocumentStore,
	images media.ImageGenerator,
	fetcher Fetcher,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts Options,
) *MessageProcessor {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 5
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Instructions == "" {
		opts.Instructions = defaultInstructions
	}
	return &MessageProcessor{
		platform:    platform,
		access:      access,
		guard:       guard,
		agent:       agentRuntime,
		router:      router,
		toolSrc:     toolSrc,
		contexts:    contexts,
		accountant:  accountant,
		transcriber: transcriber,
		documents:   documents,
		images:      images,
		fetcher:     fetcher,
		logger:      logger,
		metrics:     metrics,
		opts:        opts,
		policy:      backoff.Pipeline(),
		sem:         semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		dedup:       newDedupSet(),
		stores:      newThreadStores(),
	}
}

// Seen atomically checks and records an event key. Exposed so the event
// router can apply the same dedup policy to flows it dispatches
// elsewhere.
func (p *MessageProcessor) Seen(key string) bool {
	return p.dedup.Seen(key)
}

// Process runs one inbound event through the pipeline. The returned
// error is for logging; everything user-facing has already been posted
// by the time it returns.
func (p *MessageProcessor) Process(ctx context.Context, ev *models.InboundEvent) error {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	if !p.access.Allowed(ev) {
		p.logger.Debug("event dropped by access policy", "channel", ev.Channel, "user", ev.User)
		return nil
	}
	if isSelfLoop(ev.Text) {
		p.logger.Debug("event dropped as likely bot echo", "channel", ev.Channel)
		return nil
	}
	// Insert into the dedup set before any expensive work so a
	// concurrent duplicate delivery loses the race here.
	if p.dedup.Seen(ev.DedupKey()) {
		p.logger.Debug("duplicate event suppressed", "key", ev.DedupKey())
		p.countMessage("inbound", "duplicate")
		return nil
	}
	p.countMessage("inbound", "accepted")

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	defer p.sem.Release(1)
	if p.metrics != nil {
		p.metrics.ActiveInvocations.Inc()
		defer p.metrics.ActiveInvocations.Dec()
	}

	threadTS := ev.ReplyThreadTS()
	msgTS, err := p.platform.PostMessage(ctx, ev.Channel, threadTS, thinkingPlaceholder)
	if err != nil {
		p.logger.Warn("placeholder post failed, will reply without edits", "error", err)
		msgTS = ""
	}

	input := p.assembleInput(ctx, ev)

	hasAudio := len(ev.AttachmentsOfKind(models.AttachmentAudio)) > 0
	initial := streaming.InitialTags(ev.Text, hasAudio, len(input.imageURLs) > 0, p.opts.Model)

	if initial.Contains("ImageGen") {
		return p.handleImageGeneration(ctx, ev, msgTS, threadTS)
	}

	if blocked, userMsg := p.guard.Check(ctx, input.text); blocked {
		p.finalize(ctx, ev, msgTS, threadTS, userMsg)
		p.countMessage("outbound", "blocked")
		return nil
	}

	resp, err := p.invokeWithRetry(ctx, ev, input, msgTS, initial)
	if err != nil {
		p.logger.Error("agent invocation failed", "channel", ev.Channel, "error", err)
		if p.metrics != nil {
			p.metrics.ErrorCounter.WithLabelValues("processor", string(agent.KindOf(err))).Inc()
		}
		p.finalize(ctx, ev, msgTS, threadTS, userErrorMessage(err))
		p.countMessage("outbound", "error")
		return err
	}

	final := streaming.FinalTags(initial, resp.Tools)

	used := resp.Usage.Total
	if used == 0 {
		// Streaming runs do not always report usage; estimate.
		used = p.accountant.Count(input.text, p.opts.Model) + p.accountant.Count(resp.Text, p.opts.Model)
	}
	_, warning := p.contexts.CheckContextLimit(ev.ThreadKey(), used, p.opts.Model)

	p.finalize(ctx, ev, msgTS, threadTS, final.FormatHeader()+resp.Text+warning)
	p.countMessage("outbound", "ok")
	return nil
}

// mergedInput is the assembled textual context for one event.
type mergedInput struct {
	text          string
	imageURLs     []string
	vectorStoreID string
}

// assembleInput merges text, audio transcriptions, the document
// summary, and prior thread history into one context block. The merge
// order is a contract: text, then labeled transcriptions, then the
// document summary, with history prepended before the latest message.
func (p *MessageProcessor) assembleInput(ctx context.Context, ev *models.InboundEvent) mergedInput {
	input := mergedInput{text: ev.Text}

	input.imageURLs = append(input.imageURLs, ev.ImageURLs...)
	for _, att := range ev.AttachmentsOfKind(models.AttachmentImage) {
		input.imageURLs = append(input.imageURLs, att.URL)
	}

	if audio := ev.AttachmentsOfKind(models.AttachmentAudio); len(audio) > 0 {
		var transcriptions []string
		for _, att := range audio {
			text, err := p.transcriber.Transcribe(ctx, att)
			if err != nil {
				p.logger.Warn("audio transcription failed", "file", att.Name, "error", err)
				transcriptions = append(transcriptions, fmt.Sprintf("❌ **Erro ao transcrever áudio '%s'**", att.Name))
				continue
			}
			transcriptions = append(transcriptions, fmt.Sprintf("🎵 **Áudio '%s'**: %s", att.Name, text))
		}
		block := strings.Join(transcriptions, "\n\n")
		if input.text != "" {
			input.text = input.text + "\n\n" + block
		} else {
			input.text = block
		}
	}

	if docs := ev.AttachmentsOfKind(models.AttachmentDocument); len(docs) > 0 {
		summary, storeID := p.processDocuments(ctx, ev, docs)
		input.vectorStoreID = storeID
		if summary != "" {
			if input.text != "" {
				input.text = input.text + "\n\n" + summary
			} else {
				input.text = summary
			}
		}
		if strings.TrimSpace(input.text) == "" {
			input.text = "O usuário enviou documentos, mas houve erro no processamento."
		}
	}

	if history := p.contexts.FetchThreadHistory(ctx, ev.Channel, ev.ThreadTS); history != "" {
		input.text = history + "\n\nLatest message: " + input.text
	}
	return input
}

// processDocuments uploads and indexes document attachments, keeping
// one index per conversation thread. A failed attachment degrades to an
// inline marker; the rest proceed.
func (p *MessageProcessor) processDocuments(ctx context.Context, ev *models.InboundEvent, docs []models.Attachment) (string, string) {
	var fileIDs []string
	var names []string
	var failures []string

	for _, att := range docs {
		data, err := p.fetcher.Fetch(ctx, att.URL)
		if err == nil {
			var fileID string
			fileID, err = p.documents.Upload(ctx, att.Name, data)
			if err == nil {
				fileIDs = append(fileIDs, fileID)
				names = append(names, att.Name)
				continue
			}
		}
		p.logger.Warn("document processing failed", "file", att.Name, "error", err)
		failures = append(failures, fmt.Sprintf("❌ **Erro ao processar documento '%s'**", att.Name))
	}

	var storeID string
	if len(fileIDs) > 0 {
		threadKey := ev.ThreadKey()
		existing := p.stores.Get(threadKey)
		if existing != "" {
			if err := p.documents.AddToIndex(ctx, existing, fileIDs); err != nil {
				p.logger.Warn("index update failed", "index", existing, "error", err)
			} else {
				storeID = existing
			}
		} else {
			id, err := p.documents.CreateIndex(ctx, "aida-"+threadKey, fileIDs)
			if err != nil {
				p.logger.Warn("index creation failed", "error", err)
			} else {
				p.stores.Set(threadKey, id)
				storeID = id
			}
		}
	}

	var parts []string
	if len(names) > 0 {
		parts = append(parts, fmt.Sprintf("📄 Documentos recebidos e indexados para busca: %s", strings.Join(names, ", ")))
	}
	parts = append(parts, failures...)
	return strings.Join(parts, "\n\n"), storeID
}

// invokeWithRetry runs the agent (or the integration router when a
// keyword matches), retrying transient provider failures with the fixed
// backoff schedule. Non-retryable failures surface immediately.
func (p *MessageProcessor) invokeWithRetry(ctx context.Context, ev *models.InboundEvent, input mergedInput, msgTS string, tags *streaming.TagSet) (*models.AgentResponse, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := p.invokeOnce(ctx, ev, input, msgTS, tags)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !agent.IsRetryable(err) || attempt >= p.opts.MaxRetries {
			return nil, lastErr
		}
		if p.metrics != nil {
			p.metrics.RetryCounter.WithLabelValues(string(agent.KindOf(err))).Inc()
		}
		p.logger.Info("retrying after transient error",
			"attempt", attempt+1, "max", p.opts.MaxRetries, "kind", agent.KindOf(err))
		if err := backoff.SleepAttempt(ctx, p.policy, attempt+1); err != nil {
			return nil, lastErr
		}
	}
}

func (p *MessageProcessor) invokeOnce(ctx context.Context, ev *models.InboundEvent, input mergedInput, msgTS string, tags *streaming.TagSet) (*models.AgentResponse, error) {
	cb := p.streamCallback(ctx, ev, msgTS, tags)

	if key, ok := p.router.Detect(ev.Text); ok {
		events := make(chan models.StreamEvent, 64)
		var routed *models.AgentResponse
		var routeErr error
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer close(events)
			routed, routeErr = p.router.Execute(ctx, key, input.text, input.imageURLs, events)
		}()

		assembled, consumeErr := p.assembler.Consume(ctx, events, cb)
		<-done
		if routeErr != nil {
			return nil, routeErr
		}
		if consumeErr != nil {
			return nil, consumeErr
		}
		// The router's response is authoritative; the assembled one only
		// drove incremental updates.
		if routed.Text == "" {
			routed.Text = assembled.Text
		}
		return routed, nil
	}

	desc := agent.Descriptor{
		Name:         "Aida",
		Model:        p.opts.Model,
		Instructions: p.opts.Instructions,
	}
	var localTools []agent.Tool
	if p.toolSrc != nil {
		localTools = p.toolSrc.Tools(input.vectorStoreID)
	}
	events, err := p.agent.Invoke(ctx, desc, agent.Input{Text: input.text, ImageURLs: input.imageURLs}, localTools)
	if err != nil {
		return nil, err
	}
	return p.assembler.Consume(ctx, events, cb)
}

// streamCallback edits the placeholder in place as text streams in,
// throttled. Tool boundary events refresh immediately so the capability
// header stays current.
func (p *MessageProcessor) streamCallback(ctx context.Context, ev *models.InboundEvent, msgTS string, tags *streaming.TagSet) streaming.Callback {
	if msgTS == "" {
		return nil
	}
	var last time.Time
	return func(delta, full string, tools []models.ToolInvocation) {
		if full == "" {
			return
		}
		if delta != "" && time.Since(last) < streamUpdateInterval {
			return
		}
		last = time.Now()

		header := streaming.FinalTags(tags, tools).FormatHeader()
		if err := p.platform.UpdateMessage(ctx, ev.Channel, msgTS, header+full); err != nil {
			p.logger.Debug("stream update failed", "error", err)
		}
	}
}

func (p *MessageProcessor) handleImageGeneration(ctx context.Context, ev *models.InboundEvent, msgTS, threadTS string) error {
	if blocked, userMsg := p.guard.Check(ctx, ev.Text); blocked {
		p.finalize(ctx, ev, msgTS, threadTS, userMsg)
		p.countMessage("outbound", "blocked")
		return nil
	}

	data, err := p.images.Generate(ctx, ev.Text)
	if err != nil {
		p.logger.Error("image generation failed", "error", err)
		p.finalize(ctx, ev, msgTS, threadTS, "❌ Não consegui gerar a imagem. Tente novamente com outra descrição.")
		p.countMessage("outbound", "error")
		return err
	}

	if err := p.platform.UploadFile(ctx, ev.Channel, threadTS, "aida_image.png", "Imagem gerada", data); err != nil {
		p.logger.Error("image upload failed", "error", err)
		p.finalize(ctx, ev, msgTS, threadTS, "❌ A imagem foi gerada mas o envio falhou. Tente novamente.")
		p.countMessage("outbound", "error")
		return err
	}

	p.finalize(ctx, ev, msgTS, threadTS, "🎨 Imagem gerada! Confira acima.")
	p.countMessage("outbound", "ok")
	return nil
}

// finalize delivers the final text: edit the placeholder when one
// exists, posting fresh as fallback. Delivery failures are logged only;
// there is no further user-visible recourse. When the pipeline context
// already expired, delivery runs on a fresh deadline so the timeout
// message still reaches the user.
func (p *MessageProcessor) finalize(ctx context.Context, ev *models.InboundEvent, msgTS, threadTS, text string) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if msgTS != "" {
		err := p.platform.UpdateMessage(ctx, ev.Channel, msgTS, text)
		if err == nil {
			return
		}
		p.logger.Warn("final update failed, posting instead", "error", err)
	}
	if _, err := p.platform.PostMessage(ctx, ev.Channel, threadTS, text); err != nil {
		p.logger.Error("final delivery failed", "channel", ev.Channel, "error", err)
	}
}

func (p *MessageProcessor) countMessage(direction, outcome string) {
	if p.metrics != nil {
		p.metrics.MessageCounter.WithLabelValues(direction, outcome).Inc()
	}
}

func isSelfLoop(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range selfLoopPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// userErrorMessage maps a pipeline failure to the locale-appropriate
// user-facing text. Never includes internal identifiers or stack
// traces.
func userErrorMessage(err error) string {
	kind := agent.KindOf(err)
	if kind == agent.KindGeneric && errors.Is(err, context.DeadlineExceeded) {
		// Pipeline-level timeouts arrive unwrapped.
		kind = agent.KindTimeout
	}
	switch kind {
	case agent.KindRateLimit:
		return "Muitas solicitações simultâneas. Tente novamente em alguns instantes."
	case agent.KindTimeout:
		return "Timeout na resposta. Tente novamente com uma mensagem mais simples."
	case agent.KindConnection:
		return "Erro de conexão. Tente novamente em alguns instantes."
	default:
		return "Desculpe, ocorreu um erro ao processar sua mensagem. Tente novamente em alguns instantes."
	}
}
