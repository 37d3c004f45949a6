package rag

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"paperqa/internal/apperr"
	"paperqa/internal/index"
	"paperqa/internal/middleware"
	"paperqa/internal/text"
)

type State int

const (
	Idle State = iota
	Chunking
	Indexing
	Retrieving
	Generating
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Chunking:
		return "chunking"
	case Indexing:
		return "indexing"
	case Retrieving:
		return "retrieving"
	case Generating:
		return "generating"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Request struct {
	Question     string
	Document     string
	TopK         int
	ChunkSize    int
	ChunkOverlap int
}

// Result is either Done with an Answer or Failed with Err. FailedAt names
// the step that failed.
type Result struct {
	State    State
	FailedAt State
	Answer   string
	Chunks   []string
	Err      error
}

func (r Result) OK() bool { return r.State == Done }

// Message renders the result for end users. Failures never expose the raw
// upstream error.
func (r Result) Message() string {
	if r.OK() {
		return r.Answer
	}
	return "Error generating answer: " + apperr.SafeMessage(r.Err)
}

// Kind returns the error category of a failed result, or nil.
func (r Result) Kind() error {
	switch {
	case r.OK() || r.Err == nil:
		return nil
	case errors.Is(r.Err, apperr.ErrValidation):
		return apperr.ErrValidation
	case errors.Is(r.Err, apperr.ErrNotFound):
		return apperr.ErrNotFound
	case errors.Is(r.Err, context.Canceled), errors.Is(r.Err, context.DeadlineExceeded):
		return r.Err
	default:
		return apperr.ErrExternalService
	}
}

type Orchestrator struct {
	embedder  Embedder
	builder   index.Builder
	loader    index.Loader
	cache     *index.Cache
	retriever *Retriever
	composer  *Composer
	namespace string
	qaLog     *QueryLogger
}

type Option func(*Orchestrator)

func WithQueryLogger(l *QueryLogger) Option {
	return func(o *Orchestrator) { o.qaLog = l }
}

// WithNamespace separates cache keys of indexes built with different
// embedding models.
func WithNamespace(ns string) Option {
	return func(o *Orchestrator) { o.namespace = ns }
}

// NewOrchestrator wires the pipeline. When builder also implements
// index.Loader, previously persisted indexes are reused.
func NewOrchestrator(e Embedder, g Generator, builder index.Builder, cache *index.Cache, opts ...Option) *Orchestrator {
	if cache == nil {
		cache = index.NewCache(index.DefaultCacheSize)
	}
	o := &Orchestrator{
		embedder:  e,
		builder:   builder,
		cache:     cache,
		retriever: NewRetriever(e),
		composer:  NewComposer(g),
	}
	if l, ok := builder.(index.Loader); ok {
		o.loader = l
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer runs the whole pipeline for one question. It never panics on
// upstream failures and never returns them raw; inspect the Result instead.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	defer func() { o.record(ctx, req, res, time.Since(start)) }()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return o.fail(ctx, Idle, apperr.Validation("question must not be empty"))
	}
	size, overlap := chunkParams(req.ChunkSize, req.ChunkOverlap)

	idx, state, err := o.prepare(ctx, req.Document, size, overlap)
	if err != nil {
		return o.fail(ctx, state, err)
	}

	o.enter(ctx, Retrieving)
	chunks, err := o.retriever.Retrieve(ctx, idx, question, req.TopK)
	if err != nil {
		return o.fail(ctx, Retrieving, err)
	}

	o.enter(ctx, Generating)
	answer, err := o.composer.ComposeAndGenerate(ctx, question, chunks)
	if err != nil {
		return o.fail(ctx, Generating, err)
	}

	o.enter(ctx, Done)
	return Result{State: Done, Answer: answer, Chunks: chunks}
}

// Warm chunks and indexes document so later questions about it skip
// embedding.
func (o *Orchestrator) Warm(ctx context.Context, document string, size, overlap int) error {
	size, overlap = chunkParams(size, overlap)
	_, state, err := o.prepare(ctx, document, size, overlap)
	if err != nil {
		return classify(state, err)
	}
	return nil
}

// Key identifies the index of document under the given chunking.
func (o *Orchestrator) Key(document string, size, overlap int) string {
	h := sha256.New()
	h.Write([]byte(o.namespace))
	h.Write([]byte{0})
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(size))
	binary.BigEndian.PutUint64(buf[8:], uint64(overlap))
	h.Write(buf[:])
	h.Write([]byte(document))
	return hex.EncodeToString(h.Sum(nil))
}

func (o *Orchestrator) prepare(ctx context.Context, document string, size, overlap int) (index.Index, State, error) {
	o.enter(ctx, Chunking)
	chunks, err := text.Split(document, size, overlap)
	if err != nil {
		return nil, Chunking, err
	}

	o.enter(ctx, Indexing)
	key := o.Key(document, size, overlap)
	idx, err := o.cache.GetOrBuild(ctx, key, func(ctx context.Context) (index.Index, error) {
		return o.build(ctx, key, chunks)
	})
	if err != nil {
		return nil, Indexing, err
	}
	return idx, Indexing, nil
}

func (o *Orchestrator) build(ctx context.Context, key string, chunks []text.Chunk) (index.Index, error) {
	if len(chunks) == 0 {
		return index.Empty{}, nil
	}
	if o.loader != nil {
		idx, ok, err := o.loader.Load(ctx, key, len(chunks))
		if err != nil {
			slog.WarnContext(ctx, "failed to load persisted index, rebuilding", "doc_key", key, "error", err)
		} else if ok {
			slog.DebugContext(ctx, "loaded persisted index", "doc_key", key, "chunks", idx.Len())
			return idx, nil
		}
	}

	vectors := make([][]float32, len(chunks))
	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks[i].DocID = key
		v, err := o.embedder.Embed(ctx, chunks[i].Text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}

	idx, err := o.builder.Build(ctx, key, chunks, vectors)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "built index", "doc_key", key, "chunks", len(chunks))
	return idx, nil
}

func (o *Orchestrator) enter(ctx context.Context, s State) {
	slog.DebugContext(ctx, "qa state", "state", s.String())
}

func (o *Orchestrator) fail(ctx context.Context, at State, err error) Result {
	err = classify(at, err)
	if errors.Is(err, apperr.ErrValidation) {
		slog.WarnContext(ctx, "qa request rejected", "state", at.String(), "error", err)
	} else {
		slog.ErrorContext(ctx, "qa request failed", "state", at.String(), "error", err)
	}
	return Result{State: Failed, FailedAt: at, Err: err}
}

// classify tags unclassified failures of the external steps as external
// service errors. Cancellation stays as is.
func classify(at State, err error) error {
	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrExternalService),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return apperr.External(at.String(), err)
}

func (o *Orchestrator) record(ctx context.Context, req Request, res Result, d time.Duration) {
	if o.qaLog == nil {
		return
	}
	entry := QALogEntry{
		QuestionLength: len([]rune(req.Question)),
		DocumentLength: len([]rune(req.Document)),
		NumChunks:      len(res.Chunks),
		State:          res.State.String(),
		Duration:       d,
		CorrelationID:  middleware.GetCorrelationID(ctx),
	}
	if !res.OK() {
		entry.FailedAt = res.FailedAt.String()
		entry.ErrorCode = apperr.Code(res.Err)
	}
	o.qaLog.Log(entry)
}

func chunkParams(size, overlap int) (int, int) {
	if size <= 0 {
		return text.DefaultChunkSize, text.DefaultChunkOverlap
	}
	return size, overlap
}
