// Package embedding's Worker drives the embedding_queue per spec.md §4.7:
// claim a queued job, chunk its document content, embed each chunk through
// the provider Registry, and write the resulting vectors to the store.
//
// Grounded on internal/app/app.go's ticker-driven background loops
// (runDiscoveryReconciliation's time.NewTicker + select{ctx.Done()} shape).
package embedding

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

const (
	defaultTickInterval = 5 * time.Second
	maxProcessingJobs   = 3
	maxJobRetries       = 5
)

// Worker claims embedding_queue jobs and writes chunk vectors to the store.
type Worker struct {
	store     *store.Store
	registry  *Registry
	logger    *zerolog.Logger
	maxTokens int
}

// NewWorker constructs a Worker.
func NewWorker(s *store.Store, registry *Registry, logger *zerolog.Logger) *Worker {
	return &Worker{
		store:     s,
		registry:  registry,
		logger:    logger,
		maxTokens: DefaultMaxTokens,
	}
}

// Run ticks the worker until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick claims and processes at most one job, provided fewer than
// maxProcessingJobs are already Processing.
func (w *Worker) tick(ctx context.Context) {
	processing, err := w.store.CountEmbeddingJobsByStatus(ctx, store.EmbedStatusProcessing)
	if err != nil {
		w.logger.Warn().Err(err).Msg("embedding worker: count processing jobs failed")
		return
	}

	if processing >= maxProcessingJobs {
		return
	}

	job, err := w.store.ClaimOneEmbeddingJob(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("embedding worker: claim job failed")
		return
	}

	if job == nil {
		return
	}

	if err := w.process(ctx, job); err != nil {
		w.logger.Warn().Err(err).Int64("job_id", job.ID).Str("doc_id", job.DocumentID).Msg("embedding worker: job failed")
		w.fail(ctx, job, err)

		return
	}

	if err := w.store.CompleteEmbeddingJob(ctx, job.ID); err != nil {
		w.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("embedding worker: complete job failed")
	}
}

func (w *Worker) process(ctx context.Context, job *store.EmbeddingJob) error {
	doc, err := w.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return err
	}

	if err := w.store.CheckVectorDimension(ctx, w.registry.targetDimension); err != nil {
		return err
	}

	segments := ChunkContent(doc.Content, w.maxTokens)

	chunks := make([]store.Chunk, 0, len(segments))

	var providerUsed ProviderName

	for _, seg := range segments {
		result, err := w.registry.GetEmbeddingWithMetadata(ctx, seg.Text)
		if err != nil {
			return err
		}

		providerUsed = result.Provider

		chunks = append(chunks, store.Chunk{
			Index:       seg.Index,
			StartOffset: seg.Start,
			EndOffset:   seg.End,
			Embedding:   result.Vector,
		})
	}

	return w.store.ReplaceVectors(ctx, job.DocumentID, string(providerUsed), w.modelForProvider(providerUsed), chunks)
}

// fail records the failure and either requeues the job for another
// attempt or retires it to Error once the retry budget is exhausted.
func (w *Worker) fail(ctx context.Context, job *store.EmbeddingJob, cause error) {
	if err := w.store.FailEmbeddingJob(ctx, job.ID, cause.Error()); err != nil {
		w.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("embedding worker: record failure failed")
	}

	if job.Retries+1 >= maxJobRetries {
		if err := w.store.MarkEmbeddingJobFailed(ctx, job.ID); err != nil {
			w.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("embedding worker: mark failed failed")
		}

		return
	}

	if err := w.store.RequeueEmbeddingJob(ctx, job.ID); err != nil {
		w.logger.Warn().Err(err).Int64("job_id", job.ID).Msg("embedding worker: requeue failed")
	}
}

func (w *Worker) modelForProvider(name ProviderName) string {
	switch name {
	case ProviderOpenAI:
		return ModelTextEmbedding3Large
	case ProviderCohere:
		return ModelEmbedMultilingualV3
	case ProviderGoogle:
		return ModelGeminiEmbedding001
	default:
		return string(name)
	}
}
