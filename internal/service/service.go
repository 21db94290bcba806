// Package service turns delivered work items into assessment jobs. It owns
// the idempotency ledger, artifact persistence, and the reply a work item
// produces; the engine stays unaware of transport and storage.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bdqcore/internal/engine"
	"bdqcore/internal/infra/artifacts"
	"bdqcore/internal/infra/history"
	"bdqcore/pkg/bdq"
)

// Artifact names under jobs/<jobID>/.
const (
	ArtifactRawResults = "raw_results.csv"
	ArtifactAmended    = "amended_dataset.csv"
	ArtifactDigest     = "digest.json"
)

// ErrBusy reports a duplicate delivery of a message whose job is still
// in flight. The caller should redeliver later.
var ErrBusy = errors.New("service: message is already being processed")

// WorkItem is one delivered assessment request: a dataset attachment plus
// the envelope fields the reply needs. MessageID is the idempotency key.
type WorkItem struct {
	MessageID string
	From      string
	Subject   string
	Filename  string
	Payload   []byte
	// Overrides is the loosely typed override mapping from the request;
	// unknown keys warn and are ignored.
	Overrides map[string]any
}

// Reply is the rendered answer for a work item. Body is deterministic plain
// text; a downstream summarizer may replace it.
type Reply struct {
	Subject        string
	Body           string
	AttachmentKeys []string
}

// Result pairs the history record with the reply. Duplicate marks a delivery
// answered from history without re-running the job.
type Result struct {
	Job       history.JobRecord
	Reply     Reply
	Duplicate bool
}

// Config wires a Service. Runner, History, and Artifacts are required.
type Config struct {
	Runner    *engine.Runner
	History   history.Store
	Artifacts artifacts.Store
	Logger    *zap.Logger
	Metrics   *Metrics
}

// Service processes work items exactly once per message ID.
type Service struct {
	runner    *engine.Runner
	history   history.Store
	artifacts artifacts.Store
	log       *zap.Logger
	metrics   *Metrics
}

// New validates cfg and builds a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("service: runner required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("service: history store required")
	}
	if cfg.Artifacts == nil {
		return nil, fmt.Errorf("service: artifact store required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		runner:    cfg.Runner,
		history:   cfg.History,
		artifacts: cfg.Artifacts,
		log:       log,
		metrics:   cfg.Metrics,
	}, nil
}

// Process runs one work item. Deliveries are at-least-once: a message whose
// job already reached a terminal state is answered from history, and one
// whose job is still running is rejected with ErrBusy. Job-level failures
// are terminal, recorded, and replied; only infrastructure failures return
// an error.
func (s *Service) Process(ctx context.Context, item WorkItem) (Result, error) {
	if item.MessageID == "" {
		return Result{}, fmt.Errorf("service: message id required")
	}

	prior, ok, err := s.history.FindByMessageID(ctx, item.MessageID)
	if err != nil {
		return Result{}, fmt.Errorf("lookup message %s: %w", item.MessageID, err)
	}
	if ok {
		if !prior.Status.Terminal() {
			return Result{}, fmt.Errorf("message %s (job %s): %w", item.MessageID, prior.ID, ErrBusy)
		}
		s.log.Info("duplicate delivery answered from history",
			zap.String("message_id", item.MessageID), zap.String("job_id", prior.ID))
		s.count("duplicate")
		return Result{Job: prior, Reply: s.replyFor(prior, nil), Duplicate: true}, nil
	}

	jobID := uuid.NewString()
	rec := history.JobRecord{
		ID:        jobID,
		MessageID: item.MessageID,
		From:      item.From,
		Subject:   item.Subject,
		Filename:  item.Filename,
		Status:    history.StatusQueued,
	}
	if err := s.history.Append(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("append job %s: %w", jobID, err)
	}

	overrides, warnings := engine.ParseOverrides(item.Overrides)
	if _, err := s.history.Update(ctx, jobID, func(r *history.JobRecord) {
		r.Status = history.StatusRunning
	}); err != nil {
		return Result{}, fmt.Errorf("mark job %s running: %w", jobID, err)
	}
	s.log.Info("job started",
		zap.String("job_id", jobID),
		zap.String("message_id", item.MessageID),
		zap.String("filename", item.Filename),
		zap.Int("payload_bytes", len(item.Payload)))

	start := time.Now()
	res, runErr := s.runner.Run(ctx, engine.JobRequest{
		Input:     item.Payload,
		Filename:  item.Filename,
		Overrides: overrides,
	})
	if runErr != nil {
		return s.finishFailed(ctx, jobID, item, runErr, time.Since(start))
	}
	return s.finishSucceeded(ctx, jobID, item, res, warnings, time.Since(start))
}

func (s *Service) finishFailed(ctx context.Context, jobID string, item WorkItem, runErr error, elapsed time.Duration) (Result, error) {
	kind := bdq.KindOf(runErr)
	now := time.Now().UTC()
	rec, err := s.history.Update(ctx, jobID, func(r *history.JobRecord) {
		r.Status = history.StatusFailed
		r.ErrorKind = string(kind)
		r.Error = runErr.Error()
		r.FinishedAt = &now
	})
	if err != nil {
		return Result{}, fmt.Errorf("record failure of job %s: %w", jobID, err)
	}
	s.log.Warn("job failed",
		zap.String("job_id", jobID),
		zap.String("message_id", item.MessageID),
		zap.String("kind", string(kind)),
		zap.Error(runErr),
		zap.Duration("elapsed", elapsed))
	s.count("failed")
	return Result{Job: rec, Reply: s.replyFor(rec, nil)}, nil
}

func (s *Service) finishSucceeded(ctx context.Context, jobID string, item WorkItem, res *engine.JobResult, overrideWarnings []string, elapsed time.Duration) (Result, error) {
	keys, err := s.persistArtifacts(ctx, jobID, item, res)
	if err != nil {
		// The run itself succeeded; losing the artifacts is an
		// infrastructure failure the caller should retry.
		now := time.Now().UTC()
		if _, uerr := s.history.Update(ctx, jobID, func(r *history.JobRecord) {
			r.Status = history.StatusFailed
			r.ErrorKind = string(bdq.ErrInternal)
			r.Error = fmt.Sprintf("persist artifacts: %v", err)
			r.FinishedAt = &now
		}); uerr != nil {
			s.log.Error("artifact failure not recorded", zap.String("job_id", jobID), zap.Error(uerr))
		}
		return Result{}, fmt.Errorf("persist artifacts for job %s: %w", jobID, err)
	}

	warnings := append(append([]string{}, overrideWarnings...), res.Warnings...)
	now := time.Now().UTC()
	rec, err := s.history.Update(ctx, jobID, func(r *history.JobRecord) {
		r.Status = history.StatusSucceeded
		r.Artifacts = keys
		r.Rows = res.Digest.Rows
		r.PlannedTests = res.Digest.PlannedTests
		r.Warnings = warnings
		r.FinishedAt = &now
	})
	if err != nil {
		return Result{}, fmt.Errorf("record success of job %s: %w", jobID, err)
	}
	s.log.Info("job succeeded",
		zap.String("job_id", jobID),
		zap.String("message_id", item.MessageID),
		zap.Int("rows", res.Digest.Rows),
		zap.Int("planned_tests", res.Digest.PlannedTests),
		zap.Int("provider_calls", res.Stats.ProviderCalls),
		zap.Duration("elapsed", elapsed))
	s.count("succeeded")
	return Result{Job: rec, Reply: s.replyFor(rec, res.Digest)}, nil
}

// persistArtifacts writes the three job outputs under jobs/<jobID>/ and
// returns artifact names mapped to store keys.
func (s *Service) persistArtifacts(ctx context.Context, jobID string, item WorkItem, res *engine.JobResult) (map[string]string, error) {
	raw, err := res.RawResults.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode raw results: %w", err)
	}
	amended, err := res.Amended.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode amended dataset: %w", err)
	}
	digest, err := json.MarshalIndent(res.Digest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode digest: %w", err)
	}
	digest = append(digest, '\n')

	meta := map[string]string{"message_id": item.MessageID}
	if item.Filename != "" {
		meta["filename"] = item.Filename
	}
	keys := make(map[string]string, 3)
	for _, a := range []struct {
		name        string
		contentType string
		data        []byte
	}{
		{ArtifactRawResults, "text/csv", raw},
		{ArtifactAmended, "text/csv", amended},
		{ArtifactDigest, "application/json", digest},
	} {
		key := fmt.Sprintf("jobs/%s/%s", jobID, a.name)
		if _, err := s.artifacts.Put(ctx, key, bytes.NewReader(a.data), artifacts.PutOptions{ContentType: a.contentType, Metadata: meta}); err != nil {
			return nil, fmt.Errorf("put %s: %w", key, err)
		}
		keys[a.name] = key
	}
	return keys, nil
}

// replyFor renders the answer for a record. digest may be nil (failures and
// duplicate deliveries); the body then comes from the record alone.
func (s *Service) replyFor(rec history.JobRecord, digest *engine.Digest) Reply {
	reply := Reply{Subject: replySubject(rec)}
	if rec.Status == history.StatusSucceeded {
		for _, name := range []string{ArtifactRawResults, ArtifactAmended, ArtifactDigest} {
			if key, ok := rec.Artifacts[name]; ok {
				reply.AttachmentKeys = append(reply.AttachmentKeys, key)
			}
		}
	}
	reply.Body = renderBody(rec, digest)
	return reply
}

func replySubject(rec history.JobRecord) string {
	if rec.Subject != "" {
		return "Re: " + rec.Subject
	}
	if rec.Filename != "" {
		return "Assessment results for " + rec.Filename
	}
	return "Assessment results"
}

func (s *Service) count(result string) {
	if s.metrics != nil {
		s.metrics.CountWorkItem(result)
	}
}
