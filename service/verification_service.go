package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"proof-vault/encryption"
	"proof-vault/models"
	"proof-vault/storage"
)

// slowValidation is informative only; structural checks are expected to be near instant.
const slowValidation = 50 * time.Millisecond

// Recorder receives verification telemetry.
type Recorder interface {
	ObserveVerification(outcome models.Outcome, took time.Duration)
	SetMetrics(m models.Metrics)
}

// FallbackNotifier is told about fallback activations after the snapshot is stored.
type FallbackNotifier interface {
	PublishFallback(ctx context.Context, snapshot *models.FallbackSnapshot) error
}

// VerificationService owns the ledger, counters, replay window and fallback state.
// All mutation happens under mu, one verification at a time.
type VerificationService struct {
	mu sync.Mutex

	cfg       Config
	store     storage.Store
	codec     storage.Codec
	logger    *zap.Logger
	recorder  Recorder
	notifier  FallbackNotifier
	now       func() time.Time
	validator *StructureValidator
	replay    *ReplayGuard
	verifier  *ProofVerifier
	ledger    *AuditLedger
	metrics   *MetricsTracker
	fallback  *FallbackController
	queue     *PersistQueue
}

type Option func(*VerificationService)

func WithLogger(logger *zap.Logger) Option {
	return func(vs *VerificationService) { vs.logger = logger }
}

func WithCodec(codec storage.Codec) Option {
	return func(vs *VerificationService) { vs.codec = codec }
}

func WithRecorder(recorder Recorder) Option {
	return func(vs *VerificationService) { vs.recorder = recorder }
}

func WithNotifier(notifier FallbackNotifier) Option {
	return func(vs *VerificationService) { vs.notifier = notifier }
}

// WithClock overrides the source of entry and snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(vs *VerificationService) { vs.now = now }
}

// NewVerificationService builds the engine and restores persisted state from store.
func NewVerificationService(store storage.Store, cfg Config, opts ...Option) (*VerificationService, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cryptoService := encryption.NewCryptoService(cfg.ProofIDWidth)
	vs := &VerificationService{
		cfg:       cfg,
		store:     store,
		codec:     storage.JSONCodec{},
		logger:    zap.NewNop(),
		now:       time.Now,
		validator: NewStructureValidator(cfg.DIDPrefix, cfg.ProofIDWidth),
		replay:    NewReplayGuard(cfg.ReplayWindow),
		verifier:  NewProofVerifier(cryptoService, cfg.TimestampWindow, cfg.RequireSignature),
		ledger:    NewAuditLedger(cfg.LedgerRetention),
		metrics:   NewMetricsTracker(),
		fallback:  NewFallbackController(cfg.DesyncThreshold),
	}
	for _, opt := range opts {
		opt(vs)
	}

	vs.loadState()

	vs.queue = NewPersistQueue(store, vs.logger, cfg.PersistTimeout)
	vs.queue.Start()

	vs.publishMetrics()
	return vs, nil
}

// loadState restores the ledger and fallback snapshot. Read failures leave the engine empty.
func (vs *VerificationService) loadState() {
	ctx, cancel := context.WithTimeout(context.Background(), vs.cfg.PersistTimeout)
	defer cancel()

	var entries []models.AuditEntry
	if vs.load(ctx, storage.HistoryKey, &entries) {
		vs.ledger.Load(entries)
		vs.metrics.Restore(vs.ledger.Entries())
		vs.replay.Seed(vs.ledger.Tail(vs.cfg.ReplayWindow))
	}

	var snapshot models.FallbackSnapshot
	if vs.load(ctx, storage.FallbackKey, &snapshot) {
		vs.fallback.Restore(&snapshot)
	}

	vs.logger.Info("verification state loaded",
		zap.Int("entries", vs.ledger.Len()),
		zap.String("fallback_state", vs.fallback.State().String()))
}

func (vs *VerificationService) load(ctx context.Context, key string, v any) bool {
	data, err := vs.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		vs.logger.Warn("failed to load persisted state", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := vs.codec.Unmarshal(data, v); err != nil {
		vs.logger.Warn("failed to decode persisted state", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// VerifyVote runs structure, replay and proof checks in order, stopping at the first failure,
// then records the outcome. It never panics; unexpected failures become failed results.
func (vs *VerificationService) VerifyVote(vote *models.Vote, proof *models.Proof) (result *models.VerificationResult) {
	start := time.Now()
	proofID := ""
	if proof != nil {
		proofID = proof.ID
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			vs.logger.Error("verification aborted", zap.String("proof_id", proofID), zap.Any("panic", r))
			result = &models.VerificationResult{
				Valid:            false,
				ProofID:          proofID,
				VerificationTime: time.Since(start).Microseconds(),
				Error:            fmt.Sprintf("verification error: %v", r),
			}
		}
	}()

	outcome, reason := vs.evaluate(vote, proof)
	took := time.Since(start)

	entry := models.AuditEntry{
		ID:               uuid.NewString(),
		ProofID:          proofID,
		VoterDID:         voterOf(vote, proof),
		Timestamp:        vs.now().UnixMilli(),
		VerificationTime: took.Microseconds(),
		Outcome:          outcome,
		Reason:           reason,
	}
	vs.record(entry)
	vs.observe(func(r Recorder) { r.ObserveVerification(outcome, took) })

	return &models.VerificationResult{
		Valid:            outcome == models.OutcomeValid,
		ProofID:          proofID,
		VerificationTime: entry.VerificationTime,
		Error:            reason,
		ReplayDetected:   outcome == models.OutcomeReplayBlocked,
	}
}

// evaluate runs the three stages. A panic inside them is reported as an invalid outcome.
func (vs *VerificationService) evaluate(vote *models.Vote, proof *models.Proof) (outcome models.Outcome, reason string) {
	defer func() {
		if r := recover(); r != nil {
			outcome = models.OutcomeInvalid
			reason = fmt.Sprintf("verification error: %v", r)
		}
	}()

	// 1. Structure
	started := time.Now()
	ok := vs.validator.Validate(proof)
	if took := time.Since(started); took > slowValidation {
		vs.logger.Debug("slow structural validation", zap.Duration("took", took))
	}
	if !ok {
		return models.OutcomeInvalid, "invalid proof structure"
	}

	// 2. Replay window
	if vs.replay.Seen(proof.ID) {
		return models.OutcomeReplayBlocked, "replay attack detected: proof already used"
	}

	// 3. Proof semantics
	if err := vs.verifier.Verify(vote, proof); err != nil {
		return models.OutcomeInvalid, err.Error()
	}

	// The vote's own proof reference is informational; the supplied proof decides
	if vote.ProofID != "" && vote.ProofID != proof.ID {
		vs.logger.Debug("vote references a different proof",
			zap.String("vote_id", vote.ID),
			zap.String("vote_proof_id", vote.ProofID),
			zap.String("proof_id", proof.ID))
	}

	return models.OutcomeValid, ""
}

// record appends the entry, updates counters and, after an ordinary failure, lets the
// fallback controller react. Persistence is queued and never blocks on I/O.
func (vs *VerificationService) record(entry models.AuditEntry) {
	vs.ledger.Append(entry)
	vs.replay.Record(entry.ProofID)
	vs.metrics.Record(entry.Outcome)
	vs.persistLedger()

	if entry.Outcome == models.OutcomeInvalid {
		if vs.fallback.Observe(vs.metrics.DesyncRate(), vs.now()) {
			vs.activateFallback()
		}
	}

	vs.publishMetrics()
}

func (vs *VerificationService) publishMetrics() {
	m := vs.metricsLocked()
	vs.observe(func(r Recorder) { r.SetMetrics(m) })
}

// observe runs a telemetry hook. A failing hook is logged and never changes an outcome
// that has already been recorded.
func (vs *VerificationService) observe(hook func(r Recorder)) {
	if vs.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			vs.logger.Warn("telemetry hook failed", zap.Any("panic", r))
		}
	}()
	hook(vs.recorder)
}

func (vs *VerificationService) persistLedger() {
	data, err := vs.codec.Marshal(vs.ledger.Entries())
	if err != nil {
		vs.logger.Warn("failed to encode ledger", zap.Error(err))
		return
	}
	vs.queue.SaveLatest(storage.HistoryKey, data)
}

func (vs *VerificationService) activateFallback() {
	snapshot := &models.FallbackSnapshot{
		Metrics:     vs.metricsLocked(),
		Entries:     vs.ledger.Tail(vs.cfg.SnapshotEntries),
		Reason:      vs.fallback.Reason(),
		TriggeredAt: vs.fallback.ActivatedAt().UnixMilli(),
	}

	vs.logger.Warn("fallback mode activated",
		zap.Float64("desync_rate", snapshot.Metrics.DesyncRate),
		zap.Float64("threshold", vs.cfg.DesyncThreshold),
		zap.Int("snapshot_entries", len(snapshot.Entries)))

	data, err := vs.codec.Marshal(snapshot)
	if err != nil {
		vs.logger.Warn("failed to encode fallback snapshot", zap.Error(err))
		return
	}

	var then func(ctx context.Context)
	if vs.notifier != nil {
		notifier, logger := vs.notifier, vs.logger
		then = func(ctx context.Context) {
			if err := notifier.PublishFallback(ctx, snapshot); err != nil {
				logger.Warn("failed to publish fallback event", zap.Error(err))
			}
		}
	}
	vs.queue.Save(storage.FallbackKey, data, then)
}

func (vs *VerificationService) metricsLocked() models.Metrics {
	return vs.metrics.Snapshot(vs.ledger, vs.fallback.Activated())
}

// GetMetrics returns a consistent metrics snapshot.
func (vs *VerificationService) GetMetrics() models.Metrics {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.metricsLocked()
}

// GetVaultHistory returns every retained ledger entry, oldest first.
func (vs *VerificationService) GetVaultHistory() []models.AuditEntry {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.ledger.Entries()
}

// GetRecentFailures returns up to n of the newest failed entries, oldest first.
func (vs *VerificationService) GetRecentFailures(n int) []models.AuditEntry {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.ledger.RecentFailures(n)
}

func (vs *VerificationService) FallbackState() FallbackState {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.fallback.State()
}

// ClearVaultHistory resets all in-memory state and removes both persisted records.
// The in-memory reset stands even when a delete fails.
func (vs *VerificationService) ClearVaultHistory(ctx context.Context) error {
	vs.mu.Lock()
	vs.ledger.Reset()
	vs.metrics.Reset()
	vs.replay.Reset()
	vs.fallback.Reset()
	vs.publishMetrics()
	// Queued under the lock so no later ledger save can land before the deletes
	historyDone := vs.queue.Delete(storage.HistoryKey)
	fallbackDone := vs.queue.Delete(storage.FallbackKey)
	vs.mu.Unlock()

	vs.logger.Info("vault history cleared")

	return errors.Join(
		waitResult(ctx, historyDone),
		waitResult(ctx, fallbackDone),
	)
}

// Flush waits for queued persistence to complete.
func (vs *VerificationService) Flush(ctx context.Context) error {
	return vs.queue.Flush(ctx)
}

// Close drains pending writes. The store itself is owned by the caller.
func (vs *VerificationService) Close() error {
	vs.queue.Stop()
	return nil
}

func voterOf(vote *models.Vote, proof *models.Proof) string {
	if vote != nil && vote.VoterDID != "" {
		return vote.VoterDID
	}
	if proof != nil {
		return proof.VoterDID
	}
	return ""
}
