package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"proof-vault/models"
	"proof-vault/storage"
	"proof-vault/storage/mocks"
)

func TestVerifyVoteValid(t *testing.T) {
	vs := newTestService(t, nil)
	vote, proof := makePair("did:civic:abc", "support", baseTime)

	res := vs.VerifyVote(vote, proof)
	if !res.Valid || res.ReplayDetected || res.Error != "" {
		t.Fatalf("expected valid result, got %+v", res)
	}
	if res.ProofID != proof.ID {
		t.Fatalf("result carries wrong proof id %s", res.ProofID)
	}

	history := vs.GetVaultHistory()
	if len(history) != 1 || history[0].Outcome != models.OutcomeValid {
		t.Fatalf("expected one valid entry, got %+v", history)
	}
	if history[0].VoterDID != "did:civic:abc" || history[0].ID == "" {
		t.Fatalf("entry missing details: %+v", history[0])
	}
}

func TestVerifyVoteIdentityMismatch(t *testing.T) {
	vs := newTestService(t, nil)
	vote, proof := makePair("did:civic:abc", "support", baseTime)
	proof.VoterDID = "did:civic:xyz"

	res := vs.VerifyVote(vote, proof)
	if res.Valid || res.ReplayDetected {
		t.Fatalf("expected plain failure, got %+v", res)
	}
	if !strings.Contains(res.Error, "identity mismatch") {
		t.Fatalf("reason should mention identity mismatch: %q", res.Error)
	}
	if m := vs.GetMetrics(); m.InvalidCount != 1 {
		t.Fatalf("expected one invalid verification, got %+v", m)
	}
}

func TestVerifyVoteStructuralFailureIsRecorded(t *testing.T) {
	vs := newTestService(t, nil)
	vote, proof := makePair("did:civic:abc", "support", baseTime)
	proof.ID = "0x1234"

	res := vs.VerifyVote(vote, proof)
	if res.Valid || res.Error != "invalid proof structure" {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := len(vs.GetVaultHistory()); n != 1 {
		t.Fatalf("structural failures must be recorded, got %d entries", n)
	}
}

func TestVerifyVoteNilInputs(t *testing.T) {
	vs := newTestService(t, nil)
	if res := vs.VerifyVote(nil, nil); res.Valid {
		t.Fatal("nil proof must fail")
	}
	_, proof := makePair("did:civic:abc", "support", baseTime)
	res := vs.VerifyVote(nil, proof)
	if res.Valid || !strings.Contains(res.Error, "missing vote") {
		t.Fatalf("nil vote must fail cleanly, got %+v", res)
	}
}

func TestVerifyVoteReplayWithinWindow(t *testing.T) {
	vs := newTestService(t, nil)
	vote, proof := validPair(0)
	if res := vs.VerifyVote(vote, proof); !res.Valid {
		t.Fatalf("first submission should pass: %+v", res)
	}

	// eight intervening verifications keep the original inside the ten-entry window
	for i := 1; i <= 8; i++ {
		v, p := validPair(i)
		vs.VerifyVote(v, p)
	}

	res := vs.VerifyVote(vote, proof)
	if res.Valid || !res.ReplayDetected {
		t.Fatalf("expected replay detection, got %+v", res)
	}

	m := vs.GetMetrics()
	if m.ReplayAttempts != 1 || m.InvalidCount != 0 || m.ValidCount != 9 {
		t.Fatalf("replays must not count as invalid: %+v", m)
	}
	history := vs.GetVaultHistory()
	if last := history[len(history)-1]; last.Outcome != models.OutcomeReplayBlocked {
		t.Fatalf("expected replay_blocked entry, got %s", last.Outcome)
	}
}

func TestVerifyVoteReplayOutsideWindow(t *testing.T) {
	vs := newTestService(t, nil)
	vote, proof := validPair(0)
	vs.VerifyVote(vote, proof)
	for i := 1; i <= 10; i++ {
		v, p := validPair(i)
		vs.VerifyVote(v, p)
	}

	res := vs.VerifyVote(vote, proof)
	if !res.Valid || res.ReplayDetected {
		t.Fatalf("replay older than the window is not detected, got %+v", res)
	}
}

func TestVerifyVoteReplayOfRejectedProof(t *testing.T) {
	vs := newTestService(t, nil)
	vote, proof := invalidPair(0)
	vs.VerifyVote(vote, proof)

	res := vs.VerifyVote(vote, proof)
	if !res.ReplayDetected {
		t.Fatalf("window includes rejected entries, got %+v", res)
	}
}

func TestDesyncRate(t *testing.T) {
	vs := newTestService(t, nil)
	for i := 0; i < 7; i++ {
		v, p := validPair(i)
		vs.VerifyVote(v, p)
	}
	for i := 100; i < 103; i++ {
		v, p := invalidPair(i)
		vs.VerifyVote(v, p)
	}

	m := vs.GetMetrics()
	if m.TotalVerifications != 10 {
		t.Fatalf("expected 10 verifications, got %d", m.TotalVerifications)
	}
	if !approx(m.DesyncRate, 30) {
		t.Fatalf("expected desync 30%%, got %v", m.DesyncRate)
	}
	if !approx(m.SuccessRate, 70) {
		t.Fatalf("expected success 70%%, got %v", m.SuccessRate)
	}
	if m.AverageVerificationTime < 0 {
		t.Fatalf("average must not be negative: %v", m.AverageVerificationTime)
	}
}

func TestFallbackActivatesAndSticks(t *testing.T) {
	store := storage.NewMemoryStore()
	vs := newTestService(t, store)

	for i := 0; i < 8; i++ {
		v, p := validPair(i)
		vs.VerifyVote(v, p)
	}

	v, p := invalidPair(100)
	vs.VerifyVote(v, p)
	if m := vs.GetMetrics(); m.FallbackActivated {
		t.Fatalf("1 of 9 is below the threshold: %+v", m)
	}

	v, p = invalidPair(101)
	vs.VerifyVote(v, p)
	m := vs.GetMetrics()
	if !approx(m.DesyncRate, 20) || !m.FallbackActivated {
		t.Fatalf("2 of 10 should activate fallback: %+v", m)
	}
	if vs.FallbackState() != StateDegraded {
		t.Fatal("controller should be degraded")
	}

	flush(t, vs)
	data, err := store.Get(context.Background(), storage.FallbackKey)
	if err != nil {
		t.Fatalf("fallback snapshot not persisted: %v", err)
	}
	var snapshot models.FallbackSnapshot
	if err := (storage.JSONCodec{}).Unmarshal(data, &snapshot); err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Entries) != 10 || snapshot.Reason == "" || !snapshot.Metrics.FallbackActivated {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.TriggeredAt != baseTime {
		t.Fatalf("snapshot time %d", snapshot.TriggeredAt)
	}

	for i := 200; i < 300; i++ {
		v, p := validPair(i)
		vs.VerifyVote(v, p)
	}
	m = vs.GetMetrics()
	if m.DesyncRate >= 15 || !m.FallbackActivated {
		t.Fatalf("fallback must stay active after recovery of the rate: %+v", m)
	}
}

func TestFallbackSnapshotLimitedToTail(t *testing.T) {
	store := storage.NewMemoryStore()
	vs := newTestService(t, store)
	for i := 0; i < 30; i++ {
		v, p := validPair(i)
		vs.VerifyVote(v, p)
	}
	for i := 100; i < 106; i++ {
		v, p := invalidPair(i)
		vs.VerifyVote(v, p)
	}
	if !vs.GetMetrics().FallbackActivated {
		t.Fatal("6 of 36 should activate fallback")
	}

	flush(t, vs)
	data, _ := store.Get(context.Background(), storage.FallbackKey)
	var snapshot models.FallbackSnapshot
	if err := (storage.JSONCodec{}).Unmarshal(data, &snapshot); err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Entries) != 20 {
		t.Fatalf("snapshot should hold the last 20 entries, got %d", len(snapshot.Entries))
	}
	if snapshot.Entries[19].Outcome != models.OutcomeInvalid {
		t.Fatal("snapshot should end with the triggering entry")
	}
}

func TestReplayDoesNotTriggerFallback(t *testing.T) {
	vs := newTestService(t, nil)
	vote, proof := validPair(0)
	vs.VerifyVote(vote, proof)
	for i := 0; i < 5; i++ {
		vs.VerifyVote(vote, proof)
	}
	m := vs.GetMetrics()
	if m.FallbackActivated || m.ReplayAttempts != 5 || m.DesyncRate != 0 {
		t.Fatalf("replays must not feed the desync rate: %+v", m)
	}
}

func TestLedgerRetention(t *testing.T) {
	vs := newTestService(t, nil)
	var first []string
	for i := 0; i < 105; i++ {
		v, p := validPair(i)
		if i < 5 {
			first = append(first, p.ID)
		}
		vs.VerifyVote(v, p)
	}

	history := vs.GetVaultHistory()
	if len(history) != 100 {
		t.Fatalf("expected 100 entries, got %d", len(history))
	}
	for _, e := range history {
		for _, id := range first {
			if e.ProofID == id {
				t.Fatalf("evicted proof %s still present", id)
			}
		}
	}
	if m := vs.GetMetrics(); m.ValidCount != 105 {
		t.Fatalf("running counters are not bounded by retention: %+v", m)
	}
}

func TestGetRecentFailures(t *testing.T) {
	vs := newTestService(t, nil)
	v, p := invalidPair(0)
	vs.VerifyVote(v, p)
	v, p = validPair(1)
	vs.VerifyVote(v, p)
	vs.VerifyVote(v, p)

	failures := vs.GetRecentFailures(10)
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	if failures[0].Outcome != models.OutcomeInvalid || failures[1].Outcome != models.OutcomeReplayBlocked {
		t.Fatalf("unexpected order %+v", failures)
	}
	if len(vs.GetRecentFailures(1)) != 1 {
		t.Fatal("limit not applied")
	}
}

func TestClearVaultHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	vs := newTestService(t, store)
	for i := 0; i < 3; i++ {
		v, p := invalidPair(i)
		vs.VerifyVote(v, p)
	}
	if !vs.GetMetrics().FallbackActivated {
		t.Fatal("setup should activate fallback")
	}

	if err := vs.ClearVaultHistory(context.Background()); err != nil {
		t.Fatalf("ClearVaultHistory: %v", err)
	}

	if m := vs.GetMetrics(); m != (models.Metrics{SuccessRate: 100}) {
		t.Fatalf("expected initial metrics after clear, got %+v", m)
	}
	if len(vs.GetVaultHistory()) != 0 || vs.FallbackState() != StateNormal {
		t.Fatal("ledger and fallback should be reset")
	}
	for _, key := range []string{storage.HistoryKey, storage.FallbackKey} {
		if _, err := store.Get(context.Background(), key); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("%s should be purged, got %v", key, err)
		}
	}

	// a previously seen proof is no longer a replay
	v, p := invalidPair(0)
	if res := vs.VerifyVote(v, p); res.ReplayDetected {
		t.Fatal("replay window should be cleared")
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	store := storage.NewMemoryStore()
	vs := newTestService(t, store)
	vote, proof := validPair(0)
	vs.VerifyVote(vote, proof)
	for i := 100; i < 102; i++ {
		v, p := invalidPair(i)
		vs.VerifyVote(v, p)
	}
	flush(t, vs)
	before := vs.GetMetrics()

	restarted := newTestService(t, store)
	if got := len(restarted.GetVaultHistory()); got != 3 {
		t.Fatalf("expected 3 restored entries, got %d", got)
	}
	after := restarted.GetMetrics()
	if after.ValidCount != before.ValidCount || after.InvalidCount != before.InvalidCount {
		t.Fatalf("counters not restored: before %+v after %+v", before, after)
	}
	if !after.FallbackActivated || restarted.FallbackState() != StateDegraded {
		t.Fatal("degraded mode should be restored from the snapshot")
	}
	if res := restarted.VerifyVote(vote, proof); !res.ReplayDetected {
		t.Fatal("replay window should be restored from the ledger tail")
	}
}

func TestStateSurvivesRestartWithCBOR(t *testing.T) {
	codec, err := storage.NewCodec("cbor")
	if err != nil {
		t.Fatal(err)
	}
	store := storage.NewMemoryStore()
	vs := newTestService(t, store, WithCodec(codec))
	v, p := validPair(0)
	vs.VerifyVote(v, p)
	flush(t, vs)

	restarted := newTestService(t, store, WithCodec(codec))
	if got := restarted.GetVaultHistory(); len(got) != 1 || got[0].ProofID != p.ID {
		t.Fatalf("unexpected restored history %+v", got)
	}
}

func TestCorruptStateIsIgnored(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Set(context.Background(), storage.HistoryKey, []byte("not json"))
	vs := newTestService(t, store)
	if len(vs.GetVaultHistory()) != 0 {
		t.Fatal("corrupt ledger should leave the engine empty")
	}
}

func TestPersistenceFailureIsNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound).Times(2)
	store.EXPECT().Set(gomock.Any(), storage.HistoryKey, gomock.Any()).Return(errors.New("disk full")).AnyTimes()

	vs := newTestService(t, store)
	v, p := validPair(0)
	res := vs.VerifyVote(v, p)
	if !res.Valid {
		t.Fatalf("persistence failure must not change the outcome: %+v", res)
	}
	flush(t, vs)
	if len(vs.GetVaultHistory()) != 1 {
		t.Fatal("in-memory ledger stays authoritative")
	}
}

func TestClearReportsDeleteFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound).Times(2)
	store.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().Delete(gomock.Any(), storage.HistoryKey).Return(errors.New("unavailable"))
	store.EXPECT().Delete(gomock.Any(), storage.FallbackKey).Return(nil)

	vs := newTestService(t, store)
	v, p := validPair(0)
	vs.VerifyVote(v, p)

	if err := vs.ClearVaultHistory(context.Background()); err == nil {
		t.Fatal("expected delete failure to be reported")
	}
	if len(vs.GetVaultHistory()) != 0 {
		t.Fatal("in-memory state must be reset regardless")
	}
}

type recordingNotifier struct {
	mu        sync.Mutex
	snapshots []*models.FallbackSnapshot
}

func (n *recordingNotifier) PublishFallback(_ context.Context, s *models.FallbackSnapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapshots = append(n.snapshots, s)
	return nil
}

func TestFallbackNotifierCalledOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	vs := newTestService(t, nil, WithNotifier(notifier))
	for i := 0; i < 4; i++ {
		v, p := invalidPair(i)
		vs.VerifyVote(v, p)
	}
	flush(t, vs)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.snapshots) != 1 {
		t.Fatalf("expected a single fallback event, got %d", len(notifier.snapshots))
	}
}

type panickingRecorder struct{}

func (panickingRecorder) ObserveVerification(models.Outcome, time.Duration) { panic("recorder broke") }
func (panickingRecorder) SetMetrics(models.Metrics)                         {}

func TestTelemetryFailureKeepsOutcome(t *testing.T) {
	vs := newTestService(t, nil, WithRecorder(panickingRecorder{}))
	v, p := validPair(0)
	res := vs.VerifyVote(v, p)
	if !res.Valid || res.Error != "" {
		t.Fatalf("a failing telemetry hook must not change the outcome, got %+v", res)
	}

	history := vs.GetVaultHistory()
	if len(history) != 1 || history[0].Outcome != models.OutcomeValid {
		t.Fatalf("ledger should agree with the result, got %+v", history)
	}
	if m := vs.GetMetrics(); m.ValidCount != 1 || m.InvalidCount != 0 {
		t.Fatalf("metrics should agree with the result, got %+v", m)
	}
}

// panickingCodec fails while the ledger is being encoded for persistence.
type panickingCodec struct{ storage.JSONCodec }

func (panickingCodec) Marshal(any) ([]byte, error) { panic("codec broke") }

func TestVerifyVoteRecoversFromInternalPanics(t *testing.T) {
	vs := newTestService(t, nil, WithCodec(panickingCodec{}))
	v, p := validPair(0)
	res := vs.VerifyVote(v, p)
	if res.Valid || !strings.Contains(res.Error, "codec broke") {
		t.Fatalf("panic should become a failed result, got %+v", res)
	}

	// the lock must have been released
	done := make(chan struct{})
	go func() {
		vs.GetMetrics()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("service left locked after panic")
	}
}

func TestVerifyVoteDoesNotWaitForStore(t *testing.T) {
	store := newGatedStore()
	vs := newTestService(t, store)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			v, p := validPair(i)
			vs.VerifyVote(v, p)
		}
		for i := 100; i < 110; i++ {
			v, p := invalidPair(i)
			vs.VerifyVote(v, p)
		}
		vs.GetMetrics()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		close(store.release)
		t.Fatal("verification blocked behind a stalled store")
	}

	close(store.release)
	flush(t, vs)

	data, err := store.Get(context.Background(), storage.HistoryKey)
	if err != nil {
		t.Fatal(err)
	}
	var entries []models.AuditEntry
	if err := (storage.JSONCodec{}).Unmarshal(data, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 60 {
		t.Fatalf("newest ledger should be persisted, got %d entries", len(entries))
	}
	if _, err := store.Get(context.Background(), storage.FallbackKey); err != nil {
		t.Fatalf("fallback snapshot must not be dropped: %v", err)
	}
}

func TestVerifyVoteLogsForeignProofReference(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	vs := newTestService(t, nil, WithLogger(zap.New(core)))

	v, p := validPair(0)
	_, other := validPair(1)
	v.ProofID = other.ID
	if res := vs.VerifyVote(v, p); !res.Valid {
		t.Fatalf("the supplied proof decides validity, got %+v", res)
	}
	if logs.FilterMessage("vote references a different proof").Len() != 1 {
		t.Fatal("expected a debug line for the mismatched reference")
	}
}

func TestVerifyVoteRejectsOverflowingTimestamps(t *testing.T) {
	vs := newTestService(t, nil)
	v, p := makePair("did:civic:abc", "support", math.MaxInt64)
	v.Timestamp = -1
	res := vs.VerifyVote(v, p)
	if res.Valid || !strings.Contains(res.Error, "timestamp out of range") {
		t.Fatalf("expected timestamp rejection, got %+v", res)
	}
}

func TestConcurrentVerification(t *testing.T) {
	vs := newTestService(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, p := validPair(i)
			vs.VerifyVote(v, p)
		}(i)
	}
	wg.Wait()

	m := vs.GetMetrics()
	if m.ValidCount != 50 || len(vs.GetVaultHistory()) != 50 {
		t.Fatalf("expected 50 serialized verifications, got %+v", m)
	}
}

func TestNewVerificationServiceRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReplayWindow = 0
	if _, err := NewVerificationService(storage.NewMemoryStore(), cfg); err == nil {
		t.Fatal("expected config error")
	}
	if _, err := NewVerificationService(nil, DefaultConfig()); err == nil {
		t.Fatal("expected missing store error")
	}
}
