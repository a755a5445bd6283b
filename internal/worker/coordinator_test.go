package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"otp-dispatch-service/internal/config"
	"otp-dispatch-service/internal/metrics"
	"otp-dispatch-service/internal/model"
	"otp-dispatch-service/internal/transport"
)

type fakeRate struct {
	granted bool
	err     error
	calls   int
}

func (f *fakeRate) TryAcquire(ctx context.Context, channel model.Channel) (bool, error) {
	f.calls++
	return f.granted, f.err
}

type fakeTracker struct {
	mu        sync.Mutex
	sequences map[string]int64
	dequeued  []string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{sequences: make(map[string]int64)}
}

func (f *fakeTracker) key(channel model.Channel, identifier string) string {
	return string(channel) + ":" + identifier
}

func (f *fakeTracker) SequenceOf(ctx context.Context, channel model.Channel, identifier string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq, ok := f.sequences[f.key(channel, identifier)]
	if !ok {
		return 0, model.ErrNotFound
	}
	return seq, nil
}

func (f *fakeTracker) Dequeue(ctx context.Context, channel model.Channel, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sequences, f.key(channel, identifier))
	f.dequeued = append(f.dequeued, f.key(channel, identifier))
	return nil
}

type fakeProduct struct {
	sent, throttled, failed int
}

func (f *fakeProduct) RecordSent(ctx context.Context, channel model.Channel) error {
	f.sent++
	return nil
}

func (f *fakeProduct) RecordThrottled(ctx context.Context, channel model.Channel) error {
	f.throttled++
	return nil
}

func (f *fakeProduct) RecordFailed(ctx context.Context, channel model.Channel) error {
	f.failed++
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []model.DispatchJob
}

func (f *fakePublisher) Publish(ctx context.Context, job model.DispatchJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, job)
	return nil
}

func (f *fakePublisher) last(t *testing.T) model.DispatchJob {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.published, "expected a republished job")
	return f.published[len(f.published)-1]
}

type fakeAudit struct {
	mu     sync.Mutex
	events []model.DispatchEvent
}

func (f *fakeAudit) Record(ctx context.Context, ev model.DispatchEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeAudit) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeAudit) last(t *testing.T) model.DispatchEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.events, "expected an audit event")
	return f.events[len(f.events)-1]
}

type fakeSender struct {
	result transport.Result
	calls  int
}

func (f *fakeSender) Send(ctx context.Context, identifier, message string) transport.Result {
	f.calls++
	return f.result
}

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{
		Workers:        1,
		MaxAttempts:    3,
		RateRetryDelay: 200 * time.Millisecond,
		MaxInlineWait:  100 * time.Millisecond,
		RetryBackoff: []time.Duration{
			2 * time.Second,
			10 * time.Second,
			30 * time.Second,
		},
		Limits: map[string]int{"email": 10, "whatsapp": 2},
	}
}

type coordinatorFixture struct {
	coordinator *Coordinator
	rate        *fakeRate
	tracker     *fakeTracker
	product     *fakeProduct
	publisher   *fakePublisher
	sender      *fakeSender
	audit       *fakeAudit
	now         time.Time
}

func newFixture(t *testing.T) *coordinatorFixture {
	t.Helper()

	fx := &coordinatorFixture{
		rate:      &fakeRate{granted: true},
		tracker:   newFakeTracker(),
		product:   &fakeProduct{},
		publisher: &fakePublisher{},
		sender:    &fakeSender{result: transport.Result{Status: transport.StatusSent, ProviderID: "msg-1"}},
		audit:     &fakeAudit{},
		now:       time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}

	ops := metrics.New(prometheus.NewRegistry())
	fx.coordinator = NewCoordinator(
		fx.rate,
		fx.tracker,
		fx.product,
		map[model.Channel]transport.Sender{
			model.ChannelEmail:    fx.sender,
			model.ChannelWhatsApp: fx.sender,
		},
		fx.publisher,
		fx.audit,
		ops,
		testConfig(),
		zap.NewNop(),
	)
	fx.coordinator.now = func() time.Time { return fx.now }
	fx.coordinator.sleep = func(ctx context.Context, d time.Duration) {}
	return fx
}

func (fx *coordinatorFixture) job(channel model.Channel, identifier string, seq int64) model.DispatchJob {
	fx.tracker.sequences[fx.tracker.key(channel, identifier)] = seq
	return model.DispatchJob{
		ID:         "job-1",
		Channel:    channel,
		Identifier: identifier,
		Seq:        seq,
		NotBefore:  fx.now,
		Message:    "Your verification code is 123456.",
		EnqueuedAt: fx.now,
	}
}

func TestCoordinator_SuccessfulSend(t *testing.T) {
	fx := newFixture(t)
	job := fx.job(model.ChannelEmail, "user@example.com", 7)

	fx.coordinator.Process(context.Background(), job)

	assert.Equal(t, 1, fx.sender.calls)
	assert.Equal(t, 1, fx.product.sent)
	assert.Zero(t, fx.product.throttled)
	assert.Contains(t, fx.tracker.dequeued, "email:user@example.com")
	assert.Empty(t, fx.publisher.published)
}

func TestCoordinator_RateDeniedReschedulesWithoutDequeue(t *testing.T) {
	fx := newFixture(t)
	fx.rate.granted = false
	job := fx.job(model.ChannelWhatsApp, "+15551234567", 3)

	fx.coordinator.Process(context.Background(), job)

	// Denied jobs go back to the queue with a delay; the position entry
	// stays so position queries remain accurate, and the denial is never
	// counted as provider throttling.
	assert.Zero(t, fx.sender.calls)
	assert.Zero(t, fx.product.throttled)
	assert.Empty(t, fx.tracker.dequeued)

	republished := fx.publisher.last(t)
	assert.Equal(t, job.Seq, republished.Seq)
	assert.Equal(t, job.Attempt, republished.Attempt)
	assert.Equal(t, fx.now.Add(200*time.Millisecond), republished.NotBefore)
}

func TestCoordinator_StaleJobDiscarded(t *testing.T) {
	fx := newFixture(t)
	job := fx.job(model.ChannelEmail, "user@example.com", 7)
	// A newer request bumped the sequence; the in-flight job is stale.
	fx.tracker.sequences["email:user@example.com"] = 9

	fx.coordinator.Process(context.Background(), job)

	assert.Zero(t, fx.sender.calls)
	assert.Empty(t, fx.tracker.dequeued)
	assert.Empty(t, fx.publisher.published)
}

func TestCoordinator_MissingEntryDiscarded(t *testing.T) {
	fx := newFixture(t)
	job := fx.job(model.ChannelEmail, "user@example.com", 7)
	delete(fx.tracker.sequences, "email:user@example.com")

	fx.coordinator.Process(context.Background(), job)

	assert.Zero(t, fx.sender.calls)
	assert.Empty(t, fx.publisher.published)
}

func TestCoordinator_ProviderThrottleRetriesWithBackoff(t *testing.T) {
	fx := newFixture(t)
	fx.sender.result = transport.Result{Status: transport.StatusThrottled}
	job := fx.job(model.ChannelEmail, "user@example.com", 1)

	fx.coordinator.Process(context.Background(), job)

	assert.Equal(t, 1, fx.product.throttled)
	assert.Zero(t, fx.product.sent)
	// Entry stays pending while retries remain.
	assert.Empty(t, fx.tracker.dequeued)

	republished := fx.publisher.last(t)
	assert.Equal(t, 1, republished.Attempt)
	assert.Equal(t, fx.now.Add(2*time.Second), republished.NotBefore)
}

func TestCoordinator_RetryBackoffClampsToLastEntry(t *testing.T) {
	fx := newFixture(t)
	fx.sender.result = transport.Result{Status: transport.StatusError}

	cfg := testConfig()
	cfg.MaxAttempts = 10
	fx.coordinator.cfg = cfg

	job := fx.job(model.ChannelEmail, "user@example.com", 1)
	job.Attempt = 5

	fx.coordinator.Process(context.Background(), job)

	republished := fx.publisher.last(t)
	assert.Equal(t, 6, republished.Attempt)
	assert.Equal(t, fx.now.Add(30*time.Second), republished.NotBefore)
}

func TestCoordinator_AttemptsExhaustedTerminates(t *testing.T) {
	fx := newFixture(t)
	fx.sender.result = transport.Result{Status: transport.StatusError}
	job := fx.job(model.ChannelEmail, "user@example.com", 1)
	job.Attempt = 2 // third attempt of three

	fx.coordinator.Process(context.Background(), job)

	assert.Equal(t, 1, fx.product.failed)
	// Terminal failure removes the entry so positionOf reports not found.
	assert.Contains(t, fx.tracker.dequeued, "email:user@example.com")
	assert.Empty(t, fx.publisher.published)
}

func TestCoordinator_StaleDiscardAudited(t *testing.T) {
	fx := newFixture(t)
	job := fx.job(model.ChannelEmail, "user@example.com", 7)
	fx.tracker.sequences["email:user@example.com"] = 9

	fx.coordinator.Process(context.Background(), job)

	require.Eventually(t, func() bool { return fx.audit.count() == 1 },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, model.OutcomeStale, fx.audit.last(t).Outcome)
}

func TestCoordinator_ThrottleExhaustedAuditedAsThrottled(t *testing.T) {
	fx := newFixture(t)
	fx.sender.result = transport.Result{Status: transport.StatusThrottled}
	job := fx.job(model.ChannelEmail, "user@example.com", 1)
	job.Attempt = 2 // third attempt of three

	fx.coordinator.Process(context.Background(), job)

	// Giving up after repeated provider throttles is recorded as throttled,
	// not as a generic failure.
	assert.Contains(t, fx.tracker.dequeued, "email:user@example.com")
	require.Eventually(t, func() bool { return fx.audit.count() == 1 },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, model.OutcomeThrottled, fx.audit.last(t).Outcome)
}

func TestCoordinator_StoreUnavailableFailsClosed(t *testing.T) {
	fx := newFixture(t)
	fx.rate.granted = false
	fx.rate.err = model.ErrStoreUnavailable
	job := fx.job(model.ChannelEmail, "user@example.com", 1)

	fx.coordinator.Process(context.Background(), job)

	assert.Zero(t, fx.sender.calls, "unreachable store must never allow a send")
	republished := fx.publisher.last(t)
	assert.Equal(t, job.Attempt, republished.Attempt)
}

func TestCoordinator_FarFutureJobRepublished(t *testing.T) {
	fx := newFixture(t)
	job := fx.job(model.ChannelEmail, "user@example.com", 1)
	job.NotBefore = fx.now.Add(5 * time.Second)

	fx.coordinator.Process(context.Background(), job)

	assert.Zero(t, fx.sender.calls)
	republished := fx.publisher.last(t)
	assert.Equal(t, job.NotBefore, republished.NotBefore)
}

func TestCoordinator_ShortDelayAbsorbedInline(t *testing.T) {
	fx := newFixture(t)
	var slept time.Duration
	fx.coordinator.sleep = func(ctx context.Context, d time.Duration) { slept = d }

	job := fx.job(model.ChannelEmail, "user@example.com", 1)
	job.NotBefore = fx.now.Add(50 * time.Millisecond)

	fx.coordinator.Process(context.Background(), job)

	assert.Equal(t, 50*time.Millisecond, slept)
	assert.Equal(t, 1, fx.sender.calls)
}
