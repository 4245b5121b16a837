package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dakota002/gcn.nasa.gov/internal/allocator"
	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
	"github.com/dakota002/gcn.nasa.gov/internal/mailparse"
	"github.com/dakota002/gcn.nasa.gov/internal/policy"
	"github.com/dakota002/gcn.nasa.gov/internal/repository/memory"
	"github.com/dakota002/gcn.nasa.gov/internal/validation"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

type mockObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	errs    map[string]error
	getFunc func(ctx context.Context, bucket, key string) ([]byte, error)
	fetched []string
}

func (m *mockObjectStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	m.fetched = append(m.fetched, key)
	data, err := m.objects[key], m.errs[key]
	m.mu.Unlock()

	if m.getFunc != nil {
		return m.getFunc(ctx, bucket, key)
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("no such object %s", key)
	}
	return data, nil
}

func (m *mockObjectStore) Fetched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fetched...)
}

type notification struct {
	template   string
	recipient  string
	circularID uint64
}

type mockNotifier struct {
	mu      sync.Mutex
	sent    []notification
	sendErr error
}

func (m *mockNotifier) record(n notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.sendErr
}

func (m *mockNotifier) NotifyInvalidFormat(ctx context.Context, recipient string) error {
	return m.record(notification{template: "invalid_format", recipient: recipient})
}

func (m *mockNotifier) NotifyMissingPermission(ctx context.Context, recipient string) error {
	return m.record(notification{template: "missing_permission", recipient: recipient})
}

func (m *mockNotifier) NotifySuccess(ctx context.Context, recipient string, circularID uint64) error {
	return m.record(notification{template: "success", recipient: recipient, circularID: circularID})
}

func (m *mockNotifier) Sent() []notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notification(nil), m.sent...)
}

type mockPublisher struct {
	mu          sync.Mutex
	publishFunc func(ctx context.Context, c *entity.Circular) error
	published   []uint64
}

func (m *mockPublisher) PublishCircular(ctx context.Context, c *entity.Circular) error {
	m.mu.Lock()
	m.published = append(m.published, c.CircularID)
	m.mu.Unlock()
	if m.publishFunc != nil {
		return m.publishFunc(ctx, c)
	}
	return nil
}

type mockFaultReporter struct {
	mu         sync.Mutex
	publishErr error
	faults     []entity.FaultRecord
}

func (m *mockFaultReporter) PublishFault(ctx context.Context, fault *entity.FaultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, *fault)
	return m.publishErr
}

func (m *mockFaultReporter) Faults() []entity.FaultRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.FaultRecord(nil), m.faults...)
}

type mockPinger struct {
	pingFunc func(ctx context.Context) error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	if m.pingFunc != nil {
		return m.pingFunc(ctx)
	}
	return nil
}

type fixture struct {
	objects   *mockObjectStore
	notifier  *mockNotifier
	store     *memory.Store
	directory *memory.Directory
	allocator *allocator.Allocator
	uc        *IngestUseCase
}

var fixedNow = time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	log := logger.NewNop()
	directory := memory.NewDirectory()
	directory.AddMember(policy.DefaultSubmitterGroup, entity.DirectoryUser{
		Username: "alice",
		Attributes: map[string]string{
			"sub":                "sub-alice",
			"email":              "alice@example.com",
			"name":               "Alice Example",
			"custom:affiliation": "NASA GSFC",
		},
	})

	store := memory.NewStore()
	cfg := allocator.DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.MaxAttempts = 1000
	alloc := allocator.New(store, cfg, log)

	f := &fixture{
		objects:   &mockObjectStore{objects: map[string][]byte{}, errs: map[string]error{}},
		notifier:  &mockNotifier{},
		store:     store,
		directory: directory,
		allocator: alloc,
	}

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	f.uc = NewIngestUseCase(
		f.objects,
		mailparse.NewParser(),
		policy.NewValidator(directory, validation.NewRules(nil), "", log),
		alloc,
		f.notifier,
		log,
		opts...,
	)
	return f
}

func rawEmail(from, subject, body string) []byte {
	return []byte(strings.Join([]string{
		"From: " + from,
		"To: circulars@example.com",
		"Subject: " + subject,
		"",
		body,
	}, "\r\n"))
}

func putEvent(key string) entity.IncomingEvent {
	return entity.IncomingEvent{Bucket: "inbox", Key: key, EventName: "ObjectCreated:Put"}
}

func TestHandleBatch_AuthorizedSubmission(t *testing.T) {
	publisher := &mockPublisher{}
	f := newFixture(t, WithPublisher(publisher))
	f.objects.objects["msg1"] = rawEmail("Alice <alice@example.com>", "GRB 230101A: Swift detection", "We observed GRB 230101A.")

	err := f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("msg1")})
	require.NoError(t, err)

	records := f.store.Records("circulars")
	require.Len(t, records, 1)
	assert.Equal(t, entity.Circular{
		CircularID: 1,
		CreatedOn:  fixedNow.UnixMilli(),
		Subject:    "GRB 230101A: Swift detection",
		Body:       "We observed GRB 230101A.",
		Sub:        "sub-alice",
		Submitter:  "Alice Example at NASA GSFC <alice@example.com>",
	}, records[0])

	assert.Equal(t, []notification{{template: "success", recipient: "alice@example.com", circularID: 1}}, f.notifier.Sent())
	assert.Equal(t, []uint64{1}, publisher.published)
}

func TestHandleBatch_InvalidSubjectRejected(t *testing.T) {
	f := newFixture(t)
	f.objects.objects["msg1"] = rawEmail("alice@example.com", "Lunch on Friday?", "body")

	err := f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("msg1")})
	require.NoError(t, err)

	assert.Empty(t, f.store.Records("circulars"))
	assert.Equal(t, []notification{{template: "invalid_format", recipient: "alice@example.com"}}, f.notifier.Sent())
}

func TestHandleBatch_FormatCheckedBeforePermission(t *testing.T) {
	f := newFixture(t)
	f.objects.objects["msg1"] = rawEmail("stranger@example.com", "no keyword", "body")

	require.NoError(t, f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("msg1")}))

	assert.Equal(t, []notification{{template: "invalid_format", recipient: "stranger@example.com"}}, f.notifier.Sent())
}

func TestHandleBatch_UnauthorizedSenderRejected(t *testing.T) {
	f := newFixture(t)
	f.objects.objects["msg1"] = rawEmail("stranger@example.com", "GRB 230101A: Swift detection", "body")

	err := f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("msg1")})
	require.NoError(t, err)

	assert.Empty(t, f.store.Records("circulars"))
	assert.Equal(t, []notification{{template: "missing_permission", recipient: "stranger@example.com"}}, f.notifier.Sent())
}

func TestHandleBatch_PartialFailure(t *testing.T) {
	f := newFixture(t)
	fetchErr := errors.New("connection reset by peer")
	for i := 1; i <= 5; i++ {
		key := fmt.Sprintf("msg%d", i)
		f.objects.objects[key] = rawEmail("alice@example.com", "GRB 230101A: report "+key, "body "+key)
	}
	f.objects.errs["msg3"] = fetchErr

	events := make([]entity.IncomingEvent, 0, 5)
	for i := 1; i <= 5; i++ {
		events = append(events, putEvent(fmt.Sprintf("msg%d", i)))
	}

	err := f.uc.HandleBatch(context.Background(), events)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Faults, 1)
	assert.Equal(t, "msg3", batchErr.Faults[0].Event.Key)
	assert.ErrorIs(t, err, fetchErr)
	assert.NotEmpty(t, batchErr.BatchID)

	records := f.store.Records("circulars")
	assert.Len(t, records, 4)

	sent := f.notifier.Sent()
	require.Len(t, sent, 4)
	ids := map[uint64]bool{}
	for _, n := range sent {
		assert.Equal(t, "success", n.template)
		ids[n.circularID] = true
	}
	assert.Equal(t, map[uint64]bool{1: true, 2: true, 3: true, 4: true}, ids)
}

func TestHandleBatch_NonPutEventsNeverFetched(t *testing.T) {
	f := newFixture(t)
	f.objects.objects["msg1"] = rawEmail("alice@example.com", "GRB 230101A", "body")

	events := []entity.IncomingEvent{
		{Bucket: "inbox", Key: "deleted", EventName: "ObjectRemoved:Delete"},
		{Bucket: "inbox", Key: "copied", EventName: "ObjectCreated:Copy"},
		{Bucket: "inbox", Key: "msg1", EventName: "s3:ObjectCreated:Put"},
	}

	require.NoError(t, f.uc.HandleBatch(context.Background(), events))

	assert.Equal(t, []string{"msg1"}, f.objects.Fetched())
	assert.Len(t, f.store.Records("circulars"), 1)
}

func TestHandleBatch_EmptyBatch(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.uc.HandleBatch(context.Background(), nil))
	assert.Empty(t, f.objects.Fetched())
}

func TestHandleBatch_NotConfigured(t *testing.T) {
	f := newFixture(t)
	cfg := allocator.DefaultConfig()
	cfg.RecordTable = ""
	f.uc.allocator = allocator.New(f.store, cfg, logger.NewNop())
	f.objects.objects["msg1"] = rawEmail("alice@example.com", "GRB 230101A", "body")

	err := f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("msg1")})

	assert.ErrorIs(t, err, ErrNotConfigured)
	var batchErr *BatchError
	assert.False(t, errors.As(err, &batchErr))
	assert.Empty(t, f.objects.Fetched())
	assert.Empty(t, f.notifier.Sent())
}

func TestHandleBatch_Faults(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		check func(t *testing.T, err error)
	}{
		{
			name: "empty object",
			setup: func(f *fixture) {
				f.objects.errs["msg1"] = errors.New("object is empty")
			},
		},
		{
			name: "unparsable message",
			setup: func(f *fixture) {
				f.objects.objects["msg1"] = []byte("this is not an email\r\n\r\nbody")
			},
			check: func(t *testing.T, err error) {
				var parseErr *mailparse.ParseError
				assert.ErrorAs(t, err, &parseErr)
			},
		},
		{
			name: "missing sender",
			setup: func(f *fixture) {
				f.objects.objects["msg1"] = []byte("Subject: GRB 230101A\r\n\r\nbody")
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, mailparse.ErrFromAddressMissing)
			},
		},
		{
			name: "directory error",
			setup: func(f *fixture) {
				f.objects.objects["msg1"] = rawEmail("alice@example.com", "GRB 230101A", "body")
				f.directory.Err = errors.New("directory unavailable")
			},
		},
		{
			name: "store error",
			setup: func(f *fixture) {
				f.objects.objects["msg1"] = rawEmail("alice@example.com", "GRB 230101A", "body")
				f.store.FailCommit = errors.New("table unavailable")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			err := f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("msg1")})

			var batchErr *BatchError
			require.ErrorAs(t, err, &batchErr)
			require.Len(t, batchErr.Faults, 1)
			assert.Empty(t, f.notifier.Sent(), "faults never notify the submitter")
			assert.Empty(t, f.store.Records("circulars"))
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestHandleBatch_NotificationFailureIsFault(t *testing.T) {
	tests := []struct {
		name        string
		subject     string
		from        string
		wantRecords int
	}{
		{"rejection notice", "no keyword", "alice@example.com", 0},
		{"permission notice", "GRB 230101A", "stranger@example.com", 0},
		{"confirmation", "GRB 230101A", "alice@example.com", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.notifier.sendErr = errors.New("554 transaction failed")
			f.objects.objects["msg1"] = rawEmail(tt.from, tt.subject, "body")

			err := f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("msg1")})

			var batchErr *BatchError
			require.ErrorAs(t, err, &batchErr)
			assert.ErrorIs(t, err, f.notifier.sendErr)
			assert.Len(t, f.store.Records("circulars"), tt.wantRecords)
		})
	}
}

func TestHandleBatch_ReportsFaults(t *testing.T) {
	reporter := &mockFaultReporter{}
	f := newFixture(t, WithFaultReporter(reporter))
	f.notifier.sendErr = errors.New("554 transaction failed")
	f.objects.objects["unsent"] = rawEmail("alice@example.com", "GRB 230101A", "body")
	f.objects.errs["lost"] = errors.New("connection reset by peer")

	err := f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("unsent"), putEvent("lost")})

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Faults, 2)

	faults := reporter.Faults()
	require.Len(t, faults, 2)

	byKey := map[string]entity.FaultRecord{}
	for _, fr := range faults {
		assert.Equal(t, batchErr.BatchID, fr.BatchID)
		assert.Equal(t, "inbox", fr.Bucket)
		assert.Equal(t, "ObjectCreated:Put", fr.EventName)
		assert.Equal(t, fixedNow.UnixMilli(), fr.FailedOn)
		byKey[fr.Key] = fr
	}

	require.Contains(t, byKey, "lost")
	assert.Zero(t, byKey["lost"].CircularID)
	assert.Contains(t, byKey["lost"].Error, "connection reset by peer")

	require.Contains(t, byKey, "unsent")
	assert.Equal(t, uint64(1), byKey["unsent"].CircularID, "a fault after creation names the circular")
	assert.Contains(t, byKey["unsent"].Error, "554 transaction failed")
}

func TestHandleBatch_FaultReportFailureKeepsBatchError(t *testing.T) {
	reporter := &mockFaultReporter{publishErr: errors.New("nats: connection closed")}
	f := newFixture(t, WithFaultReporter(reporter))
	f.objects.errs["lost"] = errors.New("connection reset by peer")

	err := f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("lost")})

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.NotErrorIs(t, err, reporter.publishErr)
	assert.Len(t, reporter.Faults(), 1)
}

func TestHandleBatch_NoFaultsNoReports(t *testing.T) {
	reporter := &mockFaultReporter{}
	f := newFixture(t, WithFaultReporter(reporter))
	f.objects.objects["ok"] = rawEmail("alice@example.com", "GRB 230101A", "body")

	require.NoError(t, f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("ok")}))
	assert.Empty(t, reporter.Faults())
}

func TestHandleBatch_PublishFailureIsNotFault(t *testing.T) {
	publisher := &mockPublisher{
		publishFunc: func(ctx context.Context, c *entity.Circular) error {
			return errors.New("nats: connection closed")
		},
	}
	f := newFixture(t, WithPublisher(publisher))
	f.objects.objects["msg1"] = rawEmail("alice@example.com", "GRB 230101A", "body")

	require.NoError(t, f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("msg1")}))

	assert.Len(t, f.store.Records("circulars"), 1)
	assert.Len(t, f.notifier.Sent(), 1)
}

func TestHandleBatch_PanicIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.objects.objects["ok"] = rawEmail("alice@example.com", "GRB 230101A", "body")
	f.objects.getFunc = func(ctx context.Context, bucket, key string) ([]byte, error) {
		if key == "boom" {
			panic("unexpected nil")
		}
		return f.objects.objects[key], nil
	}

	err := f.uc.HandleBatch(context.Background(), []entity.IncomingEvent{putEvent("boom"), putEvent("ok")})

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Faults, 1)
	assert.Equal(t, "boom", batchErr.Faults[0].Event.Key)
	assert.Len(t, f.store.Records("circulars"), 1)
}

func TestHandleBatch_ConcurrentItemsGetDistinctIDs(t *testing.T) {
	f := newFixture(t)
	const n = 25
	events := make([]entity.IncomingEvent, 0, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("msg%d", i)
		f.objects.objects[key] = rawEmail("alice@example.com", "GRB 230101A", "body")
		events = append(events, putEvent(key))
	}

	require.NoError(t, f.uc.HandleBatch(context.Background(), events))

	records := f.store.Records("circulars")
	require.Len(t, records, n)
	for i, r := range records {
		assert.Equal(t, uint64(i+1), r.CircularID)
	}
}

func TestHandleEvent_Outcomes(t *testing.T) {
	f := newFixture(t)
	f.objects.objects["ok"] = rawEmail("alice@example.com", "GRB 230101A", "body")
	f.objects.objects["bad"] = rawEmail("alice@example.com", "hello", "body")
	f.objects.objects["denied"] = rawEmail("eve@example.com", "GRB 230101A", "body")
	ctx := context.Background()

	res := f.uc.HandleEvent(ctx, putEvent("ok"))
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, uint64(1), res.CircularID)
	assert.NoError(t, res.Err)

	assert.Equal(t, OutcomeRejectedFormat, f.uc.HandleEvent(ctx, putEvent("bad")).Outcome)
	assert.Equal(t, OutcomeRejectedPermission, f.uc.HandleEvent(ctx, putEvent("denied")).Outcome)

	missing := f.uc.HandleEvent(ctx, putEvent("missing"))
	assert.Equal(t, OutcomeFault, missing.Outcome)
	assert.Error(t, missing.Err)

	skipped := f.uc.HandleEvent(ctx, entity.IncomingEvent{Bucket: "inbox", Key: "ok", EventName: "ObjectRemoved:Delete"})
	assert.Equal(t, OutcomeSkipped, skipped.Outcome)
}

func TestHealthCheck(t *testing.T) {
	storeErr := errors.New("connection refused")
	f := newFixture(t,
		WithHealthCheck("record store", &mockPinger{}),
		WithHealthCheck("object store", &mockPinger{pingFunc: func(ctx context.Context) error { return storeErr }}),
	)

	err := f.uc.HealthCheck(context.Background())
	assert.ErrorIs(t, err, storeErr)
	assert.Contains(t, err.Error(), "object store unhealthy")

	healthy := newFixture(t, WithHealthCheck("record store", &mockPinger{}))
	assert.NoError(t, healthy.uc.HealthCheck(context.Background()))
}

func TestBatchError_Message(t *testing.T) {
	err := &BatchError{
		BatchID: "b1",
		Faults: []*ItemFault{
			{Event: putEvent("a"), Err: errors.New("boom")},
			{Event: putEvent("b"), Err: errors.New("bang")},
		},
	}

	assert.Equal(t, "batch b1: 2 item(s) failed: inbox/a: boom; inbox/b: bang", err.Error())
}
