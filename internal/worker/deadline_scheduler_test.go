package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/danyuan/approvalflow/internal/application/workflow"
	"github.com/danyuan/approvalflow/internal/domain/entity"
	domainwf "github.com/danyuan/approvalflow/internal/domain/workflow"
)

type fakeRequestRepo struct {
	mu      sync.Mutex
	overdue []*entity.RequestInstance
	listErr error
}

func (f *fakeRequestRepo) Create(ctx context.Context, request *entity.RequestInstance) error {
	return nil
}

func (f *fakeRequestRepo) GetByID(ctx context.Context, id string) (*entity.RequestInstance, error) {
	return nil, domainwf.ErrNotFound
}

func (f *fakeRequestRepo) Update(ctx context.Context, request *entity.RequestInstance) error {
	return nil
}

func (f *fakeRequestRepo) List(ctx context.Context, limit, offset int) ([]*entity.RequestInstance, error) {
	return nil, nil
}

func (f *fakeRequestRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.RequestInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.overdue) > limit {
		return f.overdue[:limit], nil
	}
	return f.overdue, nil
}

// fakeEngine records escalate calls; only Escalate is exercised by the scheduler
type fakeEngine struct {
	mu           sync.Mutex
	escalated    []string
	escalateErrs map[string]error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{escalateErrs: make(map[string]error)}
}

func (f *fakeEngine) Submit(ctx context.Context, input workflow.SubmitInput) (*entity.RequestInstance, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEngine) Decide(ctx context.Context, requestID string, action entity.StepAction, actor workflow.Actor) (*entity.RequestInstance, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEngine) Cancel(ctx context.Context, requestID string, actor workflow.Actor) (*entity.RequestInstance, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEngine) Escalate(ctx context.Context, requestID string) (*entity.RequestInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.escalateErrs[requestID]; err != nil {
		return nil, err
	}
	f.escalated = append(f.escalated, requestID)
	return &entity.RequestInstance{ID: requestID}, nil
}

func (f *fakeEngine) Get(ctx context.Context, requestID string) (*entity.RequestInstance, error) {
	return nil, domainwf.ErrNotFound
}

func (f *fakeEngine) escalatedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.escalated...)
}

func overdueRequest(id string) *entity.RequestInstance {
	deadline := time.Now().Add(-time.Hour)
	return &entity.RequestInstance{
		ID:          id,
		Status:      domainwf.StatePending,
		SLADeadline: &deadline,
	}
}

func TestDeadlineScheduler_SweepEscalatesOverdue(t *testing.T) {
	repo := &fakeRequestRepo{
		overdue: []*entity.RequestInstance{overdueRequest("req-1"), overdueRequest("req-2")},
	}
	engine := newFakeEngine()
	scheduler := NewDeadlineScheduler(repo, engine, zap.NewNop())

	scheduler.Sweep(context.Background())

	got := engine.escalatedIDs()
	if len(got) != 2 || got[0] != "req-1" || got[1] != "req-2" {
		t.Errorf("escalated %v, want [req-1 req-2]", got)
	}
}

func TestDeadlineScheduler_SweepEmptySet(t *testing.T) {
	repo := &fakeRequestRepo{}
	engine := newFakeEngine()
	scheduler := NewDeadlineScheduler(repo, engine, zap.NewNop())

	scheduler.Sweep(context.Background())

	if len(engine.escalatedIDs()) != 0 {
		t.Error("no escalations expected for an empty overdue set")
	}
}

func TestDeadlineScheduler_SweepContinuesPastFailures(t *testing.T) {
	repo := &fakeRequestRepo{
		overdue: []*entity.RequestInstance{
			overdueRequest("req-1"),
			overdueRequest("req-2"),
			overdueRequest("req-3"),
		},
	}
	engine := newFakeEngine()
	engine.escalateErrs["req-2"] = errors.New("storage unavailable")
	scheduler := NewDeadlineScheduler(repo, engine, zap.NewNop())

	scheduler.Sweep(context.Background())

	got := engine.escalatedIDs()
	if len(got) != 2 || got[0] != "req-1" || got[1] != "req-3" {
		t.Errorf("escalated %v, want [req-1 req-3]", got)
	}
}

func TestDeadlineScheduler_SweepToleratesListError(t *testing.T) {
	repo := &fakeRequestRepo{listErr: errors.New("query failed")}
	engine := newFakeEngine()
	scheduler := NewDeadlineScheduler(repo, engine, zap.NewNop())

	scheduler.Sweep(context.Background())

	if len(engine.escalatedIDs()) != 0 {
		t.Error("no escalations expected when the overdue query fails")
	}
}

func TestDeadlineScheduler_BatchSizeCapsSweep(t *testing.T) {
	repo := &fakeRequestRepo{
		overdue: []*entity.RequestInstance{
			overdueRequest("req-1"),
			overdueRequest("req-2"),
			overdueRequest("req-3"),
		},
	}
	engine := newFakeEngine()
	scheduler := NewDeadlineScheduler(repo, engine, zap.NewNop(), WithBatchSize(2))

	scheduler.Sweep(context.Background())

	if got := engine.escalatedIDs(); len(got) != 2 {
		t.Errorf("escalated %d requests, want batch size cap of 2", len(got))
	}
}

func TestDeadlineScheduler_StartStop(t *testing.T) {
	repo := &fakeRequestRepo{overdue: []*entity.RequestInstance{overdueRequest("req-1")}}
	engine := newFakeEngine()
	scheduler := NewDeadlineScheduler(repo, engine, zap.NewNop(),
		WithSweepInterval(10*time.Millisecond))

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := scheduler.Start(context.Background()); err == nil {
		t.Error("second Start() should fail while running")
	}

	// Initial sweep fires immediately on start
	deadline := time.After(time.Second)
	for len(engine.escalatedIDs()) == 0 {
		select {
		case <-deadline:
			t.Fatal("initial sweep never ran")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	scheduler.Stop()
	scheduler.Stop() // idempotent

	if scheduler.Name() != "DeadlineScheduler" {
		t.Errorf("Name() = %q", scheduler.Name())
	}
}
