package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/proctor/internal/branch"
	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/navigation"
	"github.com/felixgeelhaar/proctor/internal/offline"
	"github.com/felixgeelhaar/proctor/internal/restoration"
)

// Options wires a Service.
type Options struct {
	Executions ExecutionStore
	States     restoration.StateStore
	Maps       TestMapProvider
	Navigator  *navigation.Navigator

	// Backups receives a copy of every state write (optional).
	Backups BackupWriter
	// Restorer enables Restore (optional).
	Restorer *restoration.Service

	Logger *slog.Logger
	Now    func() time.Time
}

// Service manages delivery executions. Operations on one execution are
// exclusive: a call made while another is running for the same execution
// fails with domain.ErrMoveInProgress instead of waiting.
type Service struct {
	executions ExecutionStore
	states     restoration.StateStore
	backups    BackupWriter
	maps       TestMapProvider
	nav        *navigation.Navigator
	builder    *offline.Builder
	reconciler *offline.Reconciler
	restorer   *restoration.Service
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	pending  map[string]*pendingMove
	inflight map[string]*Execution
}

// pendingMove is a move held back by the timed-section guard. Blocked moves
// are kept in memory only; after a restart the client issues the move again.
type pendingMove struct {
	move      *navigation.Pending
	itemID    string
	responses map[string][]string
}

// NewService creates a new execution service
func NewService(opts Options) *Service {
	s := &Service{
		executions: opts.Executions,
		states:     opts.States,
		backups:    opts.Backups,
		maps:       opts.Maps,
		nav:        opts.Navigator,
		restorer:   opts.Restorer,
		logger:     opts.Logger,
		now:        opts.Now,
		locks:      make(map[string]*sync.Mutex),
		pending:    make(map[string]*pendingMove),
		inflight:   make(map[string]*Execution),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.builder = offline.NewBuilder(s.nav, s.logger)
	s.reconciler = offline.NewReconciler(s.nav, s.logger)
	return s
}

// StartRequest contains data for starting an execution
type StartRequest struct {
	UserID string
	TestID string
}

// MoveRequest is a navigation request. Responses are the response
// variables of the current item, recorded before the move and visible to
// branch rules.
type MoveRequest struct {
	Direction domain.Direction
	Scope     domain.Scope
	Position  int
	Responses map[string][]string
}

// Start creates an execution positioned on the first item of the test
func (s *Service) Start(ctx context.Context, req StartRequest) (*Execution, error) {
	if req.UserID == "" || req.TestID == "" {
		return nil, fmt.Errorf("%w: user and test are required", domain.ErrInvalidInput)
	}
	m, err := s.maps.Get(ctx, req.TestID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	st, err := s.nav.Start(ctx, id, m)
	if err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}

	now := s.now()
	exec := &Execution{
		ID:        id,
		UserID:    req.UserID,
		TestID:    req.TestID,
		Status:    StatusActive,
		State:     st,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.save(ctx, exec); err != nil {
		return nil, err
	}

	s.logger.Info("execution started",
		"execution_id", id,
		"user_id", req.UserID,
		"test_id", req.TestID,
		"item", st.Context.ItemIdentifier)
	return exec, nil
}

// Get retrieves an execution with its state
func (s *Service) Get(ctx context.Context, id string) (*Execution, error) {
	exec, _, err := s.load(ctx, id)
	return exec, err
}

// Move navigates an execution. A move leaving a timed section comes back
// with a Confirmation and changes nothing until Confirm is called.
func (s *Service) Move(ctx context.Context, id string, req MoveRequest) (*MoveResult, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if s.pendingFor(id) != nil {
		return nil, ErrConfirmationPending
	}

	exec, m, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Finished() {
		return nil, domain.ErrEndOfTest
	}

	itemID := exec.State.Context.ItemIdentifier
	exec.withResponses(itemID, req.Responses)
	st := s.checkTimer(exec.State, m)
	defer s.track(exec)()

	out, err := s.nav.Move(ctx, navigation.Request{
		Direction: req.Direction,
		Scope:     req.Scope,
		Position:  req.Position,
		Responses: responseStore(exec, m),
	}, st, m)
	if err != nil {
		return nil, err
	}

	if out.Blocked() {
		s.setPending(id, &pendingMove{move: out.Pending, itemID: itemID, responses: req.Responses})
		return &MoveResult{Execution: exec, Confirmation: out.Confirmation()}, nil
	}
	return s.apply(ctx, exec, out, itemID)
}

// Confirm settles a move waiting for a timed-section confirmation. Declining
// leaves the execution exactly as it was before the move.
func (s *Service) Confirm(ctx context.Context, id string, accept bool) (*MoveResult, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	pm := s.pendingFor(id)
	if pm == nil {
		return nil, domain.ErrNoPendingMove
	}

	exec, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !accept {
		if _, err := pm.move.Decline(); err != nil {
			return nil, err
		}
		s.setPending(id, nil)
		s.logger.Info("timed section exit declined", "execution_id", id)
		return &MoveResult{Execution: exec}, nil
	}

	exec.withResponses(pm.itemID, pm.responses)
	defer s.track(exec)()
	out, err := pm.move.Accept(ctx)
	if err != nil {
		return nil, err
	}
	s.setPending(id, nil)
	return s.apply(ctx, exec, out, pm.itemID)
}

// MarkEndWarningShown records that the client displayed the end-of-test
// warning, so leaving a timed last section needs no further confirmation.
func (s *Service) MarkEndWarningShown(ctx context.Context, id string) (*Execution, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	exec, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	exec.State.Context = exec.State.Context.WithEndWarningShown(true)
	if err := s.save(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// SetExtended stores auxiliary client state with the execution.
func (s *Service) SetExtended(ctx context.Context, id string, values map[string]string) (*Execution, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	exec, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ext := make(map[string]string, len(exec.Extended)+len(values))
	for k, v := range exec.Extended {
		ext[k] = v
	}
	for k, v := range values {
		ext[k] = v
	}
	exec.Extended = ext

	w := writeSet{}
	if err := w.put(restoration.ExtendedKey(exec.ID), ext); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, exec, w); err != nil {
		return nil, err
	}
	return exec, nil
}

// Restore rebuilds an execution's state from its backups. A move waiting
// for confirmation is dropped.
func (s *Service) Restore(ctx context.Context, id string) (restoration.Report, error) {
	if s.restorer == nil {
		return restoration.Report{}, errors.New("restoration is not configured")
	}
	unlock, err := s.lock(id)
	if err != nil {
		return restoration.Report{}, err
	}
	defer unlock()

	exec, err := s.executions.Get(ctx, id)
	if err != nil {
		return restoration.Report{}, err
	}
	m, err := s.maps.Get(ctx, exec.TestID)
	if err != nil {
		return restoration.Report{}, err
	}

	s.setPending(id, nil)
	return s.restorer.Restore(ctx, restoration.DeliveryExecution{ID: exec.ID, UserID: exec.UserID}, m)
}

// TableOptions controls offline table computation.
type TableOptions struct {
	Depth         int
	IncludeReview bool
}

// OfflineTable extends the execution's offline jump table from its current
// position and returns it.
func (s *Service) OfflineTable(ctx context.Context, id string, opts TableOptions) (offline.JumpTable, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return offline.JumpTable{}, err
	}
	defer unlock()

	exec, m, err := s.load(ctx, id)
	if err != nil {
		return offline.JumpTable{}, err
	}

	table := offline.JumpTable{ExecutionID: id}
	if err := s.optional(ctx, exec.UserID, offlineKey(id), &table); err != nil {
		return offline.JumpTable{}, err
	}
	if exec.Finished() {
		return table, nil
	}

	table, err = s.builder.Build(ctx, table, exec.State, m, offline.BuildOptions{
		Depth:         opts.Depth,
		IncludeReview: opts.IncludeReview,
		Responses:     responseStore(exec, m),
	})
	if err != nil {
		return offline.JumpTable{}, err
	}

	blob, err := json.Marshal(table)
	if err != nil {
		return offline.JumpTable{}, fmt.Errorf("encode offline table: %w", err)
	}
	if err := s.states.Put(ctx, exec.UserID, offlineKey(id), blob); err != nil {
		return offline.JumpTable{}, fmt.Errorf("write offline table: %w", err)
	}
	return table, nil
}

// Reconcile replays the jumps consumed offline through the live navigator.
// The responses carried by each jump are recorded before it is replayed, so
// branch rules see them. The execution, responses included, only changes
// when the whole path is confirmed.
func (s *Service) Reconcile(ctx context.Context, id string, log []offline.Jump) (offline.Reconciliation, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return offline.Reconciliation{}, err
	}
	defer unlock()

	exec, m, err := s.load(ctx, id)
	if err != nil {
		return offline.Reconciliation{}, err
	}

	confirmed := exec.Responses
	var answered []string
	defer s.track(exec)()
	res, err := s.reconciler.Reconcile(ctx, exec.State, log, m, func(st navigation.State, j offline.Jump) branch.ResponseStore {
		itemID := st.Context.ItemIdentifier
		if len(j.Responses) > 0 {
			exec.withResponses(itemID, j.Responses)
			answered = append(answered, itemID)
		}
		return responsesAt(exec, m, itemID)
	})
	if err != nil {
		exec.Responses = confirmed
		return offline.Reconciliation{}, err
	}
	if res.Diverged || res.Applied == 0 {
		exec.Responses = confirmed
		return res, nil
	}

	exec.State = res.State
	if res.Finished {
		exec.Status = StatusFinished
	}
	if err := s.save(ctx, exec, answered...); err != nil {
		return offline.Reconciliation{}, err
	}
	return res, nil
}

func (s *Service) apply(ctx context.Context, exec *Execution, out navigation.Outcome, itemID string) (*MoveResult, error) {
	exec.State = out.State
	if out.Finished {
		exec.Status = StatusFinished
	}
	if err := s.save(ctx, exec, itemID); err != nil {
		return nil, err
	}

	if out.Finished {
		s.logger.Info("execution finished", "execution_id", exec.ID)
	}
	return &MoveResult{Execution: exec, Finished: out.Finished}, nil
}

// save writes the state blobs then the metadata.
func (s *Service) save(ctx context.Context, exec *Execution, items ...string) error {
	w, err := snapshot(exec, items...)
	if err != nil {
		return err
	}
	if err := s.persist(ctx, exec, w); err != nil {
		return err
	}
	exec.UpdatedAt = s.now()
	if err := s.executions.Save(ctx, exec); err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*Execution, *domain.TestMap, error) {
	exec, err := s.executions.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	m, err := s.maps.Get(ctx, exec.TestID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.hydrate(ctx, exec, m); err != nil {
		return nil, nil, err
	}
	return exec, m, nil
}

// checkTimer flags the context as timed out once the running section has
// used up its maximum time.
func (s *Service) checkTimer(st navigation.State, m *domain.TestMap) navigation.State {
	loc, ok := m.Locate(st.Context.ItemPosition)
	if !ok || st.Context.IsTimeout || !loc.Section.Timer.IsSectionMax() {
		return st
	}
	if st.Timeline.Expired(loc.Section.ID, loc.Section.Timer.Max, s.now()) {
		s.logger.Info("section time limit reached",
			"execution_id", st.ExecutionID,
			"section_id", loc.Section.ID)
		st.Context = st.Context.WithTimeout(true)
	}
	return st
}

func (s *Service) lock(id string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()

	if !l.TryLock() {
		return nil, domain.ErrMoveInProgress
	}
	return l.Unlock, nil
}

func (s *Service) pendingFor(id string) *pendingMove {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[id]
}

func (s *Service) setPending(id string, pm *pendingMove) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pm == nil {
		delete(s.pending, id)
		return
	}
	s.pending[id] = pm
}

// track exposes exec to Outcomes while a move is being computed, so the
// responses submitted with the move count for adaptive selection.
func (s *Service) track(exec *Execution) func() {
	s.mu.Lock()
	s.inflight[exec.ID] = exec
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.inflight, exec.ID)
		s.mu.Unlock()
	}
}

// responseStore exposes the recorded responses to branch rules. Variables
// are visible as "<item>.<variable>", and unqualified for the current item.
func responseStore(exec *Execution, m *domain.TestMap) branch.ResponseStore {
	return responsesAt(exec, m, exec.State.Context.ItemIdentifier)
}

func responsesAt(exec *Execution, m *domain.TestMap, current string) branch.ResponseStore {
	r := branch.NewResponses()

	_ = m.Walk(func(loc domain.Location) error {
		id := loc.Item.ID
		for v, values := range loc.Item.Correct {
			r.SetCorrect(id+"."+v, values...)
			if id == current {
				r.SetCorrect(v, values...)
			}
		}
		for v, values := range exec.Responses[id] {
			r.Set(id+"."+v, values...)
			if id == current {
				r.Set(v, values...)
			}
		}
		return nil
	})
	return r
}
