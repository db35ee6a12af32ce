package mcp

import (
	"context"
	"fmt"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/offline"
	"github.com/felixgeelhaar/proctor/internal/session"
)

// Catalog lists the tests available for delivery.
type Catalog interface {
	List() ([]string, error)
}

// Server wraps the MCP server with test delivery functionality
type Server struct {
	mcpServer *server.Server
	service   session.ExecutionService
	catalog   Catalog
	offline   OfflineDefaults
}

// OfflineDefaults applies when a proctor_offline_table call leaves a field
// unset.
type OfflineDefaults struct {
	Depth         int
	IncludeReview bool
}

// Config contains configuration for the MCP server
type Config struct {
	Service session.ExecutionService
	Catalog Catalog
	Offline OfflineDefaults
	Version string
}

// NewServer creates a new MCP server for proctor
func NewServer(cfg Config) *Server {
	s := &Server{
		service: cfg.Service,
		catalog: cfg.Catalog,
		offline: cfg.Offline,
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "proctor",
		Version: version,
	}, server.WithInstructions(`
Proctor delivers tests made of parts, sections and items, and keeps each
delivery resumable.

Available tools:
- proctor_tests: List the tests that can be started
- proctor_start: Start delivering a test
- proctor_move: Move to the next, previous or a given item, section or part
- proctor_confirm: Accept or decline leaving a timed section
- proctor_end_warning: Record that the end-of-test warning was shown
- proctor_extended: Store client state with the delivery
- proctor_status: Show where a delivery stands
- proctor_restore: Rebuild a delivery from its backups after state loss
- proctor_offline_table: Precompute jumps for offline navigation
- proctor_reconcile: Replay jumps taken offline

A move out of a timed section returns a confirmation. No other move is
accepted until proctor_confirm settles it.
`))

	s.registerTools()

	return s
}

// registerTools registers all proctor MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("proctor_tests").
		Description("List the tests available for delivery.").
		Handler(s.handleTests)

	s.mcpServer.Tool("proctor_start").
		Description("Start delivering a test to a test-taker.").
		Handler(s.handleStart)

	s.mcpServer.Tool("proctor_move").
		Description("Navigate a delivery. Records the responses of the current item first.").
		Handler(s.handleMove)

	s.mcpServer.Tool("proctor_confirm").
		Description("Settle a move waiting for timed-section confirmation.").
		Handler(s.handleConfirm)

	s.mcpServer.Tool("proctor_end_warning").
		Description("Record that the client showed the end-of-test warning.").
		Handler(s.handleEndWarning)

	s.mcpServer.Tool("proctor_extended").
		Description("Store auxiliary client state with a delivery.").
		Handler(s.handleExtended)

	s.mcpServer.Tool("proctor_status").
		Description("Get the current position and status of a delivery.").
		Handler(s.handleStatus)

	s.mcpServer.Tool("proctor_restore").
		Description("Rebuild a delivery's state from its backups.").
		Handler(s.handleRestore)

	s.mcpServer.Tool("proctor_offline_table").
		Description("Compute the jumps a client may take while offline.").
		Handler(s.handleOfflineTable)

	s.mcpServer.Tool("proctor_reconcile").
		Description("Replay the jumps taken offline against the server.").
		Handler(s.handleReconcile)
}

// Input/Output types for tools

type TestsInput struct{}

type TestsOutput struct {
	Tests []string `json:"tests"`
}

type StartInput struct {
	UserID string `json:"user_id" jsonschema:"description=Test-taker identifier"`
	TestID string `json:"test_id" jsonschema:"description=Test identifier from proctor_tests"`
}

type DeliveryInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"description=Delivery ID from proctor_start"`
}

type MoveInput struct {
	ExecutionID string              `json:"execution_id" jsonschema:"description=Delivery ID from proctor_start"`
	Direction   string              `json:"direction" jsonschema:"description=Where to go,enum=next,enum=previous,enum=jump"`
	Scope       string              `json:"scope,omitempty" jsonschema:"description=Unit to move by (default: item),enum=item,enum=section,enum=part"`
	Position    int                 `json:"position,omitempty" jsonschema:"description=Target item position for jump"`
	Responses   map[string][]string `json:"responses,omitempty" jsonschema:"description=Response variables of the current item"`
}

type ConfirmInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"description=Delivery ID from proctor_start"`
	Accept      bool   `json:"accept" jsonschema:"description=True to leave the timed section"`
}

type ExtendedInput struct {
	ExecutionID string            `json:"execution_id" jsonschema:"description=Delivery ID from proctor_start"`
	Values      map[string]string `json:"values" jsonschema:"description=Key/value pairs merged into the stored state"`
}

type OfflineTableInput struct {
	ExecutionID   string `json:"execution_id" jsonschema:"description=Delivery ID from proctor_start"`
	Depth         int    `json:"depth,omitempty" jsonschema:"description=Jumps to precompute per branch"`
	IncludeReview *bool  `json:"include_review,omitempty" jsonschema:"description=Also precompute backward moves"`
}

type ReconcileInput struct {
	ExecutionID string         `json:"execution_id" jsonschema:"description=Delivery ID from proctor_start"`
	Jumps       []offline.Jump `json:"jumps" jsonschema:"description=Jumps taken offline in order, each with the responses given on the item it left"`
}

// StatusOutput describes where a delivery stands
type StatusOutput struct {
	ExecutionID  string             `json:"execution_id"`
	TestID       string             `json:"test_id"`
	Status       string             `json:"status"`
	Context      domain.TestContext `json:"context"`
	Extended     map[string]string  `json:"extended,omitempty"`
	Confirmation *ConfirmationInfo  `json:"confirmation,omitempty"`
	Message      string             `json:"message,omitempty"`
}

// ConfirmationInfo is the prompt a client shows before leaving a timed section
type ConfirmationInfo struct {
	SectionID    string `json:"section_id"`
	Message      string `json:"message"`
	AcceptLabel  string `json:"accept_label"`
	DeclineLabel string `json:"decline_label"`
}

type RestoreOutput struct {
	ExecutionID     string   `json:"execution_id"`
	AlreadyRestored bool     `json:"already_restored"`
	Restored        []string `json:"restored,omitempty"`
	Missing         []string `json:"missing,omitempty"`
	Failed          []string `json:"failed,omitempty"`
}

type OfflineTableOutput struct {
	ExecutionID string         `json:"execution_id"`
	Jumps       []offline.Jump `json:"jumps"`
}

type ReconcileOutput struct {
	Applied    int                `json:"applied"`
	Finished   bool               `json:"finished"`
	Diverged   bool               `json:"diverged"`
	DivergedAt int                `json:"diverged_at,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Context    domain.TestContext `json:"context"`
}

// Tool handlers

func (s *Server) handleTests(_ context.Context, _ TestsInput) (TestsOutput, error) {
	if s.catalog == nil {
		return TestsOutput{Tests: []string{}}, nil
	}
	ids, err := s.catalog.List()
	if err != nil {
		return TestsOutput{}, fmt.Errorf("list tests: %w", err)
	}
	return TestsOutput{Tests: ids}, nil
}

func (s *Server) handleStart(ctx context.Context, input StartInput) (StatusOutput, error) {
	exec, err := s.service.Start(ctx, session.StartRequest{
		UserID: input.UserID,
		TestID: input.TestID,
	})
	if err != nil {
		return StatusOutput{}, fmt.Errorf("failed to start delivery: %w", err)
	}

	out := status(exec)
	out.Message = fmt.Sprintf("Delivery started on item %s.", exec.State.Context.ItemIdentifier)
	return out, nil
}

func (s *Server) handleMove(ctx context.Context, input MoveInput) (StatusOutput, error) {
	req, err := moveRequest(input)
	if err != nil {
		return StatusOutput{}, err
	}

	res, err := s.service.Move(ctx, input.ExecutionID, req)
	if err != nil {
		return StatusOutput{}, fmt.Errorf("move failed: %w", err)
	}
	return result(res), nil
}

func (s *Server) handleConfirm(ctx context.Context, input ConfirmInput) (StatusOutput, error) {
	res, err := s.service.Confirm(ctx, input.ExecutionID, input.Accept)
	if err != nil {
		return StatusOutput{}, fmt.Errorf("confirm failed: %w", err)
	}
	out := result(res)
	if !input.Accept {
		out.Message = "Staying in the timed section."
	}
	return out, nil
}

func (s *Server) handleEndWarning(ctx context.Context, input DeliveryInput) (StatusOutput, error) {
	exec, err := s.service.MarkEndWarningShown(ctx, input.ExecutionID)
	if err != nil {
		return StatusOutput{}, fmt.Errorf("failed to record end warning: %w", err)
	}
	return status(exec), nil
}

func (s *Server) handleExtended(ctx context.Context, input ExtendedInput) (StatusOutput, error) {
	exec, err := s.service.SetExtended(ctx, input.ExecutionID, input.Values)
	if err != nil {
		return StatusOutput{}, fmt.Errorf("failed to store extended state: %w", err)
	}
	return status(exec), nil
}

func (s *Server) handleStatus(ctx context.Context, input DeliveryInput) (StatusOutput, error) {
	exec, err := s.service.Get(ctx, input.ExecutionID)
	if err != nil {
		return StatusOutput{}, fmt.Errorf("delivery not found: %w", err)
	}
	return status(exec), nil
}

func (s *Server) handleRestore(ctx context.Context, input DeliveryInput) (RestoreOutput, error) {
	report, err := s.service.Restore(ctx, input.ExecutionID)
	if err != nil {
		return RestoreOutput{}, fmt.Errorf("restore failed: %w", err)
	}
	return RestoreOutput{
		ExecutionID:     report.ExecutionID,
		AlreadyRestored: report.AlreadyRestored,
		Restored:        report.Restored,
		Missing:         report.Missing,
		Failed:          report.Failed,
	}, nil
}

func (s *Server) handleOfflineTable(ctx context.Context, input OfflineTableInput) (OfflineTableOutput, error) {
	opts := session.TableOptions{
		Depth:         s.offline.Depth,
		IncludeReview: s.offline.IncludeReview,
	}
	if input.Depth > 0 {
		opts.Depth = input.Depth
	}
	if input.IncludeReview != nil {
		opts.IncludeReview = *input.IncludeReview
	}

	table, err := s.service.OfflineTable(ctx, input.ExecutionID, opts)
	if err != nil {
		return OfflineTableOutput{}, fmt.Errorf("failed to compute offline table: %w", err)
	}
	return OfflineTableOutput{ExecutionID: table.ExecutionID, Jumps: table.Jumps}, nil
}

func (s *Server) handleReconcile(ctx context.Context, input ReconcileInput) (ReconcileOutput, error) {
	res, err := s.service.Reconcile(ctx, input.ExecutionID, input.Jumps)
	if err != nil {
		return ReconcileOutput{}, fmt.Errorf("reconcile failed: %w", err)
	}
	out := ReconcileOutput{
		Applied:  res.Applied,
		Finished: res.Finished,
		Diverged: res.Diverged,
		Reason:   res.Reason,
		Context:  res.State.Context,
	}
	if res.DivergedAt != nil {
		out.DivergedAt = res.DivergedAt.Seq
	}
	return out, nil
}

func moveRequest(input MoveInput) (session.MoveRequest, error) {
	dir, err := domain.ParseDirection(input.Direction)
	if err != nil {
		return session.MoveRequest{}, err
	}
	scope := domain.ScopeItem
	if input.Scope != "" {
		if scope, err = domain.ParseScope(input.Scope); err != nil {
			return session.MoveRequest{}, err
		}
	}
	return session.MoveRequest{
		Direction: dir,
		Scope:     scope,
		Position:  input.Position,
		Responses: input.Responses,
	}, nil
}

func status(exec *session.Execution) StatusOutput {
	return StatusOutput{
		ExecutionID: exec.ID,
		TestID:      exec.TestID,
		Status:      string(exec.Status),
		Context:     exec.State.Context,
		Extended:    exec.Extended,
	}
}

func result(res *session.MoveResult) StatusOutput {
	out := status(res.Execution)
	switch {
	case res.Confirmation != nil:
		c := res.Confirmation
		out.Confirmation = &ConfirmationInfo{
			SectionID:    c.SectionID,
			Message:      c.Message,
			AcceptLabel:  c.AcceptLabel,
			DeclineLabel: c.DeclineLabel,
		}
		out.Message = "Confirmation required before leaving the timed section."
	case res.Finished:
		out.Message = "The test is finished."
	}
	return out
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
