// Package driver exposes an engine to remote clients through JSON control
// messages.
//
// A client sends execute, get_history, rewind, update_and_continue and
// get_state requests; Serve answers each one and streams the engine events of
// every thread the connection has touched. The dispatcher only needs a Conn,
// so the websocket Handler is one transport among others.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dshills/rewindgraph/graph"
	"github.com/dshills/rewindgraph/graph/emit"
	"github.com/dshills/rewindgraph/graph/store"
)

// DefaultEventBuffer is the per-connection event queue length.
const DefaultEventBuffer = 256

// Conn carries JSON messages in both directions. *websocket.Conn satisfies
// it. WriteJSON is never called concurrently.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
}

// Engine is the part of *graph.Engine the driver uses.
type Engine interface {
	Start(ctx context.Context, g graph.WorkflowGraph, initial map[string]any) (string, error)
	RunToCompletion(ctx context.Context, threadID string) (graph.Execution, error)
	History(ctx context.Context, threadID string) (graph.History, error)
	State(ctx context.Context, threadID string) (graph.Snapshot, error)
	Rewind(ctx context.Context, threadID string, sequence int) (store.Checkpoint, error)
	UpdateAndResume(ctx context.Context, threadID, nodeID string, params map[string]any) (graph.Execution, error)
	Plan(threadID string) (*graph.Plan, error)
}

// Server dispatches control messages to an engine.
//
// The engine must emit into the hub given to NewServer (graph.WithSink);
// connections subscribe to the hub for the threads they touch.
type Server struct {
	engine   Engine
	hub      *emit.Hub
	catalog  Catalog
	logger   *slog.Logger
	validate *validator.Validate
	buffer   int
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBuffer sets the per-connection event queue length. Events that
// do not fit are dropped.
func WithEventBuffer(n int) Option {
	return func(s *Server) {
		s.buffer = n
	}
}

// NewServer creates a server. catalog may be nil when clients always send
// inline graphs.
func NewServer(engine Engine, hub *emit.Hub, catalog Catalog, opts ...Option) *Server {
	if catalog == nil {
		catalog = MapCatalog{}
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	s := &Server{
		engine:   engine,
		hub:      hub,
		catalog:  catalog,
		logger:   slog.New(slog.DiscardHandler),
		validate: validate,
		buffer:   DefaultEventBuffer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve reads requests from conn until it fails or ctx ends. Runs started by
// the connection are cancelled when Serve returns; their threads stay
// resumable. io.EOF ends Serve without error.
func (s *Server) Serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)

	sess := s.newSession(conn)
	defer func() {
		cancel()
		sess.close()
	}()

	sess.logger.Info("client connected")
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				sess.reject("", fmt.Errorf("malformed message: %w", err))
				continue
			}
			if errors.Is(err, io.EOF) {
				sess.logger.Info("client disconnected")
				return nil
			}
			sess.logger.Info("client disconnected", "error", err)
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		sess.dispatch(ctx, req)
	}
}

// session is the per-connection state of Serve.
type session struct {
	s      *Server
	conn   Conn
	logger *slog.Logger
	events *emit.AsyncSink

	writeMu sync.Mutex

	mu      sync.Mutex
	current string
	unsubs  map[string]func()

	runs sync.WaitGroup
}

func (s *Server) newSession(conn Conn) *session {
	sess := &session{
		s:      s,
		conn:   conn,
		logger: s.logger.With("session_id", uuid.NewString()),
		unsubs: make(map[string]func()),
	}
	forward := emit.SinkFunc(func(threadID string, event emit.Event) {
		// rewind is answered by its own reply
		if event.Type == emit.Rewound {
			return
		}
		event.ThreadID = threadID
		sess.write(event)
	})
	sess.events = emit.NewAsyncSink(forward, s.buffer, emit.WithDropHandler(func(threadID string, event emit.Event) {
		sess.logger.Warn("event dropped for slow client", "thread_id", threadID, "type", event.Type)
	}))
	return sess
}

func (c *session) close() {
	c.runs.Wait()

	c.mu.Lock()
	for _, unsubscribe := range c.unsubs {
		unsubscribe()
	}
	c.unsubs = nil
	c.mu.Unlock()

	c.events.Close()
}

func (c *session) write(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteJSON(v); err != nil {
		c.logger.Warn("failed to write message", "error", err)
	}
}

// follow subscribes the connection to threadID and makes it the default
// thread for later requests.
func (c *session) follow(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = threadID
	if _, ok := c.unsubs[threadID]; !ok {
		c.unsubs[threadID] = c.s.hub.Subscribe(threadID, c.events)
	}
}

func (c *session) thread(req Request) (string, error) {
	if req.ThreadID != "" {
		return req.ThreadID, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return "", errors.New("thread_id is required before the first execute")
	}
	return c.current, nil
}

func (c *session) reject(threadID string, err error) {
	c.logger.Debug("request rejected", "thread_id", threadID, "error", err)
	c.write(Error{Type: ReplyError, ThreadID: threadID, Kind: KindInvalidRequest, Message: err.Error()})
}

func (c *session) fail(threadID string, err error) {
	c.logger.Warn("request failed", "thread_id", threadID, "error", err)
	c.write(Error{Type: ReplyError, ThreadID: threadID, Kind: graph.ErrorKind(err), Message: err.Error()})
}

func (c *session) dispatch(ctx context.Context, req Request) {
	if err := c.s.validate.Struct(req); err != nil {
		c.reject(req.ThreadID, describe(err))
		return
	}

	if req.Type == TypeExecute {
		c.execute(ctx, req)
		return
	}

	threadID, err := c.thread(req)
	if err != nil {
		c.reject("", err)
		return
	}
	c.follow(threadID)

	switch req.Type {
	case TypeGetHistory:
		c.history(ctx, threadID)
	case TypeRewind:
		c.rewind(ctx, threadID, *req.Step)
	case TypeUpdateAndContinue:
		c.background(ctx, threadID, func(ctx context.Context) error {
			_, err := c.s.engine.UpdateAndResume(ctx, threadID, req.NodeID, req.Params)
			return err
		})
	case TypeGetState:
		c.state(ctx, threadID)
	}
}

func (c *session) execute(ctx context.Context, req Request) {
	var wf graph.WorkflowGraph
	switch {
	case req.Graph != nil:
		wf = *req.Graph
	case req.Workflow != "":
		found, err := c.s.catalog.Lookup(req.Workflow)
		if err != nil {
			c.fail("", err)
			return
		}
		wf = found
	default:
		c.reject("", errors.New("execute needs a workflow name or a graph"))
		return
	}

	input := maps.Clone(req.Input)
	if input == nil {
		input = make(map[string]any)
	}
	if req.Question != "" {
		input["question"] = req.Question
	}

	threadID, err := c.s.engine.Start(ctx, wf, input)
	if err != nil {
		c.fail("", err)
		return
	}
	c.follow(threadID)

	var steps []string
	if plan, err := c.s.engine.Plan(threadID); err == nil {
		steps = plan.NodeIDs()
	}
	c.write(ExecutionStarted{
		Type:      ReplyExecutionStarted,
		ThreadID:  threadID,
		Graph:     wf.Name,
		Steps:     steps,
		Timestamp: c.s.now().UTC(),
	})

	c.background(ctx, threadID, func(ctx context.Context) error {
		_, err := c.s.engine.RunToCompletion(ctx, threadID)
		return err
	})
}

// background runs fn on its own goroutine. Step failures and cancellation
// already reach the client as events; anything else is replied as an error.
func (c *session) background(ctx context.Context, threadID string, fn func(context.Context) error) {
	c.runs.Add(1)
	go func() {
		defer c.runs.Done()

		err := fn(ctx)
		var stepErr *graph.StepError
		if err == nil || errors.As(err, &stepErr) || errors.Is(err, context.Canceled) {
			return
		}
		c.fail(threadID, err)
	}()
}

func (c *session) history(ctx context.Context, threadID string) {
	h, err := c.s.engine.History(ctx, threadID)
	if err != nil {
		c.fail(threadID, err)
		return
	}

	entries := make([]HistoryEntry, len(h))
	for i, cp := range h {
		entries[i] = HistoryEntry{
			Step:      cp.Sequence,
			StepName:  cp.StepName,
			State:     cp.State,
			Digest:    cp.Digest,
			Timestamp: cp.Timestamp,
		}
	}
	c.write(History{Type: ReplyHistory, ThreadID: threadID, States: entries})
}

func (c *session) rewind(ctx context.Context, threadID string, step int) {
	cp, err := c.s.engine.Rewind(ctx, threadID, step)
	if err != nil {
		c.fail(threadID, err)
		return
	}
	c.write(Rewound{Type: ReplyRewound, ThreadID: threadID, Step: cp.Sequence, State: cp.State})
}

func (c *session) state(ctx context.Context, threadID string) {
	snap, err := c.s.engine.State(ctx, threadID)
	if err != nil {
		c.fail(threadID, err)
		return
	}
	c.write(CurrentState{
		Type:     ReplyCurrentState,
		ThreadID: threadID,
		Step:     snap.Sequence,
		Status:   snap.Execution.Status,
		State:    snap.State,
		Next:     snap.Pending,
	})
}

// describe turns validator output into one readable error.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_if":
			parts = append(parts, fe.Field()+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("unknown request type %q", fe.Value()))
		case "excluded_with":
			parts = append(parts, "workflow and graph are mutually exclusive")
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}
