package component

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultTimeout bounds a remote request when the caller's context has no
// earlier deadline.
const DefaultTimeout = 5 * time.Second

const (
	opStop = "stop"
	opCall = "call"
)

// Subject returns the NATS subject for an operation on a named component.
func Subject(prefix, name, op string) string {
	return prefix + "." + name + "." + op
}

type stopRequest struct {
	TaskID string `json:"task_id"`
}

type stopReply struct {
	OK bool `json:"ok"`
}

type callRequest struct {
	Method string `json:"method"`
	Params Params `json:"params"`
}

type callReply struct {
	Result Params `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RemoteError is returned by NATSComponent.Call when the remote side
// answered with an error.
type RemoteError struct {
	Component string
	Method    string
	Message   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("component %q method %q: %s", e.Component, e.Method, e.Message)
}

// Connect opens a NATS connection that reconnects indefinitely.
func Connect(url, clientName string, timeout time.Duration) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.Timeout(timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// NATSComponent is a Component living in another process, reached over NATS
// request/reply.
type NATSComponent struct {
	conn    *nats.Conn
	prefix  string
	name    string
	timeout time.Duration
}

// NewNATSComponent returns a client for the component served under
// prefix.name. A zero timeout uses DefaultTimeout.
func NewNATSComponent(conn *nats.Conn, prefix, name string, timeout time.Duration) *NATSComponent {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &NATSComponent{conn: conn, prefix: prefix, name: name, timeout: timeout}
}

func (c *NATSComponent) request(ctx context.Context, op string, req, reply any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(ctx, Subject(c.prefix, c.name, op), data)
	if errors.Is(err, nats.ErrNoResponders) {
		return fmt.Errorf("%w: %q has no responders", ErrNotFound, c.name)
	}
	if err != nil {
		return fmt.Errorf("nats request %s: %w", op, err)
	}
	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", op, err)
	}
	return nil
}

// Stop implements Component. Transport failures count as a refusal.
func (c *NATSComponent) Stop(ctx context.Context, taskID string) bool {
	var reply stopReply
	if err := c.request(ctx, opStop, stopRequest{TaskID: taskID}, &reply); err != nil {
		return false
	}
	return reply.OK
}

// Call implements Component.
func (c *NATSComponent) Call(ctx context.Context, method string, params Params) (Params, error) {
	var reply callReply
	if err := c.request(ctx, opCall, callRequest{Method: method, Params: params}, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, &RemoteError{Component: c.name, Method: method, Message: reply.Error}
	}
	return reply.Result, nil
}

// NATSService answers NATS requests on behalf of a local Component.
type NATSService struct {
	subs []*nats.Subscription
}

// ServeNATS subscribes c's stop and call subjects under prefix.name.
// Requests are handled on the NATS delivery goroutine, one at a time per
// subject.
func ServeNATS(conn *nats.Conn, prefix, name string, c Component, logger *slog.Logger) (*NATSService, error) {
	logger = logger.With("component", name)
	svc := &NATSService{}

	handlers := map[string]nats.MsgHandler{
		opStop: func(m *nats.Msg) {
			var req stopRequest
			if err := json.Unmarshal(m.Data, &req); err != nil {
				logger.Warn("decode stop request", "error", err)
				respond(m, stopReply{}, logger)
				return
			}
			ok := c.Stop(context.Background(), req.TaskID)
			logger.Debug("stop request", "task_id", req.TaskID, "ok", ok)
			respond(m, stopReply{OK: ok}, logger)
		},
		opCall: func(m *nats.Msg) {
			var req callRequest
			if err := json.Unmarshal(m.Data, &req); err != nil {
				respond(m, callReply{Error: err.Error()}, logger)
				return
			}
			result, err := c.Call(context.Background(), req.Method, req.Params)
			if err != nil {
				respond(m, callReply{Error: err.Error()}, logger)
				return
			}
			if result == nil {
				result = Params{}
			}
			respond(m, callReply{Result: result}, logger)
		},
	}

	for _, op := range []string{opStop, opCall} {
		sub, err := conn.Subscribe(Subject(prefix, name, op), handlers[op])
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("nats subscribe %s: %w", op, err)
		}
		svc.subs = append(svc.subs, sub)
	}
	if err := conn.Flush(); err != nil {
		svc.Close()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	return svc, nil
}

// Close unsubscribes from every subject.
func (s *NATSService) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func respond(m *nats.Msg, v any, logger *slog.Logger) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("encode reply", "error", err)
		return
	}
	if err := m.Respond(data); err != nil {
		logger.Warn("send reply", "error", err)
	}
}
