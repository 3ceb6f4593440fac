// Package controller owns the session: its id, its Inactive/Active state
// machine, and the capture scheduler that must run exactly while the
// session is active. Input dispatch is routed through here so nothing can
// reach the backend without an active session id.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"spyglass/internal/actionlog"
	"spyglass/internal/scheduler"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("log")

var (
	// ErrAlreadyActive rejects Start while a session is up.
	ErrAlreadyActive = errors.New("session already active")
	// ErrTransitioning rejects calls that overlap an in-progress start.
	ErrTransitioning = errors.New("session start/stop in progress")
	// ErrNotActive rejects input dispatch without an active session. No
	// network call is made in that case.
	ErrNotActive = errors.New("session not active")
)

type State int

const (
	Inactive State = iota
	Starting
	Active
	Stopping
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Transport is the backend surface the controller needs. *client.Client
// implements it.
type Transport interface {
	StartSession(ctx context.Context) (string, error)
	StopSession(ctx context.Context, sessionID string) error
	SendClick(ctx context.Context, sessionID string, x, y int) (string, error)
	SendText(ctx context.Context, sessionID, text string) error
}

type Controller struct {
	transport Transport
	sched     *scheduler.Scheduler
	actions   *actionlog.Log

	mu        sync.Mutex
	state     State
	sessionID string
}

// New wires a controller to its transport and capture scheduler. actions
// may be nil to disable history.
func New(transport Transport, sched *scheduler.Scheduler, actions *actionlog.Log) *Controller {
	return &Controller{transport: transport, sched: sched, actions: actions}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Start creates a session on the backend and begins capture polling. On
// failure the controller is left Inactive and the reason is returned; there
// is no automatic retry.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Active:
		c.mu.Unlock()
		return ErrAlreadyActive
	case Starting, Stopping:
		c.mu.Unlock()
		return ErrTransitioning
	}
	c.state = Starting
	c.mu.Unlock()

	id, err := c.transport.StartSession(ctx)

	c.mu.Lock()
	if err != nil {
		c.state = Inactive
		c.mu.Unlock()
		return fmt.Errorf("start session: %w", err)
	}
	c.state = Active
	c.sessionID = id
	c.mu.Unlock()

	c.record(actionlog.KindStart, id, "", "")
	c.sched.Start(id)
	log.Infof("session %s started", id)
	return nil
}

// Stop tears the session down. The scheduler is halted first so no further
// fetches are issued, then the backend is told to release the session;
// failure of that call is logged and swallowed, local teardown proceeds
// regardless. Stop on an inactive controller, or while another Stop is
// already tearing down, is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Inactive, Stopping:
		c.mu.Unlock()
		return nil
	case Starting:
		c.mu.Unlock()
		return ErrTransitioning
	}
	c.state = Stopping
	id := c.sessionID
	c.mu.Unlock()

	c.sched.Stop()
	if err := c.transport.StopSession(ctx, id); err != nil {
		log.Warningf("stop session %s: %v (continuing local teardown)", id, err)
	}

	c.mu.Lock()
	c.sessionID = ""
	c.state = Inactive
	c.mu.Unlock()

	c.record(actionlog.KindStop, id, "", "")
	log.Infof("session %s stopped", id)
	return nil
}

// DispatchClick forwards a click already translated to remote framebuffer
// coordinates. Returns the backend's action id.
func (c *Controller) DispatchClick(ctx context.Context, x, y int) (string, error) {
	id, err := c.activeSession()
	if err != nil {
		return "", err
	}
	actionID, err := c.transport.SendClick(ctx, id, x, y)
	if err != nil {
		return "", fmt.Errorf("dispatch click: %w", err)
	}
	c.record(actionlog.KindClick, id, actionID, fmt.Sprintf("x=%d y=%d", x, y))
	return actionID, nil
}

// DispatchText forwards text to be typed into the remote session.
func (c *Controller) DispatchText(ctx context.Context, text string) error {
	id, err := c.activeSession()
	if err != nil {
		return err
	}
	if err := c.transport.SendText(ctx, id, text); err != nil {
		return fmt.Errorf("dispatch text: %w", err)
	}
	c.record(actionlog.KindType, id, "", fmt.Sprintf("%d chars", len(text)))
	return nil
}

func (c *Controller) activeSession() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return "", ErrNotActive
	}
	return c.sessionID, nil
}

func (c *Controller) record(kind actionlog.Kind, sessionID, correlationID, detail string) {
	if c.actions != nil {
		c.actions.Record(kind, sessionID, correlationID, detail)
	}
}
