package reconcile

import (
	"context"
	"log/slog"

	"github.com/hpungsan/switchboard/internal/errors"
)

// Controller is the per-row toggle contract of the console.
type Controller struct {
	engine  *Engine
	notices *Notices
	logger  *slog.Logger
}

// NewController binds a controller to an assistant's engine.
func NewController(engine *Engine, notices *Notices, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{engine: engine, notices: notices, logger: logger}
}

// Toggle requests the capability be shown as desired.
//
// It does nothing when the presented state already equals desired, so
// duplicate clicks cause no store calls. While any capability of the
// assistant is in flight every toggle returns TRANSITION_IN_PROGRESS.
// Failures and warnings are also published as notices.
func (c *Controller) Toggle(ctx context.Context, capabilityID, channelID string, desired bool) error {
	run, err := c.Start(ctx, capabilityID, channelID, desired)
	if err != nil || run == nil {
		return err
	}
	return run(ctx)
}

// Start checks a toggle and presents its outcome, leaving the store and
// remote writes to the returned func. A nil func with a nil error means
// the toggle is a no-op.
func (c *Controller) Start(ctx context.Context, capabilityID, channelID string, desired bool) (func(context.Context) error, error) {
	if capabilityID == "" {
		return nil, errors.NewInvalidRequest("capability_id is required")
	}

	if c.engine.State(capabilityID).Active == desired {
		c.logger.Debug("toggle is a no-op", "assistant_id", c.engine.AssistantID(), "capability_id", capabilityID, "desired", desired)
		return nil, nil
	}
	if c.engine.Busy() {
		return nil, errors.NewTransitionInProgress(c.engine.AssistantID())
	}

	var (
		run func(context.Context) error
		err error
	)
	if desired {
		run, err = c.engine.prepareActivation(ctx, capabilityID, channelID)
	} else {
		run, err = c.engine.prepareDeactivation(ctx, capabilityID, "")
	}
	if err != nil {
		c.publish(err)
		return nil, err
	}
	return func(ctx context.Context) error {
		err := run(ctx)
		c.publish(err)
		return err
	}, nil
}

func (c *Controller) publish(err error) {
	if err != nil && c.notices != nil && !errors.Is(err, errors.ErrTransitionInProgress) {
		c.notices.Publish(c.engine.AssistantID(), err)
	}
}
