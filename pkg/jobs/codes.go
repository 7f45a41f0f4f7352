package jobs

import (
	"context"
	"fmt"
	"time"

	"mediabot/pkg/flow"
	"mediabot/pkg/notify"
)

const codeWaitTimeout = 2 * time.Minute

// stage label the delivery side (bot command layer, /api/flow/code) checks
// before accepting a code
const StageAwaitingCode = "awaiting_code"

// CodeRelay bridges the downloader's mid-run verification prompts to the
// user: it parks a one-shot handoff in the flow store, prompts the user in
// chat, and waits a bounded time for the code to come back through
// DeliverCode.
type CodeRelay struct {
	flow      *flow.Store
	messenger notify.Messenger
}

func NewCodeRelay(f *flow.Store, messenger notify.Messenger) *CodeRelay {
	return &CodeRelay{flow: f, messenger: messenger}
}

// RequestCode implements downloader.CodeProvider.
func (c *CodeRelay) RequestCode(ctx context.Context, ownerID int64) (string, error) {
	c.flow.Start(ownerID, StageAwaitingCode, nil)
	defer c.flow.Clear(ownerID)

	ch := c.flow.CreateCodeHandoff(ownerID)
	if _, err := c.messenger.SendText(ctx, ownerID,
		"🔐 Verification code required — reply with the code to continue"); err != nil {
		return "", fmt.Errorf("prompt for code: %w", err)
	}

	select {
	case code := <-ch:
		return code, nil
	case <-time.After(codeWaitTimeout):
		return "", fmt.Errorf("no code received within %s", codeWaitTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
