package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AaronLay10/DialogStudio/internal/branch"
)

// topic suffixes per history action
var actionTopics = map[string]string{
	branch.ActionCreate: "created",
	branch.ActionUpdate: "updated",
	branch.ActionMerge:  "merged",
	branch.ActionDelete: "deleted",
}

// Topic returns the topic a notification is published on:
// <prefix>/branches/<created|updated|merged|deleted>. Branch names travel in
// the payload because they may contain MQTT wildcard characters.
func (c *Client) Topic(action string) string {
	suffix, ok := actionTopics[action]
	if !ok {
		suffix = "other"
	}
	return c.opts.TopicPrefix + "/branches/" + suffix
}

// Notify publishes n as JSON. It satisfies branch.Notifier.
func (c *Client) Notify(ctx context.Context, n branch.Notification) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return c.Publish(c.Topic(n.Action), payload)
}

var _ branch.Notifier = (*Client)(nil)
