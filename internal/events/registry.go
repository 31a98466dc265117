package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// scenario
	"scenario.created":  {},
	"scenario.updated":  {},
	"scenario.deleted":  {},
	"scenario.imported": {},
	"scenario.exported": {},

	// branch
	"branch.created":        {},
	"branch.updated":        {},
	"branch.merged":         {},
	"branch.merge_conflict": {},
	"branch.deleted":        {},

	// session
	"session.saved":       {},
	"session.save_failed": {},

	// client
	"client.breaker_state": {},

	// notifications
	"mqtt.connected":    {},
	"mqtt.disconnected": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
