package task

import (
	"fmt"
	"time"
)

// Task state persisted in Redis expires after a day so abandoned tasks do
// not accumulate.
const StateTTL = 24 * time.Hour

const DefaultKeyPrefix = "pmarb"

// Keys builds the Redis key namespace shared by the worker and any
// external controller.
type Keys struct {
	Prefix string
}

func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return Keys{Prefix: prefix}
}

// Control is the channel control messages arrive on.
func (k Keys) Control() string {
	return k.Prefix + ":control"
}

// Tasks is the set of known task ids.
func (k Keys) Tasks() string {
	return k.Prefix + ":tasks"
}

func (k Keys) Status(taskID string) string {
	return fmt.Sprintf("%s:task:%s:status", k.Prefix, taskID)
}

func (k Keys) Config(taskID string) string {
	return fmt.Sprintf("%s:task:%s:config", k.Prefix, taskID)
}

// Snapshot stores the latest frame of one snapshot-cached event type.
func (k Keys) Snapshot(taskID, event string) string {
	return fmt.Sprintf("%s:task:%s:snapshot:%s", k.Prefix, taskID, event)
}

// Events is the per-task channel event frames are published on.
func (k Keys) Events(taskID string) string {
	return fmt.Sprintf("%s:task:%s:events", k.Prefix, taskID)
}
