package model

// ScheduledItem is a pending execution token in the schedule map. The
// map key is TickKey(ExecutionTicks); at most one live item exists per
// health-check key, and tick collisions between distinct checks are
// resolved by incrementing the tick on insert.
type ScheduledItem struct {
	ExecutionTicks int64  `json:"execution_ticks"`
	Key            string `json:"key"`
}
