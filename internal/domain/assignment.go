package domain

// TargetWithActionType is one row of an assignment request: which controller
// to assign to and how the resulting action should behave.
type TargetWithActionType struct {
	ControllerID              string     `json:"controller_id"`
	Type                      ActionType `json:"type"`
	ForcedTime                int64      `json:"forced_time,omitempty"`
	MaintenanceWindowSchedule string     `json:"maintenance_window_schedule,omitempty"`
	MaintenanceWindowDuration string     `json:"maintenance_window_duration,omitempty"`
	MaintenanceWindowTimeZone string     `json:"maintenance_window_timezone,omitempty"`
}

// AssignmentResult reports the outcome of one distribution set assignment.
// AlreadyAssigned counts requested targets that were silently excluded
// because the set was already assigned (or the target was mid-update for
// offline reports).
type AssignmentResult struct {
	AssignedControllerIDs []string  `json:"assigned_controller_ids"`
	Assigned              int       `json:"assigned"`
	AlreadyAssigned       int       `json:"already_assigned"`
	Actions               []*Action `json:"actions"`
}

// Chunk splits ids into consecutive chunks of at most size elements. Multi-row
// statements are bounded this way because databases limit the number of
// entries in an IN clause.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for size < len(items) {
		chunks = append(chunks, items[:size])
		items = items[size:]
	}
	return append(chunks, items)
}
