package audit

import "time"

// Record is one immutable audit log row. Rows are append-only; the
// only mutation the module supports is retention trimming.
type Record struct {
	ID       int64     `json:"id"`
	ActorID  int64     `json:"actor_id"`
	Action   string    `json:"action"`
	Entity   string    `json:"entity"`
	EntityID int64     `json:"entity_id"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Filter narrows timeline queries.
type Filter struct {
	Entity   string
	EntityID int64
	ActorID  int64
	Action   string
}
