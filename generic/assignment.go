/*
assignment.go - Per-role assignment slots and the assignment history

PURPOSE:
  Each order has two independent slots, one per Role. A slot holds at
  most one fulfiller at a time and moves through:

    unassigned ──assign──▶ pending ──accept──▶ accepted
        ▲                     │                    │
        └──reject/timeout/────┘                    │
        └──cancel──────────────────────────────────┘

  Every transition appends an Assignment row, so the slot is the
  current state and the history is the audit trail. Cook performance
  counters are derived from the history at read time.

VERSIONING:
  Slot.Version increments on every write; stores compare-and-swap on it.
  Confirmation tokens also carry it as a precondition.

SEE ALSO:
  - allocation/engine.go: The state machine
  - store.go: SaveSlot, AppendAssignment
*/
package generic

import "time"

// =============================================================================
// SLOT STATE
// =============================================================================

type SlotStatus string

const (
	SlotUnassigned SlotStatus = "unassigned"
	SlotPending    SlotStatus = "pending"
	SlotAccepted   SlotStatus = "accepted"
)

// AssignmentSlot is the current assignment of one role on one order.
type AssignmentSlot struct {
	OrderID     OrderID
	Role        Role
	FulfillerID *FulfillerID
	Status      SlotStatus
	AssignedAt  *time.Time
	RespondedAt *time.Time
	Version     int64
}

// IsActive reports whether a fulfiller currently holds the slot.
func (s AssignmentSlot) IsActive() bool {
	return s.Status == SlotPending || s.Status == SlotAccepted
}

// HeldBy reports whether id currently holds the slot.
func (s AssignmentSlot) HeldBy(id FulfillerID) bool {
	return s.IsActive() && s.FulfillerID != nil && *s.FulfillerID == id
}

// Released returns the slot cleared back to unassigned. Version is left to the store.
func (s AssignmentSlot) Released(at time.Time) AssignmentSlot {
	s.FulfillerID = nil
	s.Status = SlotUnassigned
	s.AssignedAt = nil
	s.RespondedAt = &at
	return s
}

// =============================================================================
// HISTORY
// =============================================================================

type Outcome string

const (
	OutcomeOffered   Outcome = "offered"
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCancelled Outcome = "cancelled"
)

// Assignment is one immutable row of the assignment history.
type Assignment struct {
	ID          AssignmentID
	OrderID     OrderID
	Role        Role
	FulfillerID FulfillerID
	Outcome     Outcome
	Reason      string
	At          time.Time
}

// AssignmentFilter narrows ListAssignments. Zero fields match everything.
type AssignmentFilter struct {
	OrderID     OrderID
	Role        Role
	FulfillerID FulfillerID
	Outcome     Outcome
}

func (f AssignmentFilter) Matches(a Assignment) bool {
	return (f.OrderID == "" || a.OrderID == f.OrderID) &&
		(f.Role == "" || a.Role == f.Role) &&
		(f.FulfillerID == "" || a.FulfillerID == f.FulfillerID) &&
		(f.Outcome == "" || a.Outcome == f.Outcome)
}
