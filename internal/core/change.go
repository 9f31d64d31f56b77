package core

import "time"

// Op names a record mutation.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpRemoved Op = "removed"
)

// Change describes an acknowledged mutation of an owner's collection.
// OwnerID is empty when the owner of an updated or removed record could not
// be determined.
type Change struct {
	Op        Op        `json:"op"`
	OwnerID   ID        `json:"owner_id"`
	ExpenseID ID        `json:"expense_id"`
	At        time.Time `json:"timestamp"`
}
