package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"expensedash/internal/core"
)

// ChangeMessage announces an acknowledged mutation. It carries only ids;
// receivers refetch the owner's list instead of applying the change.
type ChangeMessage struct {
	Op        core.Op   `json:"op"`
	OwnerID   core.ID   `json:"owner_id"`
	ExpenseID core.ID   `json:"expense_id"`
	Timestamp time.Time `json:"timestamp"`
	// Source is the instance id of the publishing process.
	Source    string    `json:"source,omitempty"`
}

// NewChangeMessage builds the message for change, stamping it now if the
// change has no time.
func NewChangeMessage(change core.Change) *ChangeMessage {
	ts := change.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &ChangeMessage{
		Op:        change.Op,
		OwnerID:   change.OwnerID,
		ExpenseID: change.ExpenseID,
		Timestamp: ts,
	}
}

// Change converts the message back to the domain value.
func (m *ChangeMessage) Change() core.Change {
	return core.Change{Op: m.Op, OwnerID: m.OwnerID, ExpenseID: m.ExpenseID, At: m.Timestamp}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON parses and checks a message body.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Op {
	case core.OpCreated, core.OpUpdated, core.OpRemoved:
	default:
		return nil, fmt.Errorf("unknown change op %q", msg.Op)
	}
	return &msg, nil
}
