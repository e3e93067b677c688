package audit

import (
	"encoding/json"
	"time"
)

type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
)

// Entry is one immutable contract_details_logs row. Snapshots are whole-object
// JSON; diffing is left to consumers.
type Entry struct {
	ID            int64           `json:"id"`
	ContractID    int64           `json:"contractId"`
	Operation     Operation       `json:"operation"`
	PreviousData  json.RawMessage `json:"previousData,omitempty"`
	NewData       json.RawMessage `json:"newData"`
	ActorID       *int64          `json:"actorId,omitempty"`
	Source        string          `json:"source"`
	Remark        string          `json:"remark"`
	CorrelationID string          `json:"correlationId"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// RecordParams enumerates what a mutation hands to the logger. Previous is nil
// for creations.
type RecordParams struct {
	ContractID int64
	Operation  Operation
	Previous   any
	New        any
	ActorID    int64
	Source     string
	Remark     string
}
