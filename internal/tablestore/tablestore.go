// Package tablestore defines the external tabular store the cleanup
// engine ages diagnostic records out of.
package tablestore

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Row identifies one entity in a table.
type Row struct {
	PartitionKey string
	RowKey       string
	Timestamp    time.Time
}

// BatchOptions bounds one batch submission.
type BatchOptions struct {
	// ServerTimeout is the per-request timeout the server enforces.
	ServerTimeout time.Duration
	// OverallTimeout caps the whole submission including retries.
	OverallTimeout time.Duration
}

// BatchResult is the outcome of one operation inside a batch. Code is
// the storage error code; for ResourceNotFound the Message carries the
// index of the offending row as "<index>:<detail>".
type BatchResult struct {
	Status  int
	Code    string
	Message string
}

// CodeResourceNotFound is the storage error code for a row that no
// longer exists.
const CodeResourceNotFound = "ResourceNotFound"

// Succeeded reports whether the operation completed with a 2xx status.
func (r BatchResult) Succeeded() bool { return r.Status >= 200 && r.Status <= 299 }

// FailedIndex parses the row index out of a ResourceNotFound message.
// ok is false when the result is not a ResourceNotFound or the index
// cannot be parsed.
func (r BatchResult) FailedIndex() (int, bool) {
	if r.Code != CodeResourceNotFound {
		return 0, false
	}
	head, _, found := strings.Cut(r.Message, ":")
	if !found {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0, false
	}
	return idx, true
}

// Store is the table-store surface the cleanup engine depends on.
type Store interface {
	// TableExists reports whether the named table is present.
	TableExists(ctx context.Context, table string) (bool, error)

	// QueryByTimestamp returns rows whose Timestamp is older than
	// cutoff, one page per call. An empty returned continuation token
	// means the result set is exhausted.
	QueryByTimestamp(ctx context.Context, table string, cutoff time.Time, continuation string) ([]Row, string, error)

	// BatchDelete deletes rows (all sharing one partition key) as a
	// single batch and returns one result per row.
	BatchDelete(ctx context.Context, table string, rows []Row, opts BatchOptions) ([]BatchResult, error)
}
