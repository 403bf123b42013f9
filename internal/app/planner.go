package app

import (
	"sort"

	"github.com/bft-labs/fieldsync/internal/domain"
)

// CriticalBatchSize is the fixed batch size of critical operations.
const CriticalBatchSize = 5

// PlanBatches splits ops into the batches a drain would execute, in order.
// ops must be in enqueue (FIFO) order.
//
// Critical operations come first, ordered by entity importance and then
// newest first, in chunks of criticalChunk. Normal and then low operations
// follow in FIFO order, in chunks of batchSize.
func PlanBatches(ops []domain.Operation, batchSize, criticalChunk int) [][]domain.Operation {
	if batchSize < 1 {
		batchSize = 1
	}
	if criticalChunk < 1 {
		criticalChunk = CriticalBatchSize
	}

	var critical, normal, low []domain.Operation
	for _, op := range ops {
		switch op.Priority {
		case domain.PriorityCritical:
			critical = append(critical, op)
		case domain.PriorityNormal:
			normal = append(normal, op)
		default:
			low = append(low, op)
		}
	}

	// Reverse so that ties on timestamp resolve newest first.
	for i, j := 0, len(critical)-1; i < j; i, j = i+1, j-1 {
		critical[i], critical[j] = critical[j], critical[i]
	}
	sort.SliceStable(critical, func(i, j int) bool {
		a, b := critical[i], critical[j]
		ia, ib := domain.EntityImportance(a.EntityType), domain.EntityImportance(b.EntityType)
		if ia != ib {
			return ia > ib
		}
		return a.EnqueuedAt.After(b.EnqueuedAt)
	})

	var batches [][]domain.Operation
	batches = appendChunks(batches, critical, criticalChunk)
	batches = appendChunks(batches, append(normal, low...), batchSize)
	return batches
}

func appendChunks(batches [][]domain.Operation, ops []domain.Operation, size int) [][]domain.Operation {
	for len(ops) > 0 {
		n := size
		if n > len(ops) {
			n = len(ops)
		}
		batches = append(batches, ops[:n:n])
		ops = ops[n:]
	}
	return batches
}
