// Package domain contains the core entities and value objects of fieldsync.
//
// This package is the innermost layer. It has no dependencies on
// infrastructure concerns (HTTP, storage, logging) and contains only the data
// model, its invariants, and the error taxonomy.
//
// # Entities
//
//   - [Operation]: a pending mutation awaiting synchronization
//   - [BatchExecution]: an ordered group of operations executed together
//   - [ConnectionQualitySnapshot]: one network quality reading
//   - [CriticalOperation]: an operation with an optimistic local write that
//     must survive process restarts
//   - [FailedOperationRecord]: a normalized view over failures from any source
package domain
