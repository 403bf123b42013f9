package fieldsync

import (
	"github.com/bft-labs/fieldsync/internal/app"
	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// Domain types re-exported for callers.
type (
	Operation                 = domain.Operation
	OperationKind             = domain.OperationKind
	Priority                  = domain.Priority
	Payload                   = domain.Payload
	Key                       = domain.Key
	PendingCounts             = domain.PendingCounts
	BatchExecution            = domain.BatchExecution
	BatchStatus               = domain.BatchStatus
	BatchProgress             = domain.BatchProgress
	QualityTier               = domain.QualityTier
	ConnectionQualitySnapshot = domain.ConnectionQualitySnapshot
	AdaptiveStrategy          = domain.AdaptiveStrategy
	OfflineStatus             = domain.OfflineStatus
	CriticalKind              = domain.CriticalKind
	CriticalOperation         = domain.CriticalOperation
	FailedOperationRecord     = domain.FailedOperationRecord
	RetryStats                = domain.RetryStats
	RetryResult               = domain.RetryResult
	SourceType                = domain.SourceType
	ErrorKind                 = domain.ErrorKind
	RemoteError               = domain.RemoteError

	// CriticalChange describes an optimistic business transition.
	CriticalChange = app.CriticalChange
)

// Port interfaces implemented by callers or by the adapters under internal/.
type (
	Logger         = ports.Logger
	LogField       = ports.Field
	Clock          = ports.Clock
	Cache          = ports.Cache
	DurableStore   = ports.DurableStore
	RemoteResolver = ports.RemoteResolver
	RemoteStore    = ports.RemoteStore
	Prober         = ports.Prober
	WorkflowSource = ports.WorkflowSource
	HTTPClient     = ports.HTTPClient
)

const (
	KindCreate = domain.KindCreate
	KindUpdate = domain.KindUpdate
	KindDelete = domain.KindDelete

	PriorityCritical = domain.PriorityCritical
	PriorityNormal   = domain.PriorityNormal
	PriorityLow      = domain.PriorityLow

	EntityJob       = domain.EntityJob
	EntityInventory = domain.EntityInventory
	EntityRoute     = domain.EntityRoute
	EntityClient    = domain.EntityClient

	TierExcellent = domain.TierExcellent
	TierGood      = domain.TierGood
	TierPoor      = domain.TierPoor
	TierOffline   = domain.TierOffline

	CriticalIncrement      = domain.CriticalIncrement
	CriticalDecrement      = domain.CriticalDecrement
	CriticalSet            = domain.CriticalSet
	CriticalStatusChange   = domain.CriticalStatusChange
	CriticalLocationUpdate = domain.CriticalLocationUpdate

	BatchProcessing = domain.BatchProcessing
	BatchCompleted  = domain.BatchCompleted
	BatchFailed     = domain.BatchFailed
	BatchPartial    = domain.BatchPartial

	ErrorKindUnknown    = domain.ErrorKindUnknown
	ErrorKindNetwork    = domain.ErrorKindNetwork
	ErrorKindAuth       = domain.ErrorKindAuth
	ErrorKindValidation = domain.ErrorKindValidation
	ErrorKindServer     = domain.ErrorKindServer

	SourceQueuedMutation        = domain.SourceQueuedMutation
	SourceReactiveCacheQuery    = domain.SourceReactiveCacheQuery
	SourceReactiveCacheMutation = domain.SourceReactiveCacheMutation
	SourceDomainWorkflow        = domain.SourceDomainWorkflow

	// OptimisticTag marks cache entries written ahead of backend confirmation.
	OptimisticTag = domain.OptimisticTag
)

// Errors returned by the Engine. Check them with errors.Is.
var (
	ErrOffline          = domain.ErrOffline
	ErrDrainInProgress  = domain.ErrDrainInProgress
	ErrNotFound         = domain.ErrNotFound
	ErrNotRetryable     = domain.ErrNotRetryable
	ErrInvalidOperation = domain.ErrInvalidOperation
	ErrAlreadyRunning   = domain.ErrAlreadyRunning
	ErrNotRunning       = domain.ErrNotRunning
	ErrShutdownTimeout  = domain.ErrShutdownTimeout
	ErrInvalidConfig    = domain.ErrInvalidConfig
)

// EntityKey returns the cache key of one entity.
func EntityKey(entityType, id string) Key {
	return domain.EntityKey(entityType, id)
}

// Classify maps err onto the failure taxonomy.
func Classify(err error) ErrorKind {
	return domain.Classify(err)
}
