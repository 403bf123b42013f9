package domain

import "time"

// OfflineStatus aggregates connectivity and queue state for the UI.
type OfflineStatus struct {
	IsOnline             bool          `json:"isOnline"`
	IsConnected          bool          `json:"isConnected"`
	ManualOffline        bool          `json:"manualOffline"`
	InferredOffline      bool          `json:"inferredOffline"`
	Tier                 QualityTier   `json:"tier"`
	Pending              PendingCounts `json:"pending"`
	LastSyncAt           *time.Time    `json:"lastSyncAt,omitempty"`
	EstimatedSyncSeconds float64       `json:"estimatedSyncSeconds"`
}
