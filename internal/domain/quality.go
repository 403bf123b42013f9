package domain

import "time"

// QualityTier classifies a connection.
type QualityTier string

const (
	TierExcellent QualityTier = "excellent"
	TierGood      QualityTier = "good"
	TierPoor      QualityTier = "poor"
	TierOffline   QualityTier = "offline"
)

// TierForScore maps a 0..100 score onto a tier.
func TierForScore(score float64) QualityTier {
	switch {
	case score >= 80:
		return TierExcellent
	case score >= 60:
		return TierGood
	case score >= 30:
		return TierPoor
	default:
		return TierOffline
	}
}

// PerOperationEstimate is the expected wall time of one remote write on tier.
func (t QualityTier) PerOperationEstimate() time.Duration {
	switch t {
	case TierExcellent:
		return 500 * time.Millisecond
	case TierGood:
		return time.Second
	case TierPoor:
		return 3 * time.Second
	default:
		return 5 * time.Second
	}
}

// ConnectionQualitySnapshot is a single network quality reading.
type ConnectionQualitySnapshot struct {
	Tier         QualityTier `json:"tier"`
	LatencyMs    float64     `json:"latencyMs"`
	DownloadMbps float64     `json:"downloadMbps"`
	UploadMbps   float64     `json:"uploadMbps"`
	IsStable     bool        `json:"isStable"`
	Score        float64     `json:"score"`
	SampledAt    time.Time   `json:"sampledAt"`
}

// AdaptiveStrategy holds the batching and retry parameters derived from the
// current connection quality.
type AdaptiveStrategy struct {
	BatchSize          int           `json:"batchSize"`
	ProcessingDelay    time.Duration `json:"processingDelay"`
	RetryAttempts      int           `json:"retryAttempts"`
	Timeout            time.Duration `json:"timeout"`
	PriorityThreshold  Priority      `json:"priorityThreshold"`
	UseCompression     bool          `json:"useCompression"`
	AggressiveBatching bool          `json:"aggressiveBatching"`
}

var strategies = map[QualityTier]AdaptiveStrategy{
	TierExcellent: {
		BatchSize:          20,
		ProcessingDelay:    500 * time.Millisecond,
		RetryAttempts:      3,
		Timeout:            10 * time.Second,
		PriorityThreshold:  PriorityLow,
		UseCompression:     false,
		AggressiveBatching: true,
	},
	TierGood: {
		BatchSize:          10,
		ProcessingDelay:    time.Second,
		RetryAttempts:      3,
		Timeout:            15 * time.Second,
		PriorityThreshold:  PriorityNormal,
		UseCompression:     false,
		AggressiveBatching: true,
	},
	TierPoor: {
		BatchSize:          3,
		ProcessingDelay:    3 * time.Second,
		RetryAttempts:      5,
		Timeout:            30 * time.Second,
		PriorityThreshold:  PriorityCritical,
		UseCompression:     true,
		AggressiveBatching: false,
	},
	TierOffline: {
		BatchSize:          1,
		ProcessingDelay:    10 * time.Second,
		RetryAttempts:      5,
		Timeout:            60 * time.Second,
		PriorityThreshold:  PriorityCritical,
		UseCompression:     true,
		AggressiveBatching: false,
	},
}

// StrategyFor returns the fixed strategy of tier. Unknown tiers get the
// offline strategy.
func StrategyFor(tier QualityTier) AdaptiveStrategy {
	if s, ok := strategies[tier]; ok {
		return s
	}
	return strategies[TierOffline]
}
