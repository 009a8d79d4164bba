package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the current replication status. Listing and copying run
// concurrently, so ListedObjects keeps growing until every lister finishes.
type Status struct {
	ListedObjects    int64
	ProcessedObjects int64
	CopiedObjects    int64
	SkippedObjects   int64
	FailedObjects    int64
	ListErrors       int64
	CopiedBytes      int64
	StartTime        time.Time
	LastUpdateTime   time.Time
	CurrentSpeed     float64 // bytes/second over the last few seconds
	AverageSpeed     float64 // bytes/second since start
}

// Pending is the number of listed keys not yet resolved
func (s Status) Pending() int64 {
	if p := s.ListedObjects - s.ProcessedObjects; p > 0 {
		return p
	}
	return 0
}

// Tracker tracks replication progress
type Tracker struct {
	mu           sync.RWMutex
	status       Status
	speedSamples []speedSample
	maxSamples   int
}

type speedSample struct {
	timestamp time.Time
	bytes     int64
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return &Tracker{
		status: Status{
			StartTime:      time.Now(),
			LastUpdateTime: time.Now(),
		},
		speedSamples: make([]speedSample, 0, 60),
		maxSamples:   60,
	}
}

// Add records one outcome. Outcome names match worker.Outcome values.
func (t *Tracker) Add(outcome string, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch outcome {
	case "listed":
		t.status.ListedObjects++
	case "copied":
		t.status.CopiedObjects++
		t.status.ProcessedObjects++
		t.status.CopiedBytes += bytes
		t.updateSpeed(bytes)
	case "skipped_cached", "skipped_existing", "claimed_elsewhere":
		t.status.SkippedObjects++
		t.status.ProcessedObjects++
	case "failed":
		t.status.FailedObjects++
		t.status.ProcessedObjects++
	case "list_error":
		t.status.ListErrors++
	}
	t.status.LastUpdateTime = time.Now()
}

// updateSpeed must be called with lock held
func (t *Tracker) updateSpeed(bytes int64) {
	now := time.Now()

	t.speedSamples = append(t.speedSamples, speedSample{timestamp: now, bytes: bytes})
	if len(t.speedSamples) > t.maxSamples {
		t.speedSamples = t.speedSamples[1:]
	}

	t.calculateCurrentSpeed(now)
	t.calculateAverageSpeed(now)
}

// calculateCurrentSpeed uses samples from the last five seconds
func (t *Tracker) calculateCurrentSpeed(now time.Time) {
	if len(t.speedSamples) < 2 {
		t.status.CurrentSpeed = 0
		return
	}

	cutoff := now.Add(-5 * time.Second)
	var recentBytes int64
	var firstSample *speedSample

	for i := len(t.speedSamples) - 1; i >= 0; i-- {
		sample := &t.speedSamples[i]
		if sample.timestamp.Before(cutoff) {
			break
		}
		recentBytes += sample.bytes
		firstSample = sample
	}

	if firstSample != nil {
		if d := now.Sub(firstSample.timestamp); d > 0 {
			t.status.CurrentSpeed = float64(recentBytes) / d.Seconds()
		}
	}
}

func (t *Tracker) calculateAverageSpeed(now time.Time) {
	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageSpeed = float64(t.status.CopiedBytes) / elapsed.Seconds()
	}
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// GetProgressPercent returns resolved keys as a share of keys listed so far
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.ListedObjects == 0 {
		return 0
	}
	return float64(t.status.ProcessedObjects) / float64(t.status.ListedObjects) * 100
}

// FormatSpeed formats speed in human readable format
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	case bytes < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1024*1024*1024))
	}
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
