package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Display periodically prints tracker status to a terminal
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewDisplay creates a new progress display writing to stdout
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      os.Stdout,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop prints the final summary and waits for the loop to exit
func (d *Display) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		<-d.doneCh
	})
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, d.statusLine(d.tracker.GetStatus()))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.finalLines(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

func (d *Display) statusLine(status Status) string {
	percent := d.tracker.GetProgressPercent()
	return fmt.Sprintf("%s %d/%d keys (%.1f%%) copied=%d skipped=%d failed=%d pending=%d %s",
		progressBar(percent, 30),
		status.ProcessedObjects, status.ListedObjects, percent,
		status.CopiedObjects, status.SkippedObjects, status.FailedObjects, status.Pending(),
		FormatSpeed(status.CurrentSpeed),
	)
}

func (d *Display) finalLines(status Status) []string {
	elapsed := time.Since(status.StartTime)
	return []string{
		"",
		"Replication finished",
		strings.Repeat("=", 40),
		fmt.Sprintf("Listed:   %d", status.ListedObjects),
		fmt.Sprintf("Copied:   %d (%s)", status.CopiedObjects, FormatBytes(status.CopiedBytes)),
		fmt.Sprintf("Skipped:  %d", status.SkippedObjects),
		fmt.Sprintf("Failed:   %d", status.FailedObjects),
		fmt.Sprintf("Elapsed:  %s", FormatDuration(elapsed)),
		fmt.Sprintf("Speed:    %s", FormatSpeed(status.AverageSpeed)),
		"",
	}
}

func progressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// IsTerminalSupported reports whether stdout is a character device
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
