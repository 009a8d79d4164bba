package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerAdd(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 4; i++ {
		tr.Add("listed", 0)
	}
	tr.Add("copied", 100)
	tr.Add("skipped_existing", 0)
	tr.Add("failed", 0)
	tr.Add("list_error", 0)

	status := tr.GetStatus()
	assert.Equal(t, int64(4), status.ListedObjects)
	assert.Equal(t, int64(3), status.ProcessedObjects)
	assert.Equal(t, int64(1), status.Pending())
	assert.Equal(t, int64(100), status.CopiedBytes)
	assert.Equal(t, int64(1), status.ListErrors)
	assert.InDelta(t, 75.0, tr.GetProgressPercent(), 0.001)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "1.0 KB/s", FormatSpeed(1024))
	assert.Equal(t, "1h2m3s", FormatDuration(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "[#####.....]", progressBar(50, 10))
}

func TestDisplayStopPrintsSummary(t *testing.T) {
	tr := NewTracker()
	tr.Add("listed", 0)
	tr.Add("copied", 10)

	var buf bytes.Buffer
	d := NewDisplay(tr, time.Hour)
	d.out = &buf
	d.Start()
	d.Stop()
	d.Stop()

	out := buf.String()
	assert.True(t, strings.Contains(out, "Replication finished"))
	assert.True(t, strings.Contains(out, "Copied:   1 (10 B)"))
}
