package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
)

// ProgressTracker displays transfer progress and collects statistics. It
// implements io.Writer so it can sit behind an io.TeeReader.
type ProgressTracker struct {
	bar       *pb.ProgressBar
	quiet     bool
	out       io.Writer
	startTime time.Time
	current   int64
	filename  string
	mutex     sync.RWMutex

	lastUpdate   time.Time
	lastBytes    int64
	speedSamples []float64
	maxSamples   int
}

// TransferSummary contains final transfer statistics
type TransferSummary struct {
	TotalBytes   int64
	TotalTime    time.Duration
	AverageSpeed float64 // bytes per second
	PeakSpeed    float64 // bytes per second
	Filename     string
}

// NewProgressTracker creates a tracker writing to stderr. A total of zero
// or less means the size is unknown.
func NewProgressTracker(total int64, quiet bool) *ProgressTracker {
	return NewProgressTrackerTo(os.Stderr, "Fetching: ", total, quiet)
}

// NewProgressTrackerTo creates a tracker drawing its bar on out
func NewProgressTrackerTo(out io.Writer, prefix string, total int64, quiet bool) *ProgressTracker {
	now := time.Now()
	tracker := &ProgressTracker{
		quiet:        quiet,
		out:          out,
		startTime:    now,
		lastUpdate:   now,
		speedSamples: make([]float64, 0),
		maxSamples:   10,
	}

	if !quiet {
		tmpl := `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`
		if total <= 0 {
			tmpl = `{{string . "prefix"}}{{counters . }} {{speed . }}`
		}
		bar := pb.New64(total).SetTemplate(pb.ProgressBarTemplate(tmpl))
		bar.SetWriter(out)
		bar.Set(pb.Bytes, true)
		bar.Set(pb.SIBytesPrefix, true)
		bar.Set("prefix", prefix)
		tracker.bar = bar.Start()
	}

	return tracker
}

// Write records len(p) transferred bytes
func (p *ProgressTracker) Write(b []byte) (int, error) {
	p.mutex.RLock()
	current := p.current
	p.mutex.RUnlock()

	p.Update(current + int64(len(b)))
	return len(b), nil
}

// Update sets the absolute byte count and refreshes the speed samples
func (p *ProgressTracker) Update(current int64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	p.current = current

	if p.bar != nil {
		p.bar.SetCurrent(current)
	}

	timeDiff := now.Sub(p.lastUpdate).Seconds()
	if timeDiff > 0.1 {
		currentSpeed := float64(current-p.lastBytes) / timeDiff

		p.speedSamples = append(p.speedSamples, currentSpeed)
		if len(p.speedSamples) > p.maxSamples {
			p.speedSamples = p.speedSamples[1:]
		}

		p.lastUpdate = now
		p.lastBytes = current
	}
}

// Finish completes the progress bar and returns the transfer summary
func (p *ProgressTracker) Finish() *TransferSummary {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	totalTime := time.Since(p.startTime)

	if p.bar != nil {
		p.bar.Finish()
	}

	var averageSpeed float64
	if totalTime > 0 {
		averageSpeed = float64(p.current) / totalTime.Seconds()
	}

	var peakSpeed float64
	for _, speed := range p.speedSamples {
		if speed > peakSpeed {
			peakSpeed = speed
		}
	}

	summary := &TransferSummary{
		TotalBytes:   p.current,
		TotalTime:    totalTime,
		AverageSpeed: averageSpeed,
		PeakSpeed:    peakSpeed,
		Filename:     p.filename,
	}

	if !p.quiet {
		p.displaySummary(summary)
	}

	return summary
}

// displaySummary prints the transfer summary statistics
func (p *ProgressTracker) displaySummary(summary *TransferSummary) {
	fmt.Fprintf(p.out, "\n")
	fmt.Fprintf(p.out, "Total size: %s\n", FormatBytes(summary.TotalBytes))
	fmt.Fprintf(p.out, "Total time: %v\n", summary.TotalTime.Round(time.Millisecond))
	fmt.Fprintf(p.out, "Average speed: %s/s\n", FormatBytes(int64(summary.AverageSpeed)))
	if summary.PeakSpeed > 0 {
		fmt.Fprintf(p.out, "Peak speed: %s/s\n", FormatBytes(int64(summary.PeakSpeed)))
	}
	if summary.Filename != "" {
		fmt.Fprintf(p.out, "Saved to: %s\n", summary.Filename)
	}
}

// SetFilename sets the destination reported in the summary
func (p *ProgressTracker) SetFilename(filename string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.filename = filename
}

// FormatBytes formats byte count as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders a millisecond duration as m:ss, or h:mm:ss for an
// hour or more
func FormatDuration(ms uint64) string {
	total := ms / 1000
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
