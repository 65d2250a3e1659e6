package av

import (
	"sync"
	"sync/atomic"
	"time"
)

// FrameStats accumulates client frame counters between two stats reports.
//
// Counters are updated from the send, receive and fold goroutines and read
// and reset by the stats goroutine.
//
// Example usage:
//
//	stats := &FrameStats{}
//	stats.AddUpload(len(request))
//	report := stats.Report(5*time.Second, controller)
//	fmt.Printf("FPS %.1f | Delay %s\n", report.FPS, report.Delay)
type FrameStats struct {
	uploadBytes   atomic.Uint64
	downloadBytes atomic.Uint64
	framesDecoded atomic.Uint64
	decodeNanos   atomic.Int64
	framesShown   atomic.Uint64
	framesSkipped atomic.Uint64
}

// StatsReport is one reporting period worth of frame statistics.
type StatsReport struct {
	FPS            float64
	Delay          time.Duration
	UploadKBps     float64
	DownloadKBps   float64
	OnTimeRate     float64
	AverageDecode  time.Duration
	FramesDecoded  uint64
	FramesSkipped  uint64
	ReportDuration time.Duration
}

// AddUpload counts bytes of one outbound request.
func (s *FrameStats) AddUpload(n int) { s.uploadBytes.Add(uint64(n)) }

// AddDownload counts bytes of one inbound response.
func (s *FrameStats) AddDownload(n int) { s.downloadBytes.Add(uint64(n)) }

// AddDecode counts one decode attempt and its duration.
func (s *FrameStats) AddDecode(d time.Duration) {
	s.framesDecoded.Add(1)
	s.decodeNanos.Add(int64(d))
}

// AddShown counts one picture published for display.
func (s *FrameStats) AddShown() { s.framesShown.Add(1) }

// AddSkipped counts one tick on which no request was issued.
func (s *FrameStats) AddSkipped() { s.framesSkipped.Add(1) }

// Report builds a StatsReport for a period of the given length and resets
// the counters. The delay and on-time rate are read from dc when not nil.
func (s *FrameStats) Report(period time.Duration, dc *DelayController) StatsReport {
	seconds := period.Seconds()
	if seconds <= 0 {
		seconds = 1
	}

	decoded := s.framesDecoded.Swap(0)
	decodeNanos := s.decodeNanos.Swap(0)

	report := StatsReport{
		FPS:            float64(s.framesShown.Swap(0)) / seconds,
		UploadKBps:     float64(s.uploadBytes.Swap(0)>>10) / seconds,
		DownloadKBps:   float64(s.downloadBytes.Swap(0)>>10) / seconds,
		FramesDecoded:  decoded,
		FramesSkipped:  s.framesSkipped.Swap(0),
		ReportDuration: period,
		OnTimeRate:     1,
	}
	if decoded > 0 {
		report.AverageDecode = time.Duration(decodeNanos / int64(decoded))
	}
	if dc != nil {
		report.Delay = dc.Delay()
		report.OnTimeRate = dc.OnTimeRate()
	}
	return report
}

// LatencyAverager accumulates round-trip latencies of one session between
// two stats reports.
type LatencyAverager struct {
	mu     sync.Mutex
	total  time.Duration
	frames int
}

// Add records one latency sample.
func (l *LatencyAverager) Add(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total += d
	l.frames++
}

// AverageAndReset returns the mean latency since the last call and whether
// any sample was recorded, then starts a new period.
func (l *LatencyAverager) AverageAndReset() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	defer func() {
		l.total = 0
		l.frames = 0
	}()
	if l.frames == 0 {
		return 0, false
	}
	return l.total / time.Duration(l.frames), true
}
