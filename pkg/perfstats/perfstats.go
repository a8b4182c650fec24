package perfstats

import (
	"fmt"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

// Add the time elapsed since start, and return the current time, so that consecutive stages can be chained
func (a *TimeAccumulator) Since(start time.Time) time.Time {
	now := time.Now()
	a.AddSample(now.Sub(start))
	return now
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Time spent in each stage of processing a frame
type FrameStages struct {
	Decode    TimeAccumulator
	Detect    TimeAccumulator
	Annotate  TimeAccumulator
	Serialize TimeAccumulator
}

func (s *FrameStages) Reset() {
	s.Decode.Reset()
	s.Detect.Reset()
	s.Annotate.Reset()
	s.Serialize.Reset()
}

func (s *FrameStages) String() string {
	ms := func(a *TimeAccumulator) string {
		return fmt.Sprintf("%.1f ms", a.Average().Seconds()*1000)
	}
	return fmt.Sprintf("decode %v, detect %v, annotate %v, serialize %v (%v frames)",
		ms(&s.Decode), ms(&s.Detect), ms(&s.Annotate), ms(&s.Serialize), s.Detect.Samples)
}
