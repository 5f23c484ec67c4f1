package teams

import "time"

// Clock abstracts wall-clock time so tests can control timestamps without
// sleeping real time.
type Clock interface {
	NowMs() int64
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) NowMs() int64 { return time.Now().UnixMilli() }
