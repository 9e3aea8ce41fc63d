package progress

import "io"

// Reader wraps an io.Reader and counts the bytes read through it.
type Reader struct {
	Reader io.Reader
	// Total is the expected number of bytes, or a non-positive value when unknown.
	Total     int64
	totalRead int64
}

func NewReader(r io.Reader, total int64) *Reader {
	return &Reader{
		Reader: r,
		Total:  total,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	pr.totalRead += int64(n)

	return n, err
}

// BytesRead returns the cumulative number of bytes read.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}

// Percent returns floor(read*100/total) clamped to [0,100], or -1 when Total is unknown.
func (pr *Reader) Percent() int {
	return Percent(pr.totalRead, pr.Total)
}

// Percent computes a completion percentage, or -1 when total is non-positive.
func Percent(done, total int64) int {
	if total <= 0 {
		return -1
	}

	pct := done * 100 / total

	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}

	return int(pct)
}

// Throttle decides when a progress update is worth reporting: every time the
// percentage advances by step points, or every interval bytes when the total is unknown.
type Throttle struct {
	step        int
	interval    int64
	lastPercent int
	lastBytes   int64
}

func NewThrottle(step int, interval int64) *Throttle {
	return &Throttle{
		step:        step,
		interval:    interval,
		lastPercent: -1,
	}
}

// Allow reports whether an update for (percent, written) should be emitted.
func (t *Throttle) Allow(percent int, written int64) bool {
	if percent < 0 {
		if written-t.lastBytes >= t.interval {
			t.lastBytes = written

			return true
		}

		return false
	}

	if t.lastPercent < 0 || percent >= t.lastPercent+t.step || (percent == 100 && t.lastPercent != 100) {
		t.lastPercent = percent

		return true
	}

	return false
}
