package progress

// CopyPercent returns floor(copied/total*100). A zero or negative total
// yields 0 so an empty file never reports progress.
func CopyPercent(copied, total int64) int {
	if total <= 0 || copied <= 0 {
		return 0
	}
	if copied >= total {
		return 100
	}
	return int(copied * 100 / total)
}

// CopyTracker reports byte-copy progress, forwarding only increases.
type CopyTracker struct {
	total  int64
	copied int64
	last   int
	report func(int)
}

func NewCopyTracker(total int64, report func(int)) *CopyTracker {
	return &CopyTracker{total: total, report: report}
}

// Add records n more bytes copied.
func (t *CopyTracker) Add(n int) {
	t.copied += int64(n)
	percent := CopyPercent(t.copied, t.total)
	if percent > t.last {
		t.last = percent
		if t.report != nil {
			t.report(percent)
		}
	}
}

// Copied returns the bytes counted so far.
func (t *CopyTracker) Copied() int64 {
	return t.copied
}

// Percent returns the last reported percentage.
func (t *CopyTracker) Percent() int {
	return t.last
}
