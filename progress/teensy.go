package progress

import "strings"

// TeensyBlockSize is the number of bytes teensy_loader_cli writes per "."
// it prints (1024 on Teensy 4.0 and 4.1).
const TeensyBlockSize = 1024

// TeensyMarker is printed by the loader once it starts writing blocks.
const TeensyMarker = "Programming"

// TeensyProgress estimates upload progress from the loader's dot stream.
type TeensyProgress struct {
	size    int64
	seen    bool
	dots    int
	pending string
	percent int
}

func NewTeensyProgress(size int64) *TeensyProgress {
	p := &TeensyProgress{}
	p.Reset(size)
	return p
}

// Reset clears all state and sets the expected firmware size in bytes.
func (p *TeensyProgress) Reset(size int64) {
	*p = TeensyProgress{size: size}
}

// Programming reports whether the marker has been seen.
func (p *TeensyProgress) Programming() bool {
	return p.seen
}

// Dots returns the number of blocks counted since the marker.
func (p *TeensyProgress) Dots() int {
	return p.dots
}

// DotsToPercent converts a block count into a percentage of the expected size.
func (p *TeensyProgress) DotsToPercent(dots int) int {
	if p.size <= 0 {
		return 0
	}
	return int(int64(dots) * TeensyBlockSize * 100 / p.size)
}

// Parse feeds a chunk of loader output and returns the current percentage.
// Output before the marker is buffered until the marker shows up, since it
// may arrive split across chunks.
func (p *TeensyProgress) Parse(chunk string) int {
	p.pending += chunk

	if _, after, ok := strings.Cut(p.pending, TeensyMarker); ok {
		p.seen = true
		p.dots = 0
		p.pending = after
	}

	if !p.seen {
		// Keep only enough to match a marker split across chunks.
		if keep := len(TeensyMarker) - 1; len(p.pending) > keep {
			p.pending = p.pending[len(p.pending)-keep:]
		}
		return p.percent
	}
	if p.size <= 0 {
		p.pending = ""
		return 0
	}

	p.dots += strings.Count(p.pending, ".")
	p.pending = ""
	p.percent = p.DotsToPercent(p.dots)
	return p.percent
}
