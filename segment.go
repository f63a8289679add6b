package shifter

import "fmt"

// Segment is a half-open range [Start, End) of mel frames over which
// synthesized audio is cached independently.
type Segment struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

// Len returns the number of frames in the segment.
func (s Segment) Len() int { return s.End - s.Start }

// Overlaps reports whether the closed frame range [minX, maxX] touches the
// segment.
func (s Segment) Overlaps(minX, maxX int) bool {
	return !(maxX < s.Start || minX >= s.End)
}

// SanitizeSegments clamps negative starts to zero and ends before starts to
// the start, the same repair the feature extractor applies. The input is not
// modified.
func SanitizeSegments(segments []Segment) []Segment {
	ret := make([]Segment, len(segments))
	for i, s := range segments {
		start := max(0, s.Start)
		ret[i] = Segment{Start: start, End: max(start, s.End)}
	}
	return ret
}

// ValidateSegments checks that the segments are ordered, non-overlapping and
// inside [0, numFrames].
func ValidateSegments(segments []Segment, numFrames int) error {
	for i, s := range segments {
		if s.Start < 0 || s.End < s.Start || s.End > numFrames {
			return fmt.Errorf("segment %d [%d, %d) is outside [0, %d)", i, s.Start, s.End, numFrames)
		}
		if i > 0 && segments[i-1].End > s.Start {
			return fmt.Errorf("segment %d starts at %d before segment %d ends at %d", i, s.Start, i-1, segments[i-1].End)
		}
	}
	return nil
}
