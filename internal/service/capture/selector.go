package capture

import "errors"

// ErrInsufficientFrames is returned when a reconstruction is requested for a
// session that has no frames to submit.
var ErrInsufficientFrames = errors.New("no frames captured for this session")

// DefaultMaxFrames is the number of frames submitted to the reconstruction
// provider per job.
const DefaultMaxFrames = 4

// SelectFrames picks a bounded, representative subset of an ordered frame
// sequence by even striding: index i*floor(len/max) for i in [0, max).
// Sequences no longer than max are returned unchanged. Deterministic for a
// given input order, which the reconstruction tests rely on.
func SelectFrames(frames []string, max int) ([]string, error) {
	if len(frames) == 0 {
		return nil, ErrInsufficientFrames
	}
	if max <= 0 || len(frames) <= max {
		out := make([]string, len(frames))
		copy(out, frames)
		return out, nil
	}

	stride := len(frames) / max
	out := make([]string, 0, max)
	for i := 0; i < max; i++ {
		out = append(out, frames[i*stride])
	}
	return out, nil
}
