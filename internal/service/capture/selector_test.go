package capture

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func frameNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%013d-%06d.jpg", 1700000000000+i, i+1)
	}
	return names
}

func TestSelectFramesEmpty(t *testing.T) {
	if _, err := SelectFrames(nil, DefaultMaxFrames); !errors.Is(err, ErrInsufficientFrames) {
		t.Fatalf("expected ErrInsufficientFrames, got %v", err)
	}
}

func TestSelectFramesShortSequencesPassThrough(t *testing.T) {
	for n := 1; n <= DefaultMaxFrames; n++ {
		frames := frameNames(n)
		got, err := SelectFrames(frames, DefaultMaxFrames)
		if err != nil {
			t.Fatalf("len=%d: unexpected error: %v", n, err)
		}
		if !reflect.DeepEqual(got, frames) {
			t.Fatalf("len=%d: expected identity, got %v", n, got)
		}
	}
}

func TestSelectFramesTenPicksEvenStride(t *testing.T) {
	frames := frameNames(10)
	got, err := SelectFrames(frames, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// stride = floor(10/4) = 2, so original indices 0, 2, 4, 6.
	want := []string{frames[0], frames[2], frames[4], frames[6]}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSelectFramesDeterministic(t *testing.T) {
	for _, n := range []int{5, 7, 13, 100} {
		frames := frameNames(n)
		first, err := SelectFrames(frames, 4)
		if err != nil {
			t.Fatalf("len=%d: unexpected error: %v", n, err)
		}
		second, _ := SelectFrames(frames, 4)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("len=%d: selection not deterministic", n)
		}
		if len(first) != 4 {
			t.Fatalf("len=%d: expected 4 frames, got %d", n, len(first))
		}
		if first[0] != frames[0] {
			t.Fatalf("len=%d: first selected frame must be index 0", n)
		}
	}
}

func TestSelectFramesDoesNotMutateInput(t *testing.T) {
	frames := frameNames(10)
	selected, err := SelectFrames(frames, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	selected[0] = "mutated"
	if frames[0] == "mutated" {
		t.Fatalf("selection must copy, not alias, the input")
	}
}
