package geo

import (
	"errors"
	"image"
	"testing"
)

func TestValidate(t *testing.T) {
	if _, err := Region(0, 0, 50, 50); err != nil {
		t.Fatalf("expected valid region, got %v", err)
	}
	bad := []CropRegion{
		{StartX: -1, StartY: 0, EndX: 10, EndY: 10},
		{StartX: 10, StartY: 0, EndX: 10, EndY: 10},
		{StartX: 0, StartY: 20, EndX: 10, EndY: 5},
	}
	for _, r := range bad {
		if err := r.Validate(); !errors.Is(err, ErrInvalidRegion) {
			t.Fatalf("%s: expected ErrInvalidRegion, got %v", r, err)
		}
	}
}

func TestFits(t *testing.T) {
	page := image.Rect(0, 0, 1000, 1000)
	if err := (CropRegion{0, 0, 50, 50}).Fits(page); err != nil {
		t.Fatalf("expected fit, got %v", err)
	}
	if err := (CropRegion{0, 0, 1000, 1000}).Fits(page); err != nil {
		t.Fatalf("full-page region should fit, got %v", err)
	}
	if err := (CropRegion{0, 0, 9999, 9999}).Fits(page); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	// bounds that do not start at the origin are measured relative to Min
	shifted := image.Rect(100, 100, 200, 200)
	if err := (CropRegion{0, 0, 100, 100}).Fits(shifted); err != nil {
		t.Fatalf("expected fit on shifted bounds, got %v", err)
	}
}

func TestFromPreview(t *testing.T) {
	r, err := FromPreview(10.7, 20.2, 30.9, 40.5, 3)
	if err != nil {
		t.Fatalf("FromPreview() error = %v", err)
	}
	want := CropRegion{StartX: 32, StartY: 60, EndX: 92, EndY: 121}
	if r != want {
		t.Fatalf("got %s, want %s", r, want)
	}

	// dragging right-to-left and bottom-to-top yields the same rectangle
	flipped, err := FromPreview(30.9, 40.5, 10.7, 20.2, 3)
	if err != nil || flipped != want {
		t.Fatalf("flipped drag: got %s (%v), want %s", flipped, err, want)
	}

	if _, err := FromPreview(0, 0, 10, 10, 0); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("expected divisor error, got %v", err)
	}
	if _, err := FromPreview(5, 5, 5, 9, 2); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("expected empty region error, got %v", err)
	}
}
