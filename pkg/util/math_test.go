package util

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 1); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := Clamp(-5, 0, 1); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := Clamp(0.5, 0, 1); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
}

func TestMeanStdDev(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Mean(xs); got != 5 {
		t.Fatalf("mean: expected 5, got %v", got)
	}
	if got := StdDev(xs); math.Abs(got-2) > 1e-9 {
		t.Fatalf("stddev: expected 2, got %v", got)
	}
}

func TestEMAStep(t *testing.T) {
	got := EMAStep(1.0, 2.0, 0.1)
	if math.Abs(got-1.1) > 1e-12 {
		t.Fatalf("expected 1.1, got %v", got)
	}
}

func TestSlopeDirection(t *testing.T) {
	up := Slope([]float64{1, 2, 3, 4, 5})
	if up <= 0 {
		t.Fatalf("expected positive slope, got %v", up)
	}
	down := Slope([]float64{5, 4, 3, 2, 1})
	if down >= 0 {
		t.Fatalf("expected negative slope, got %v", down)
	}
	if got := Slope([]float64{3}); got != 0 {
		t.Fatalf("expected 0 for short input, got %v", got)
	}
}

func TestWindowEviction(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 5; i++ {
		w.Push(float64(i))
	}
	if w.Len() != 3 {
		t.Fatalf("expected len 3, got %d", w.Len())
	}
	vs := w.Values()
	want := []float64{3, 4, 5}
	for i := range want {
		if vs[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, vs)
		}
	}
	if w.Last() != 5 {
		t.Fatalf("expected last 5, got %v", w.Last())
	}
	tail := w.Tail(2)
	if len(tail) != 2 || tail[0] != 4 || tail[1] != 5 {
		t.Fatalf("unexpected tail %v", tail)
	}
}
