package transfer

import (
	"errors"
	"testing"
)

func TestAdd_InOrder(t *testing.T) {
	a := NewAssembler()

	for i, chunk := range []string{"aa", "bb", "cc"} {
		payload, done, err := a.Add("f.bin", i, 3, chunk)
		if err != nil {
			t.Fatalf("Add(%d): %v", i, err)
		}
		if i < 2 && done {
			t.Fatalf("Add(%d): done too early", i)
		}
		if i == 2 {
			if !done {
				t.Fatal("final chunk did not complete the transfer")
			}
			if payload != "aabbcc" {
				t.Errorf("payload = %q, want aabbcc", payload)
			}
		}
	}

	if a.Pending() != 0 {
		t.Errorf("Pending = %d, want 0 after completion", a.Pending())
	}
}

func TestAdd_OutOfOrder(t *testing.T) {
	a := NewAssembler()

	order := []int{3, 0, 4, 2, 1}
	chunks := []string{"c0", "c1", "c2", "c3", "c4"}

	var payload string
	var done bool
	for _, idx := range order {
		var err error
		payload, done, err = a.Add("f.bin", idx, 5, chunks[idx])
		if err != nil {
			t.Fatalf("Add(%d): %v", idx, err)
		}
	}
	if !done {
		t.Fatal("transfer incomplete after all 5 distinct indices")
	}
	if payload != "c0c1c2c3c4" {
		t.Errorf("payload = %q, want c0c1c2c3c4", payload)
	}
}

func TestAdd_DuplicateIndexOverwrites(t *testing.T) {
	a := NewAssembler()

	if _, done, err := a.Add("f.bin", 0, 2, "OLD"); err != nil || done {
		t.Fatalf("Add(0): done=%v err=%v", done, err)
	}
	if _, done, err := a.Add("f.bin", 0, 2, "NEW"); err != nil || done {
		t.Fatalf("Add(0) duplicate: done=%v err=%v", done, err)
	}
	payload, done, err := a.Add("f.bin", 1, 2, "tail")
	if err != nil {
		t.Fatalf("Add(1): %v", err)
	}
	if !done {
		t.Fatal("transfer incomplete")
	}
	if payload != "NEWtail" {
		t.Errorf("payload = %q, want NEWtail (overwrite, not append)", payload)
	}
}

func TestAdd_IncompleteNotReassembled(t *testing.T) {
	a := NewAssembler()

	// 4 of 5 chunks: never done.
	for _, idx := range []int{0, 1, 2, 4} {
		_, done, err := a.Add("f.bin", idx, 5, "x")
		if err != nil {
			t.Fatalf("Add(%d): %v", idx, err)
		}
		if done {
			t.Fatalf("Add(%d): done with a missing index", idx)
		}
	}
	if a.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", a.Pending())
	}
}

func TestAdd_IndependentFiles(t *testing.T) {
	a := NewAssembler()

	if _, _, err := a.Add("a.bin", 0, 2, "a0"); err != nil {
		t.Fatal(err)
	}
	payload, done, err := a.Add("b.bin", 0, 1, "b0")
	if err != nil {
		t.Fatal(err)
	}
	if !done || payload != "b0" {
		t.Errorf("b.bin: done=%v payload=%q, want single-chunk completion", done, payload)
	}
	if a.Pending() != 1 {
		t.Errorf("Pending = %d, want 1 (a.bin still in flight)", a.Pending())
	}
}

func TestAdd_Rejections(t *testing.T) {
	a := NewAssembler()

	tests := []struct {
		name  string
		file  string
		index int
		total int
		data  string
	}{
		{"empty file name", "", 0, 1, "x"},
		{"zero total", "f", 0, 0, "x"},
		{"negative total", "f", 0, -1, "x"},
		{"negative index", "f", -1, 3, "x"},
		{"index at total", "f", 3, 3, "x"},
		{"index beyond total", "f", 9, 3, "x"},
		{"empty data", "f", 0, 3, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := a.Add(tt.file, tt.index, tt.total, tt.data)
			if !errors.Is(err, ErrBadChunk) {
				t.Errorf("err = %v, want ErrBadChunk", err)
			}
		})
	}
}

func TestAdd_RestartWithDifferentTotal(t *testing.T) {
	a := NewAssembler()

	if _, _, err := a.Add("f.bin", 0, 5, "x"); err != nil {
		t.Fatal(err)
	}
	// Client restarts the transfer with 2 chunks: old buffer is discarded.
	if _, done, err := a.Add("f.bin", 0, 2, "p0"); err != nil || done {
		t.Fatalf("restart: done=%v err=%v", done, err)
	}
	payload, done, err := a.Add("f.bin", 1, 2, "p1")
	if err != nil || !done {
		t.Fatalf("finish: done=%v err=%v", done, err)
	}
	if payload != "p0p1" {
		t.Errorf("payload = %q, want p0p1", payload)
	}
}

func TestReset(t *testing.T) {
	a := NewAssembler()
	a.Add("a.bin", 0, 3, "x")
	a.Add("b.bin", 0, 3, "x")

	a.Reset()
	if a.Pending() != 0 {
		t.Errorf("Pending = %d, want 0 after Reset", a.Pending())
	}
}

func TestDrop(t *testing.T) {
	a := NewAssembler()
	a.Add("a.bin", 0, 3, "x")
	a.Drop("a.bin")
	if a.Pending() != 0 {
		t.Errorf("Pending = %d, want 0 after Drop", a.Pending())
	}

	// Dropping an unknown file is a no-op.
	a.Drop("nope.bin")
}
