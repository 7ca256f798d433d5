package metrics

import (
	"fmt"
	"testing"
	"time"

	"gatewaylens/internal/model"
)

func TestStoreUpdateAndSummary(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	s.Update(model.ProcessingStats{FileID: "a", Status: model.FileCompleted, Lines: 10, Parsed: 9, Rejected: 1, Anomalies: 2, FinishedAt: base})
	s.Update(model.ProcessingStats{FileID: "b", Status: model.FileError, Lines: 3, Rejected: 3, FinishedAt: base.Add(time.Minute)})
	s.Update(model.ProcessingStats{FileID: ""})

	st, ok := s.Get("a")
	if !ok || st.Parsed != 9 {
		t.Fatalf("expected stats for a, got %+v %v", st, ok)
	}
	all := s.GetAll()
	if len(all) != 2 || all[0].FileID != "b" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	sum := s.Summary()
	if sum.Files != 2 || sum.Lines != 13 || sum.Rejected != 4 || sum.Anomalies != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.ByStatus[model.FileCompleted] != 1 || sum.ByStatus[model.FileError] != 1 {
		t.Fatalf("unexpected status counts %+v", sum.ByStatus)
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Update(model.ProcessingStats{FileID: fmt.Sprintf("f%d", i), Status: model.FileCompleted})
		time.Sleep(time.Millisecond)
	}
	if n := len(s.GetAll()); n != 3 {
		t.Fatalf("expected 3 tracked files, got %d", n)
	}
	if _, ok := s.Get("f0"); ok {
		t.Fatalf("expected f0 evicted")
	}
	if _, ok := s.Get("f4"); !ok {
		t.Fatalf("expected f4 kept")
	}
	s.Clear()
	if n := len(s.GetAll()); n != 0 {
		t.Fatalf("expected empty store after clear, got %d", n)
	}
}
