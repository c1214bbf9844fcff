package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
)

func TestWriterAppendOnly(t *testing.T) {
	w, err := Open(t.TempDir(), "vol2bird")
	if err != nil {
		t.Fatal(err)
	}

	entries := []Entry{
		{Stage: "vol2bird", Site: "chenies", Day: "20250101", JobID: "1", Outcome: OutcomeSubmitted},
		{Stage: "vol2bird", Site: "chenies", Day: "20250102", Outcome: OutcomeSkipped},
		{Stage: "vol2bird", Site: "thurnham", Day: "20250101", Outcome: OutcomeFailed, Detail: "scheduler unavailable"},
	}
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		got = append(got, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}

	if len(got) != len(entries) {
		t.Fatalf("%d entries, want %d", len(got), len(entries))
	}
	seen := make(map[string]bool)
	for i, e := range got {
		if e.ID == "" || e.Time.IsZero() {
			t.Errorf("entry %d missing id or timestamp: %+v", i, e)
		}
		if seen[e.ID] {
			t.Errorf("duplicate entry id %s", e.ID)
		}
		seen[e.ID] = true
		if e.Outcome != entries[i].Outcome || e.Site != entries[i].Site {
			t.Errorf("entry %d = %+v, want outcome %s site %s",
				i, e, entries[i].Outcome, entries[i].Site)
		}
	}
}
