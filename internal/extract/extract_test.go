package extract

import "testing"

func TestScan_Basic(t *testing.T) {
	occs := Scan("See [[Note A]] and [[Note B|alias]].")
	if len(occs) != 2 {
		t.Fatalf("len(occs) = %d, want 2", len(occs))
	}
	if occs[0].Title != "Note A" || occs[1].Title != "Note B" {
		t.Errorf("titles = %q, %q", occs[0].Title, occs[1].Title)
	}
	if occs[0].Position != 4 {
		t.Errorf("position = %d, want 4", occs[0].Position)
	}
}

func TestScan_Empty(t *testing.T) {
	if occs := Scan("no markers here"); occs != nil {
		t.Errorf("expected nil, got %v", occs)
	}
	if occs := Scan(""); occs != nil {
		t.Errorf("expected nil for empty content, got %v", occs)
	}
}

func TestScan_SkipsEmptyTitles(t *testing.T) {
	occs := Scan("see [[ ]] and [[|alias]] and [[]]")
	if len(occs) != 0 {
		t.Errorf("expected no occurrences, got %v", occs)
	}
}

func TestScan_TrimsWhitespace(t *testing.T) {
	occs := Scan("[[  Budget Plan  ]]")
	if len(occs) != 1 || occs[0].Title != "Budget Plan" {
		t.Fatalf("occs = %v", occs)
	}
}

func TestScan_UnicodePositions(t *testing.T) {
	// Position counts runes, not bytes.
	occs := Scan("héllo [[X]]")
	if len(occs) != 1 {
		t.Fatalf("len = %d", len(occs))
	}
	if occs[0].Position != 6 {
		t.Errorf("position = %d, want 6", occs[0].Position)
	}
}

func TestScan_NonOverlapping(t *testing.T) {
	occs := Scan("[[a]][[b]]")
	if len(occs) != 2 || occs[0].Title != "a" || occs[1].Title != "b" {
		t.Errorf("occs = %v", occs)
	}
}

func TestDistinct_CollapsesDuplicates(t *testing.T) {
	occs := Scan("See [[Budget Plan]] and [[Budget Plan]] again")
	d := Distinct(occs)
	if len(d) != 1 {
		t.Fatalf("len(d) = %d, want 1", len(d))
	}
	if d[0].Title != "Budget Plan" || d[0].Position != 4 {
		t.Errorf("d[0] = %+v", d[0])
	}
}

func TestDistinct_PreservesFirstSeenOrder(t *testing.T) {
	d := Distinct(Scan("[[b]] [[a]] [[b]] [[c]] [[a]]"))
	want := []string{"b", "a", "c"}
	if len(d) != len(want) {
		t.Fatalf("len = %d, want %d", len(d), len(want))
	}
	for i, w := range want {
		if d[i].Title != w {
			t.Errorf("d[%d] = %q, want %q", i, d[i].Title, w)
		}
	}
}
