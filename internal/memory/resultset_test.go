package memory

import "testing"

func TestInstallResultsBumpsEpoch(t *testing.T) {
	m := New()

	first := m.InstallResults("arxiv", []ResultItem{{Title: "A"}, {Title: "B"}})
	if first.Epoch != 1 {
		t.Errorf("first epoch = %d, want 1", first.Epoch)
	}

	second := m.InstallResults("arxiv", []ResultItem{{Title: "C"}})
	if second.Epoch != 2 {
		t.Errorf("second epoch = %d, want 2", second.Epoch)
	}
	if got := m.Results(); got != second {
		t.Error("Results() does not return the latest set")
	}
}

func TestResultSetOneBasedIndexing(t *testing.T) {
	m := New()
	rs := m.InstallResults("arxiv", []ResultItem{{Title: "A"}, {Title: "B"}, {Title: "C"}})

	tests := []struct {
		k       int
		want    string
		wantErr bool
	}{
		{1, "A", false},
		{3, "C", false},
		{0, "", true}, // zero-based access is a caller bug
		{4, "", true},
		{-1, "", true},
	}
	for _, tt := range tests {
		item, err := rs.Get(tt.k)
		if (err != nil) != tt.wantErr {
			t.Errorf("Get(%d) error = %v, wantErr %v", tt.k, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && item.Title != tt.want {
			t.Errorf("Get(%d) = %q, want %q", tt.k, item.Title, tt.want)
		}
	}

	// Item indices are assigned 1-based on install.
	if rs.Items[0].Index != 1 || rs.Items[2].Index != 3 {
		t.Errorf("item indices = %d,%d,%d; want 1,2,3", rs.Items[0].Index, rs.Items[1].Index, rs.Items[2].Index)
	}
}
