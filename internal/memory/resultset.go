package memory

import "fmt"

// ResultItem is one entry of an enumerable tool result (e.g. a paper search
// hit). Index is 1-based and stable for the lifetime of the set.
type ResultItem struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	ID    string `json:"id,omitempty"` // e.g. arxiv identifier
}

// ResultSet is the owned, versioned "current result set" that later steps
// reference by index. Installing a new set of the same kind bumps the epoch
// and invalidates all prior index references.
type ResultSet struct {
	Kind  string       `json:"kind"` // e.g. "arxiv"
	Epoch int          `json:"epoch"`
	Items []ResultItem `json:"items"`
}

// Get resolves a 1-based index into the set.
func (rs *ResultSet) Get(k int) (ResultItem, error) {
	if k < 1 || k > len(rs.Items) {
		return ResultItem{}, fmt.Errorf("index %d out of range: result set has %d items (indices are 1-based)", k, len(rs.Items))
	}
	return rs.Items[k-1], nil
}

// InstallResults replaces the current result set, bumping the epoch.
func (m *Memory) InstallResults(kind string, items []ResultItem) *ResultSet {
	m.mu.Lock()
	defer m.mu.Unlock()

	epoch := 1
	if m.results != nil {
		epoch = m.results.Epoch + 1
	}
	for i := range items {
		items[i].Index = i + 1
	}
	m.results = &ResultSet{Kind: kind, Epoch: epoch, Items: items}
	return m.results
}

// Results returns the current result set, or nil if none exists.
func (m *Memory) Results() *ResultSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.results
}

// ClearResults drops the current result set.
func (m *Memory) ClearResults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = nil
}
