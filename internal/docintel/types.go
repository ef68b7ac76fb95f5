package docintel

import "strings"

// Envelope is the top-level analyze response shape.
type Envelope struct {
	Status        string         `json:"status,omitempty"`
	Error         *APIError      `json:"error,omitempty"`
	AnalyzeResult *AnalyzeResult `json:"analyzeResult,omitempty"`
}

type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// AnalyzeResult holds the parts of the document-intelligence payload the
// mapper consumes: key/value pairs, field documents and tables.
type AnalyzeResult struct {
	KeyValuePairs []KeyValuePair `json:"keyValuePairs,omitempty"`
	Documents     []Document     `json:"documents,omitempty"`
	Tables        []Table        `json:"tables,omitempty"`
}

type KeyValuePair struct {
	Key   *Content `json:"key,omitempty"`
	Value *Content `json:"value,omitempty"`
}

type Content struct {
	Content string `json:"content,omitempty"`
}

type Document struct {
	Fields map[string]DocumentField `json:"fields,omitempty"`
}

type DocumentField struct {
	Content     string `json:"content,omitempty"`
	ValueString string `json:"valueString,omitempty"`
}

type Table struct {
	RowCount    int    `json:"rowCount"`
	ColumnCount int    `json:"columnCount"`
	Cells       []Cell `json:"cells,omitempty"`
}

type Cell struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Content     string `json:"content,omitempty"`
}

// Grid lays the sparse cell list out as a dense rowCount x columnCount matrix
// of trimmed cell text.
func (t *Table) Grid() [][]string {
	if t.RowCount <= 0 || t.ColumnCount <= 0 {
		return nil
	}
	grid := make([][]string, t.RowCount)
	for i := range grid {
		grid[i] = make([]string, t.ColumnCount)
	}
	for _, c := range t.Cells {
		if c.RowIndex >= 0 && c.RowIndex < t.RowCount && c.ColumnIndex >= 0 && c.ColumnIndex < t.ColumnCount {
			grid[c.RowIndex][c.ColumnIndex] = strings.TrimSpace(c.Content)
		}
	}
	return grid
}
