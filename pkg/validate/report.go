package validate

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Report is the serializable result of a validation run: the table's shape
// at the time, per-category totals and every finding.
type Report struct {
	Top           int                    `json:"top"`
	Live          int                    `json:"live"`
	Free          int                    `json:"free"`
	TotalFindings int                    `json:"total_findings"`
	Errors        int                    `json:"errors"`
	Warnings      int                    `json:"warnings"`
	Categories    map[string]CategorySum `json:"categories"`
	Findings      []Finding              `json:"findings"`
}

// CategorySum summarizes the findings of one category.
type CategorySum struct {
	Total   int    `json:"total"`
	Fixable int    `json:"fixable"`
	Fixed   int    `json:"fixed"`
	Label   string `json:"label"`
}

var categoryLabels = map[Category]string{
	CatDanglingRef: "Dangling Object References",
	CatChain:       "Corrupt Contents/Exit Chains",
	CatEdge:        "One-Sided Parent/Child Edges",
	CatForeignAttr: "Attributes Without a Visible Definition",
	CatRefcount:    "Definition Reference Count Drift",
	CatFreeList:    "Free List Disagreements",
	CatZone:        "Zone Chain Problems",
}

// Label returns the human-readable title of c.
func (c Category) Label() string { return categoryLabels[c] }

// GenerateReport builds a Report from the validator's current findings.
func GenerateReport(v *Validator) *Report {
	s := v.db.Stats()
	r := &Report{
		Top:           s.Top,
		Live:          s.Live(),
		Free:          s.Free,
		TotalFindings: len(v.findings),
		Categories:    make(map[string]CategorySum),
		Findings:      v.findings,
	}
	for _, f := range v.findings {
		switch f.Severity {
		case SevError:
			r.Errors++
		case SevWarning:
			r.Warnings++
		}
		cs, ok := r.Categories[f.Category.String()]
		if !ok {
			cs.Label = f.Category.Label()
		}
		cs.Total++
		if f.Fixable {
			cs.Fixable++
		}
		if f.Fixed {
			cs.Fixed++
		}
		r.Categories[f.Category.String()] = cs
	}
	return r
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes one line per finding followed by per-category totals,
// in category order.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	for _, f := range r.Findings {
		mark := ""
		if f.Fixed {
			mark = " [fixed]"
		}
		fmt.Fprintf(&b, "%-7s %-12s %s%s\n", strings.ToUpper(f.Severity.String()), f.Category, f.Description, mark)
	}
	fmt.Fprintf(&b, "\n%d findings (%d errors, %d warnings) over %d live objects, %d free slots\n",
		r.TotalFindings, r.Errors, r.Warnings, r.Live, r.Free)
	for cat := CatDanglingRef; cat <= CatZone; cat++ {
		cs, ok := r.Categories[cat.String()]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %-42s %4d  fixable %4d  fixed %4d\n", cs.Label, cs.Total, cs.Fixable, cs.Fixed)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
