package report

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/wudi/scansort/grouper"
	"github.com/wudi/scansort/lookup"
	"github.com/wudi/scansort/merger"
)

const (
	groupsSheet = "Groups"
	pagesSheet  = "Pages"
)

// WriteXLSX writes a workbook with one row per group and one row per page.
// Record columns from the lookup, if any, are appended to the group sheet.
func WriteXLSX(path string, groups grouper.Groups, images map[int]string, outputs []merger.Output, records []lookup.Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), groupsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(pagesSheet); err != nil {
		return err
	}

	docs := make(map[string]string, len(outputs))
	for _, o := range outputs {
		docs[o.Key] = filepath.Base(o.Path)
	}
	recs := make(map[string]lookup.Record, len(records))
	var recCols []string
	seen := map[string]bool{}
	for _, e := range records {
		recs[e.Key] = e.Record
		for c := range e.Record {
			if !seen[c] {
				seen[c] = true
				recCols = append(recCols, c)
			}
		}
	}
	sort.Strings(recCols)

	header := []interface{}{"Ordinal", "Key", "Pages", "Page count", "Document"}
	for _, c := range recCols {
		header = append(header, c)
	}
	if err := f.SetSheetRow(groupsSheet, "A1", &header); err != nil {
		return err
	}
	for i, g := range groups {
		row := []interface{}{i + 1, g.Key, joinInts(g.Indices), len(g.Indices), docs[g.Key]}
		for _, c := range recCols {
			row = append(row, recs[g.Key][c])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(groupsSheet, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetSheetRow(pagesSheet, "A1", &[]interface{}{"Page", "Key", "Image"}); err != nil {
		return err
	}
	type pageRow struct {
		index int
		key   string
	}
	var pages []pageRow
	for _, g := range groups {
		for _, idx := range g.Indices {
			pages = append(pages, pageRow{idx, g.Key})
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].index < pages[j].index })
	for i, p := range pages {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(pagesSheet, cell, &[]interface{}{p.index, p.key, filepath.Base(images[p.index])}); err != nil {
			return err
		}
	}

	// keys are identifiers, not numbers: keep leading zeros visible
	style, err := f.NewStyle(&excelize.Style{NumFmt: 49})
	if err != nil {
		return err
	}
	if err := f.SetColStyle(groupsSheet, "B", style); err != nil {
		return err
	}
	if err := f.SetColWidth(groupsSheet, "B", "C", 20); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return nil
}
