// Package report writes the run artifacts meant for people and other tools:
// the group snapshot, lookup records, a spreadsheet, and a summary report.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/wudi/scansort/cropper"
	"github.com/wudi/scansort/grouper"
	"github.com/wudi/scansort/keys"
	"github.com/wudi/scansort/lookup"
	"github.com/wudi/scansort/merger"
	"github.com/wudi/scansort/workdir"
)

// Snapshot maps each key to its page image paths, in group order.
type Snapshot = grouper.OrderedMap[[]string]

// BuildSnapshot resolves group indices to image paths.
func BuildSnapshot(groups grouper.Groups, images map[int]string) (*Snapshot, error) {
	var snap Snapshot
	for _, g := range groups {
		paths := make([]string, len(g.Indices))
		for i, idx := range g.Indices {
			p, ok := images[idx]
			if !ok {
				return nil, fmt.Errorf("group %s: page image %d not found", g.Key, idx)
			}
			paths[i] = p
		}
		snap.Set(g.Key, paths)
	}
	return &snap, nil
}

// WriteSnapshot writes pdf_dict.json: {key: [image paths]} in group order.
func WriteSnapshot(dir workdir.Dir, groups grouper.Groups, images map[int]string) (string, error) {
	snap, err := BuildSnapshot(groups, images)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return "", err
	}
	path := dir.File(workdir.SnapshotFile)
	return path, workdir.WriteFileAtomic(path, data)
}

// WriteRecords writes records.json with the lookup result of every group.
func WriteRecords(dir workdir.Dir, entries []lookup.Entry) (string, error) {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return "", err
	}
	path := dir.File(workdir.RecordsFile)
	return path, workdir.WriteFileAtomic(path, data)
}

// Report is everything the summary shows.
type Report struct {
	RunID         string
	Source        string
	Pages         int
	Region        string
	Generated     time.Time
	Groups        grouper.Groups
	Outputs       []merger.Output
	MergeFailures []*merger.GroupError
	CropFailures  []*cropper.PageError
	Records       []lookup.Entry
	// Policy decides which keys are shown as unread.
	Policy keys.FallbackPolicy
}

// Markdown renders the report as GitHub-flavored markdown.
func (r Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Scan sort report\n\n")
	if r.Source != "" {
		fmt.Fprintf(&b, "- Source: `%s`\n", filepath.Base(r.Source))
	}
	if r.RunID != "" {
		fmt.Fprintf(&b, "- Run: `%s`\n", r.RunID)
	}
	if !r.Generated.IsZero() {
		fmt.Fprintf(&b, "- Generated: %s\n", r.Generated.Format(time.RFC3339))
	}
	if r.Region != "" {
		fmt.Fprintf(&b, "- Crop region: %s\n", r.Region)
	}
	fmt.Fprintf(&b, "- Pages: %d\n- Groups: %d\n- Documents written: %d\n\n", r.Pages, len(r.Groups), len(r.Outputs))

	out := make(map[string]merger.Output, len(r.Outputs))
	for _, o := range r.Outputs {
		out[o.Key] = o
	}
	rec := make(map[string]lookup.Entry, len(r.Records))
	for _, e := range r.Records {
		rec[e.Key] = e
	}

	b.WriteString("## Groups\n\n")
	b.WriteString("| # | Key | Pages | Document | Record |\n|---|---|---|---|---|\n")
	for i, g := range r.Groups {
		doc := "failed"
		if o, ok := out[g.Key]; ok {
			doc = filepath.Base(o.Path)
		}
		key := escapeCell(g.Key)
		if r.Policy.IsFallback(g.Key) {
			key = "_" + key + "_ (unread)"
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n", i+1, key, joinInts(g.Indices), doc, escapeCell(recordSummary(rec[g.Key])))
	}

	if len(r.MergeFailures) > 0 || len(r.CropFailures) > 0 {
		b.WriteString("\n## Failures\n\n")
		for _, f := range r.CropFailures {
			fmt.Fprintf(&b, "- crop, page %d: %s\n", f.Index, escapeCell(f.Err.Error()))
		}
		for _, f := range r.MergeFailures {
			fmt.Fprintf(&b, "- merge, group %d (%s): %s\n", f.Ordinal, escapeCell(f.Key), escapeCell(f.Err.Error()))
		}
	}
	return b.String()
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ", ")
}

func recordSummary(e lookup.Entry) string {
	if e.Error != "" {
		return e.Error
	}
	if len(e.Record) == 0 {
		return ""
	}
	names := make([]string, 0, len(e.Record))
	for k := range e.Record {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%v", k, e.Record[k])
	}
	return strings.Join(parts, "; ")
}

func escapeCell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}

// HTML converts markdown to a standalone HTML page.
func HTML(markdown string) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Scan sort report</title>")
	b.WriteString("<style>body{font-family:sans-serif;margin:2em}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:4px 8px}</style>")
	b.WriteString("</head><body>\n")
	b.Write(body.Bytes())
	b.WriteString("</body></html>\n")
	return b.Bytes(), nil
}

// WriteReport writes report.md and report.html into dir and returns the
// path of the HTML file.
func WriteReport(dir workdir.Dir, r Report) (string, error) {
	md := r.Markdown()
	if err := workdir.WriteFileAtomic(dir.File(workdir.ReportFile), []byte(md)); err != nil {
		return "", err
	}
	html, err := HTML(md)
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	path := dir.File(workdir.ReportHTML)
	return path, workdir.WriteFileAtomic(path, html)
}
