// Package report renders telemetry snapshots and diode history for people.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"xactlink/host/xact"
	"xactlink/protocol"
)

// Formats accepted by WriteSnapshot
const (
	FormatText = "text"
	FormatYAML = "yaml"
)

// Point is the serialized form of one telemetry value
type Point struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address"`
	Encoding   string `yaml:"encoding"`
	Value      int64  `yaml:"value"`
	Stale      bool   `yaml:"stale,omitempty"`
	Generation uint64 `yaml:"generation"`
}

// Document is the serialized form of a snapshot
type Document struct {
	Generation uint64   `yaml:"generation"`
	Points     []Point  `yaml:"points"`
	Missing    []string `yaml:"missing,omitempty"`
}

// NewDocument collects snap in table order. Points never decoded are
// listed under Missing.
func NewDocument(snap *protocol.Snapshot, table *protocol.Table) Document {
	doc := Document{Generation: snap.Generation()}
	for _, p := range table.Points() {
		v, ok := snap.Get(p.Name)
		if !ok {
			doc.Missing = append(doc.Missing, p.Name)
			continue
		}
		doc.Points = append(doc.Points, Point{
			Name:       v.Name,
			Address:    fmt.Sprintf("0x%04X", v.Address),
			Encoding:   v.Encoding.String(),
			Value:      v.Value,
			Stale:      snap.Stale(v.Name),
			Generation: v.Generation,
		})
	}
	return doc
}

// WriteSnapshot prints snap in the given format
func WriteSnapshot(w io.Writer, snap *protocol.Snapshot, table *protocol.Table, format string) error {
	doc := NewDocument(snap, table)

	switch strings.ToLower(format) {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		return enc.Close()

	case FormatText, "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, p := range doc.Points {
			mark := ""
			if p.Stale {
				mark = "(stale)"
			}
			fmt.Fprintf(tw, "%s:\t%d\t%s\n", p.Name, p.Value, mark)
		}
		for _, name := range doc.Missing {
			fmt.Fprintf(tw, "%s:\t-\t\n", name)
		}
		return tw.Flush()
	}
	return fmt.Errorf("unknown output format %q", format)
}

// WriteHistory prints the diode history as a table, one row per sample
func WriteHistory(w io.Writer, history []xact.DiodeSample) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "time [s]\tdiode 1\tdiode 2\tdiode 3\tdiode 4\t")
	for _, s := range history {
		fmt.Fprintf(tw, "%.3f\t%d\t%d\t%d\t%d\t\n",
			s.Elapsed.Seconds(), s.Counts[0], s.Counts[1], s.Counts[2], s.Counts[3])
	}
	return tw.Flush()
}
