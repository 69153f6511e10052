package contract

import (
	"regexp"
	"strings"
)

type SegmentType string

const (
	SegmentAdded     SegmentType = "added"
	SegmentRemoved   SegmentType = "removed"
	SegmentModified  SegmentType = "modified"
	SegmentUnchanged SegmentType = "unchanged"
)

type UnitKind string

const (
	UnitHeading UnitKind = "heading"
	UnitBody    UnitKind = "body"
)

// Unit is one clause unit: a heading line or a paragraph of body lines.
type Unit struct {
	Kind UnitKind `json:"kind"`
	Text string   `json:"text"`
}

type Segment struct {
	Index  int         `json:"index"`
	Type   SegmentType `json:"type"`
	Kind   UnitKind    `json:"kind"`
	Base   string      `json:"base,omitempty"`
	Target string      `json:"target,omitempty"`
}

// Primary is the text a segment is identified by.
func (s Segment) Primary() string {
	if s.Type == SegmentRemoved {
		return s.Base
	}
	return s.Target
}

type Summary struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Modified  int `json:"modified"`
	Unchanged int `json:"unchanged"`
}

// Changed reports whether any segment differs between base and target.
func (s Summary) Changed() bool {
	return s.Added+s.Removed+s.Modified > 0
}

var headingRe = regexp.MustCompile(`^(\d+(\.\d+)+[.)]?\s+\S|\d+[.)]\s+\S|#{1,6}\s+\S|(?i:(article|section|clause|schedule)\s+[0-9ivxlc]+\b))`)

// IsHeading reports whether a trimmed line opens a new clause.
func IsHeading(line string) bool {
	return headingRe.MatchString(strings.TrimSpace(line))
}

// SplitClauses segments text into clause units. Heading lines are units of
// their own; consecutive non-blank body lines form one paragraph unit and
// blank lines end a paragraph.
func SplitClauses(text string) []Unit {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var (
		units []Unit
		para  []string
	)
	flush := func() {
		if len(para) == 0 {
			return
		}
		units = append(units, Unit{Kind: UnitBody, Text: strings.Join(para, "\n")})
		para = nil
	}
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, " \t")
		switch {
		case strings.TrimSpace(line) == "":
			flush()
		case IsHeading(line):
			flush()
			units = append(units, Unit{Kind: UnitHeading, Text: strings.TrimSpace(line)})
		default:
			para = append(para, line)
		}
	}
	flush()
	return units
}

// ComputeClauseDiff aligns the clause units of base and target by index.
// Aligned units are unchanged when byte-identical and modified otherwise;
// surplus units are added (target) or removed (base).
func ComputeClauseDiff(base, target string) []Segment {
	bu := SplitClauses(base)
	tu := SplitClauses(target)
	n := len(bu)
	if len(tu) > n {
		n = len(tu)
	}
	out := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		switch {
		case i >= len(bu):
			out = append(out, Segment{Index: i, Type: SegmentAdded, Kind: tu[i].Kind, Target: tu[i].Text})
		case i >= len(tu):
			out = append(out, Segment{Index: i, Type: SegmentRemoved, Kind: bu[i].Kind, Base: bu[i].Text})
		default:
			seg := Segment{Index: i, Type: SegmentModified, Kind: tu[i].Kind, Base: bu[i].Text, Target: tu[i].Text}
			if bu[i] == tu[i] {
				seg.Type = SegmentUnchanged
			}
			out = append(out, seg)
		}
	}
	return out
}

func SummarizeClauseDiff(diff []Segment) Summary {
	var s Summary
	for _, seg := range diff {
		switch seg.Type {
		case SegmentAdded:
			s.Added++
		case SegmentRemoved:
			s.Removed++
		case SegmentModified:
			s.Modified++
		case SegmentUnchanged:
			s.Unchanged++
		}
	}
	return s
}
