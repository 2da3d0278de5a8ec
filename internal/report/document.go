// Package report turns a Session into a plain-text forensic report. Building
// produces an ordered Document of sections, groups and items; rendering to
// text happens last, so the same Document can feed other output formats.
package report

import (
	"strconv"
	"strings"
)

// Section identifiers, in document order.
const (
	SectionSystem   = "system"
	SectionHardware = "hardware"
	SectionNetwork  = "network"
	SectionStress   = "stress"
	SectionSecurity = "security"
	SectionFooter   = "footer"
)

// Placeholder prefixes for domains that produced no data.
const (
	PlaceholderUnavailable = "[unavailable]"
	PlaceholderError       = "[error]"
)

const ruleWidth = 80

// Item is one line of a group. An item without a Value is a heading for the
// more indented items that follow it.
type Item struct {
	Label  string
	Value  string
	Marker string
	Indent int
}

// Group is a titled run of items inside a section.
type Group struct {
	Title string
	Items []Item
}

// Section is a top-level part of the report.
type Section struct {
	ID     string
	Title  string
	Groups []Group
}

// Document is the structured report, ready to render.
type Document struct {
	Title    string
	Sections []Section
}

// Section returns the section with the given id.
func (d Document) Section(id string) (Section, bool) {
	for _, s := range d.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

// Render writes the document as UTF-8 text. Rendering is a pure function of
// the document.
func Render(doc Document) string {
	var b strings.Builder

	b.WriteString(strings.Repeat("=", ruleWidth))
	b.WriteByte('\n')
	b.WriteString(doc.Title)
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("=", ruleWidth))
	b.WriteString("\n\n")

	for i, s := range doc.Sections {
		b.WriteString(strings.Repeat("-", ruleWidth))
		b.WriteByte('\n')
		if s.ID == SectionFooter {
			b.WriteString(s.Title)
		} else {
			b.WriteString(sectionHeading(i+1, s.Title))
		}
		b.WriteByte('\n')
		b.WriteString(strings.Repeat("-", ruleWidth))
		b.WriteString("\n\n")

		for _, g := range s.Groups {
			renderGroup(&b, g)
		}
	}

	b.WriteString(strings.Repeat("=", ruleWidth))
	b.WriteString("\nEND OF REPORT\n")
	return b.String()
}

func sectionHeading(n int, title string) string {
	return "SECTION " + strconv.Itoa(n) + " - " + strings.ToUpper(title)
}

func renderGroup(b *strings.Builder, g Group) {
	if g.Title != "" {
		b.WriteString("[" + g.Title + "]\n")
	}

	width := labelWidths(g.Items)
	for _, it := range g.Items {
		b.WriteString(strings.Repeat("  ", it.Indent+1))
		switch {
		case it.Value == "":
			b.WriteString(it.Label)
		case it.Label == "":
			b.WriteString(it.Value)
		default:
			b.WriteString(it.Label)
			b.WriteString(strings.Repeat(" ", width[it.Indent]-len([]rune(it.Label))))
			b.WriteString(" : ")
			b.WriteString(it.Value)
		}
		if it.Marker != "" {
			b.WriteString(" ")
			b.WriteString(it.Marker)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

// labelWidths returns the widest key/value label per indent level so values
// line up within a group.
func labelWidths(items []Item) map[int]int {
	width := make(map[int]int)
	for _, it := range items {
		if it.Value == "" || it.Label == "" {
			continue
		}
		if n := len([]rune(it.Label)); n > width[it.Indent] {
			width[it.Indent] = n
		}
	}
	return width
}
