package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	pkgtypes "github.com/vietdv277/netlab/pkg/types"
)

// column is a fixed-width table column
type column struct {
	header string
	width  int
}

// cell is a rendered table cell. A cell with raw set is written as is and
// must already be padded to the column width.
type cell struct {
	text  string
	style lipgloss.Style
	raw   bool
}

func styled(text string, style lipgloss.Style) cell {
	return cell{text: text, style: style}
}

// renderTable draws rows in a rounded box with a header row
func renderTable(columns []column, rows [][]cell) string {
	var sb strings.Builder

	border := func(left, mid, right string) {
		sb.WriteString(BorderStyle.Render(left))
		for i, c := range columns {
			sb.WriteString(BorderStyle.Render(strings.Repeat(Horizontal, c.width+2)))
			if i < len(columns)-1 {
				sb.WriteString(BorderStyle.Render(mid))
			}
		}
		sb.WriteString(BorderStyle.Render(right))
		sb.WriteString("\n")
	}

	// Top border
	border(TopLeft, TopT, TopRight)

	// Header row
	sb.WriteString(BorderStyle.Render(Vertical))
	for _, c := range columns {
		sb.WriteString(HeaderStyle.Render(" " + padRight(c.header, c.width) + " "))
		sb.WriteString(BorderStyle.Render(Vertical))
	}
	sb.WriteString("\n")

	// Header separator
	border(LeftT, Cross, RightT)

	// Data rows
	for _, row := range rows {
		sb.WriteString(BorderStyle.Render(Vertical))
		for i, c := range row {
			if c.raw {
				sb.WriteString(c.text)
			} else {
				sb.WriteString(c.style.Render(" " + padRight(c.text, columns[i].width) + " "))
			}
			sb.WriteString(BorderStyle.Render(Vertical))
		}
		sb.WriteString("\n")
	}

	// Bottom border
	border(BottomLeft, BottomT, BottomRight)

	return sb.String()
}

// Instance table column widths
var instanceColumns = []column{
	{"ID", 20},
	{"Name", 16},
	{"State", 15},
	{"Public IP", 15},
	{"Private IP", 15},
	{"Type", 10},
	{"AZ", 15},
}

// PrintInstanceTable prints instances in a styled box table
func PrintInstanceTable(w io.Writer, instances []pkgtypes.Instance) {
	rows := make([][]cell, 0, len(instances))
	for _, inst := range instances {
		rows = append(rows, []cell{
			styled(inst.ID, IDStyle),
			styled(inst.Name, NameStyle),
			{text: formatState(inst.State, instanceColumns[2].width), raw: true},
			styled(formatOptional(inst.PublicIP), IPStyle),
			styled(formatOptional(inst.PrivateIP), IPStyle),
			styled(inst.Type, TypeStyle),
			styled(inst.AZ, AZStyle),
		})
	}

	fmt.Fprint(w, renderTable(instanceColumns, rows))
	fmt.Fprintln(w, instanceSummary(instances))
}

func instanceSummary(instances []pkgtypes.Instance) string {
	counts := make(map[string]int)
	for _, inst := range instances {
		counts[inst.State]++
	}

	var parts []string
	for _, state := range []string{"running", "pending", "stopping", "stopped", "shutting-down", "terminated"} {
		if c := counts[state]; c > 0 {
			_, style := stateStyle(state)
			parts = append(parts, style.Render(fmt.Sprintf("%d %s", c, state)))
		}
	}

	summary := fmt.Sprintf("  %d instances", len(instances))
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}
	return summary
}
