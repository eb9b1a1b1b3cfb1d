package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"videograb/internal/pipeline"
)

// RenderInfo formats a resolved descriptor for the terminal.
func RenderInfo(res pipeline.InfoResult) string {
	s := DefaultStyles()
	v := res.Video

	row := func(label, value string) string {
		if value == "" {
			return ""
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, s.Label.Render(label), s.JobInfo.Render(value)) + "\n"
	}

	var b strings.Builder
	b.WriteString(s.Title.Render(v.Title))
	b.WriteString("\n")
	b.WriteString(row("Platform", string(res.Platform)))
	b.WriteString(row("ID", v.ID))
	b.WriteString(row("Author", v.Author))
	if v.Length > 0 {
		b.WriteString(row("Length", (time.Duration(v.Length) * time.Second).String()))
	}
	b.WriteString(row("Source", v.Source))
	b.WriteString(row("Thumbnail", v.Thumbnail))
	b.WriteString("\n")
	b.WriteString(s.Header.Render(fmt.Sprintf("Streams (%d)", len(v.Streams))))
	b.WriteString("\n")
	for i, st := range v.Streams {
		line := fmt.Sprintf("%-14s %-8s %-12s", st.FormatID, st.Resolution, st.MimeType)
		if st.SizeMB > 0 {
			line += fmt.Sprintf(" %8.1f MB", st.SizeMB)
		}
		if i == 0 {
			line += "  " + s.Success.Render("(default)")
		}
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}
