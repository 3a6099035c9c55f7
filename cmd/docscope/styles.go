package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

const (
	colorAccent = "39"  // headings, doc titles
	colorGood   = "42"  // success, high scores
	colorWarn   = "214" // duplicates, failures in a batch
	colorDim    = "245" // ids, labels
)

type styles struct {
	Title   lipgloss.Style
	Heading lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Label   lipgloss.Style
	Snippet lipgloss.Style
}

func colorStyles() styles {
	return styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		Heading: lipgloss.NewStyle().Bold(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorGood)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorWarn)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorDim)),
		Snippet: lipgloss.NewStyle().PaddingLeft(2).Italic(true),
	}
}

func plainStyles() styles {
	return styles{
		Title:   lipgloss.NewStyle(),
		Heading: lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Snippet: lipgloss.NewStyle().PaddingLeft(2),
	}
}

// stylesFor colors output only for terminals, and never when NO_COLOR is set.
func stylesFor(w io.Writer) styles {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return plainStyles()
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return colorStyles()
	}
	return plainStyles()
}
