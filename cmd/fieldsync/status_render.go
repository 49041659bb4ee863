package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	statusLabelWidth = 24
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if !colorize {
		return base
	}
	return paint(statusKindColor(kind), base)
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) color.Attribute {
	switch kind {
	case statusOK:
		return color.FgGreen
	case statusWarn:
		return color.FgYellow
	case statusError:
		return color.FgRed
	default:
		return color.FgBlue
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = paint(color.FgBlue, line)
		rule = paint(color.FgBlue, rule)
	}
	return []string{line, rule}
}

// colorStatus tints a queue or capture status for table output.
func colorStatus(status string, colorize bool) string {
	if !colorize {
		return status
	}
	switch status {
	case "completed", "transcribed", "client_wins", "server_wins", "merged":
		return paint(color.FgHiGreen, status)
	case "processing", "transcribing":
		return paint(color.FgCyan, status)
	case "failed":
		return paint(color.FgRed, status)
	case "pending":
		return paint(color.FgYellow, status)
	default:
		return status
	}
}

// paint forces color on; callers decide whether the writer is a terminal.
func paint(attr color.Attribute, value string) string {
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(value)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
