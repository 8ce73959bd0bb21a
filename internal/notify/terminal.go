package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// TerminalChannel prints notifications to stdout with colored type
// indicators.
type TerminalChannel struct {
	exitColor  *color.Color
	openColor  *color.Color
	stageColor *color.Color
	errColor   *color.Color
}

// NewTerminalChannel creates a terminal channel.
func NewTerminalChannel() *TerminalChannel {
	return &TerminalChannel{
		exitColor:  color.New(color.FgMagenta, color.Bold),
		openColor:  color.New(color.FgCyan),
		stageColor: color.New(color.FgGreen),
		errColor:   color.New(color.FgRed, color.Bold),
	}
}

// Name implements Channel.
func (t *TerminalChannel) Name() string { return "terminal" }

// IsEnabled implements Channel.
func (t *TerminalChannel) IsEnabled() bool { return true }

// Send implements Channel.
func (t *TerminalChannel) Send(_ context.Context, n Notification) error {
	timestamp := n.Timestamp.Format("15:04:05")

	var c *color.Color
	var indicator string
	switch n.Type {
	case NotificationExit:
		c, indicator = t.exitColor, "EXIT"
	case NotificationOpen:
		c, indicator = t.openColor, "OPEN"
	case NotificationUpdate:
		c, indicator = t.stageColor, "STAGE"
	case NotificationError:
		c, indicator = t.errColor, "ALERT"
	default:
		c, indicator = color.New(color.FgWhite), "INFO"
	}

	var sb strings.Builder
	sb.WriteString(c.Sprintf("[%s] %-5s", timestamp, indicator))
	sb.WriteString(" | ")
	sb.WriteString(n.Title)
	if n.Message != "" {
		sb.WriteString(" | ")
		sb.WriteString(n.Message)
	}

	fmt.Println(sb.String())
	return nil
}

// FormatCurrency formats a rupee amount with Indian digit grouping.
// Used by the terminal channel and the positions table.
func FormatCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")
	intPart := parts[0]
	decPart := parts[1]

	result := "₹" + formatIndianNumber(intPart) + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// formatIndianNumber groups an integer string as 3 digits then pairs.
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]

	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}

	return result
}
