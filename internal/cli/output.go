package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lcrostarosa/safecheck/internal/rpc"
)

// PrintError prints an error message to stderr
func PrintError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintSuccess prints a success message
func PrintSuccess(format string, args ...interface{}) {
	fmt.Printf("✅ "+format+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(format string, args ...interface{}) {
	fmt.Printf("⚠️  "+format+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

// PrintHeader prints a section header
func PrintHeader(title string) {
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", len(title)))
}

// FormatRemaining renders a countdown the way the timer screen shows it:
// mm:ss, or h:mm:ss from one hour up.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func printTimerStatus(s *rpc.TimerStatus) {
	PrintHeader("⏱  Check-in Timer")
	PrintInfo("Phase:     %s", s.Phase)
	if s.Remaining != nil {
		PrintInfo("Remaining: %s", FormatRemaining(s.Remaining.Std()))
	}
	if end := s.EndTimestamp.Time(); !end.IsZero() {
		PrintInfo("Deadline:  %s", end.Local().Format("2006-01-02 15:04:05"))
	}
	if s.IncorrectAttempts > 0 {
		PrintInfo("Incorrect PIN attempts: %d", s.IncorrectAttempts)
	}
	if o := s.Outcome; o != nil {
		PrintInfo("")
		PrintInfo("Last alert: %d notified, %d failed", o.Notified, o.Failed)
		if o.Error != "" {
			PrintWarning("%s", o.Error)
		}
	}
}

func printSharingStatus(s *rpc.SharingStatus) {
	PrintHeader("📍 Location Sharing")
	PrintInfo("Phase:     %s", s.Phase)
	switch {
	case s.Indefinite:
		PrintInfo("Duration:  until stopped")
	case s.Remaining != nil:
		PrintInfo("Remaining: %s", FormatRemaining(s.Remaining.Std()))
	}
	if l := s.Last; l != nil {
		PrintInfo("Last fix:  %.6f, %.6f", l.Latitude, l.Longitude)
	}
}

func formatTimestamp(ts *rpc.Timestamp) string {
	t := ts.Time()
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
