package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset = "\033[0m"
	colorCyan  = "\033[96m"
)

// Screen layout: banner on rows 1-9, status on row 10, logs scroll from 12.
const (
	statusRow    = 10
	scrollTopRow = 12
)

// termMu serialises every write to the terminal so a log line can never
// land between the cursor save and restore of the status line.
var termMu sync.Mutex

// TermWidth returns the width of stdout, or 80 when it is not a terminal.
func TermWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

type termWriter struct{}

func (termWriter) Write(p []byte) (int, error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer for log.SetOutput that shares the
// terminal lock with PrintLiveStatus.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

const banner = `
    ____  __    ___    _   ______  _______   ________  __
   / __ \/ /   /   |  / | / / __ )/ ____/ | / / ____/ / / /
  / /_/ / /   / /| | /  |/ / __  / __/ /  |/ / /   / /_/ /
 / ____/ /___/ ___ |/ /|  / /_/ / /___/ /|  / /___/ __  /
/_/   /_____/_/  |_/_/ |_/_____/_____/_/ |_/\____/_/ /_/

        >> CLINICAL WORKFLOW PLANNING <<
`

// PrintBanner clears the screen and prints the centred logo.
func PrintBanner() {
	fmt.Print("\033[2J\033[H")
	width := TermWidth()
	for _, l := range strings.Split(banner, "\n") {
		pad := max((width-utf8.RuneCountInString(l))/2, 0)
		fmt.Printf("%s%s%s%s\n", strings.Repeat(" ", pad), colorCyan, l, colorReset)
	}
}

// InitializeTerminal confines scrolling log output below the status line.
func InitializeTerminal() {
	fmt.Printf("\033[%d;r\033[%d;1H", scrollTopRow, scrollTopRow)
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// PrintLiveStatus redraws the status line in place.
func PrintLiveStatus() {
	line := StatusLine(Snapshot(), time.Since(startTime), TermWidth())
	out := fmt.Sprintf("\033[s\033[%d;1H\033[K%s\033[u", statusRow, line)

	termMu.Lock()
	fmt.Print(out)
	termMu.Unlock()
}

// StatusLine renders st as one uncoloured line of at most width runes:
// health, current activity, subject, then counters.
func StatusLine(st Status, uptime time.Duration, width int) string {
	health := "🔴 offline"
	switch since := time.Since(st.LastHeartbeat); {
	case since < 40*time.Second:
		health = "🟢 healthy"
	case since < 90*time.Second:
		health = "🟡 lagging"
	}

	activity := "💤 idle"
	switch st.Role {
	case RolePlanning:
		activity = "🧭 planning"
	case RoleEditing:
		activity = "✏️ editing"
	}
	if st.InFlight > 1 {
		activity += fmt.Sprintf(" ×%d", st.InFlight)
	}
	if st.Task != "" {
		activity += fmt.Sprintf(" %q", clip(st.Task, 24))
	}

	parts := []string{
		fmt.Sprintf("[%s %s]", st.LastHeartbeat.Format("15:04:05"), health),
		activity,
	}
	if st.Subject != "" {
		parts = append(parts, clip(st.Subject, 32))
	}

	counts := fmt.Sprintf("edits %d", st.StepEdits+st.PromptEdits)
	if st.FailedEdits > 0 {
		counts += fmt.Sprintf(" (%d failed)", st.FailedEdits)
	}
	counts += fmt.Sprintf(" · saved %d · rejected %d", st.Plans, st.Rejections)
	if st.Tokens > 0 {
		counts += fmt.Sprintf(" · %d tok", st.Tokens)
	}
	parts = append(parts, counts, "up "+uptime.Round(time.Second).String())

	return clip(strings.Join(parts, " | "), width)
}

func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string([]rune(s)[:n-1]) + "…"
}
