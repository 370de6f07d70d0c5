package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cyrg/hotdog-etl/internal/steps"
)

// ResultPrefix starts the line a supervised step prints last on stdout.
const ResultPrefix = "RESULT "

// TailSize is the number of output bytes kept per stream.
const TailSize = 4096

// Outcome is what a supervised step reports to its parent.
type Outcome struct {
	StepID string       `json:"step_id"`
	Result steps.Result `json:"result"`
	Error  string       `json:"error,omitempty"`
}

// WriteOutcome prints the outcome as a single RESULT line.
func WriteOutcome(w io.Writer, o Outcome) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s%s\n", ResultPrefix, b)
	return err
}

// ParseOutcome finds the last RESULT line in output.
func ParseOutcome(output string) (Outcome, bool) {
	var (
		o     Outcome
		found bool
	)
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, TailSize), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, ResultPrefix) {
			continue
		}
		var next Outcome
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, ResultPrefix)), &next); err == nil {
			o, found = next, true
		}
	}
	return o, found
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// lastLine returns the last non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
