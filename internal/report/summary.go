package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// TargetResult is one target's final line in the summary.
type TargetResult struct {
	Name            string  `yaml:"name"`
	Status          string  `yaml:"status"`
	Attempts        int     `yaml:"attempts"`
	DurationSeconds float64 `yaml:"duration_seconds"`
	ExitStatus      int     `yaml:"exit_status"`
	ErrorKind       string  `yaml:"error_kind,omitempty"`
	Error           string  `yaml:"error,omitempty"`
	Log             string  `yaml:"log,omitempty"`
}

// Summary is the aggregate result of one run. The failed_targets list is the
// hand-off for selective re-runs: feed the summary file back through
// --failed-from and only those targets run again.
type Summary struct {
	StartedAt     time.Time      `yaml:"started_at"`
	FinishedAt    time.Time      `yaml:"finished_at"`
	Total         int            `yaml:"total"`
	Succeeded     int            `yaml:"succeeded"`
	Failed        int            `yaml:"failed"`
	FailedTargets []string       `yaml:"failed_targets,omitempty"`
	Targets       []TargetResult `yaml:"targets"`
	LogDir        string         `yaml:"log_dir"`
	RunLog        string         `yaml:"run_log"`
}

// Duration is the run's wall-clock time.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// AllSucceeded decides the process exit status.
func (s *Summary) AllSucceeded() bool {
	return s.Failed == 0 && s.Total > 0
}

// WriteFile persists the summary as YAML for later re-run selection.
func (s *Summary) WriteFile(path string) error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write summary %s: %w", path, err)
	}
	return nil
}

// LoadSummary reads a summary file written by a previous run.
func LoadSummary(path string) (*Summary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary %s: %w", path, err)
	}
	var s Summary
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse summary %s: %w", path, err)
	}
	return &s, nil
}

var (
	colorGreen = lipgloss.Color("#22c55e")
	colorRed   = lipgloss.Color("#ef4444")
	colorBlue  = lipgloss.Color("#3b82f6")
	colorDim   = lipgloss.Color("#6b7280")
	colorWhite = lipgloss.Color("#f9fafb")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	okStyle      = lipgloss.NewStyle().Foreground(colorGreen)
	failStyle    = lipgloss.NewStyle().Foreground(colorRed)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
)

// Render produces the human-readable end-of-run breakdown.
func (s *Summary) Render() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("  fleet run summary"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  " + strings.Repeat("═", 40)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("  Total targets:   %d\n", s.Total))
	b.WriteString("  Succeeded:       " + okStyle.Render(fmt.Sprintf("%d", s.Succeeded)) + "\n")
	b.WriteString("  Failed:          " + failStyle.Render(fmt.Sprintf("%d", s.Failed)) + "\n")
	b.WriteString(fmt.Sprintf("  Duration:        %s\n", s.Duration().Round(time.Second)))
	b.WriteString(fmt.Sprintf("  Logs:            %s\n", s.LogDir))

	if s.Failed > 0 {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render("  Failed targets"))
		b.WriteString("\n")
		for _, tr := range s.Targets {
			if tr.Status == "succeeded" {
				continue
			}
			b.WriteString(failStyle.Render(fmt.Sprintf("    %s", tr.Name)))
			b.WriteString(fmt.Sprintf("  %s, %d attempt(s), %.0fs", tr.Status, tr.Attempts, tr.DurationSeconds))
			if tr.ErrorKind != "" {
				b.WriteString("  [" + tr.ErrorKind + "]")
			}
			b.WriteString("\n")
			if tr.Error != "" {
				b.WriteString(dimStyle.Render("      " + preview(tr.Error, 120)))
				b.WriteString("\n")
			}
			if tr.Log != "" {
				b.WriteString(dimStyle.Render("      log: " + tr.Log))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("  Re-run only the failed targets with --failed-from <summary file>"))
		b.WriteString("\n")
	}

	return b.String()
}

func preview(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
