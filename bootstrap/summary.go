package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kbukum/regd/component"
)

// Summary prints what was started and how it is doing.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	out             io.Writer
}

// NewSummary creates a summary that writes to out.
func NewSummary(serviceName, version string, out io.Writer) *Summary {
	return &Summary{serviceName: serviceName, version: version, out: out}
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// Display writes one line per component with its description and live health.
func (s *Summary) Display(ctx context.Context, registry *component.Registry) {
	fmt.Fprintf(s.out, "\n%s %s started in %.2fs\n", s.serviceName, s.version, s.startupDuration.Seconds())

	all := registry.All()
	healthy := 0
	for i, c := range all {
		prefix := "├──"
		if i == len(all)-1 {
			prefix = "└──"
		}
		h := c.Health(ctx)
		if h.Status == component.StatusHealthy {
			healthy++
		}
		name, kind, details := c.Name(), "", ""
		if d, ok := c.(component.Describable); ok {
			desc := d.Describe()
			if desc.Name != "" {
				name = desc.Name
			}
			kind = desc.Type
			details = desc.Details
			if desc.Port > 0 {
				details = fmt.Sprintf("%s (:%d)", details, desc.Port)
			}
		}
		line := fmt.Sprintf("   %s %s %s", prefix, statusIcon(h.Status), name)
		if kind != "" {
			line += " [" + kind + "]"
		}
		if details != "" {
			line += ": " + details
		}
		fmt.Fprintln(s.out, line)
	}
	fmt.Fprintf(s.out, "%d/%d components healthy\n\n", healthy, len(all))
}

func statusIcon(status component.HealthStatus) string {
	switch status {
	case component.StatusHealthy:
		return "✓"
	case component.StatusDegraded:
		return "!"
	default:
		return "✗"
	}
}
