package reconcile

import "strings"

// DefaultProgressLabel is shown while a run is active but no stage keyword
// has appeared in the log tail yet.
const DefaultProgressLabel = "Running…"

// progressStages maps log keywords to operator-facing labels, ordered from
// least to most advanced. The most advanced match wins.
var progressStages = []struct {
	keyword string
	label   string
}{
	{"installing", "Installing dependencies…"},
	{"building", "Building…"},
	{"restarting", "Restarting…"},
	{"completed", "Finishing up…"},
}

// ProgressLabel derives a best-effort, non-authoritative stage label from
// the tail of the remote log lines.
func ProgressLabel(lines []string) string {
	best := -1
	for _, line := range lines {
		lowered := strings.ToLower(line)
		for i, stage := range progressStages {
			if i > best && strings.Contains(lowered, stage.keyword) {
				best = i
			}
		}
	}
	if best < 0 {
		return DefaultProgressLabel
	}
	return progressStages[best].label
}
