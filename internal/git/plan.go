package git

import (
	"os"
	"path/filepath"
	"regexp"
)

// PlanFile is the implementation plan the loop script checks off.
const PlanFile = "docs/plans/IMPLEMENTATION_PLAN.md"

var (
	checkedRe   = regexp.MustCompile(`(?i)- \[x\]`)
	uncheckedRe = regexp.MustCompile(`- \[ \]`)
)

// PlanProgress counts checked and total checkboxes in the project's plan.
// ok is false when the plan is missing or has no checkboxes.
func PlanProgress(projectDir string) (done, total int, ok bool) {
	data, err := os.ReadFile(filepath.Join(projectDir, PlanFile))
	if err != nil {
		return 0, 0, false
	}
	done = len(checkedRe.FindAll(data, -1))
	total = done + len(uncheckedRe.FindAll(data, -1))
	if total == 0 {
		return 0, 0, false
	}
	return done, total, true
}
