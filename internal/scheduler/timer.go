package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// Timer is the schedule of one timer node.
type Timer struct {
	Node string
	Cron string
}

// Timers lists the schedulable timer nodes of def. A node schedules with its
// `cron` parameter, or with `secondsInterval` when that is at least a
// minute. Intervals are rounded down to whole minutes, or whole hours from
// one hour up.
func Timers(def *schema.WorkflowDefinition) []Timer {
	if def == nil {
		return nil
	}
	var out []Timer
	for _, n := range def.Nodes {
		if n.Type != schema.NodeTypeTimer {
			continue
		}
		if expr := TimerSchedule(n.Parameters); expr != "" {
			out = append(out, Timer{Node: n.Name, Cron: expr})
		}
	}
	return out
}

// TimerSchedule returns the cron expression for timer parameters, or "" when
// they do not describe one.
func TimerSchedule(params map[string]any) string {
	if expr, ok := params["cron"].(string); ok && strings.TrimSpace(expr) != "" {
		return strings.TrimSpace(expr)
	}
	seconds := intervalSeconds(params["secondsInterval"])
	if seconds < 60 {
		return ""
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("*/%d * * * *", minutes)
	}
	return fmt.Sprintf("0 */%d * * *", minutes/60)
}

func intervalSeconds(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
