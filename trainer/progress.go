package trainer

import (
	"fmt"
	"golang.org/x/exp/maps"
	"io"
	"slices"
	"strings"
	"time"
)

// ProgressBar はバッチ単位の進捗を1行で描画する。
type ProgressBar struct {
	w           io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

func NewProgressBar(w io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		w:           w,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       30,
		metrics:     map[string]float64{},
	}
}

func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

func (pb *ProgressBar) Finish() {
	pb.render()
	fmt.Fprintln(pb.w)
}

func (pb *ProgressBar) render() {
	fmt.Fprint(pb.w, "\r"+pb.line())
}

func (pb *ProgressBar) line() string {
	percentage := 1.0
	if pb.total > 0 {
		percentage = min(float64(pb.current)/float64(pb.total), 1.0)
	}
	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	line := fmt.Sprintf("%s: %3.0f%%|%s| %d/%d [%s", pb.description, percentage*100, bar, pb.current, pb.total, formatDuration(elapsed))
	if pb.current > 0 && elapsed > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", float64(pb.current)/elapsed.Seconds())
	}

	keys := maps.Keys(pb.metrics)
	slices.Sort(keys)
	for _, k := range keys {
		line += fmt.Sprintf(", %s=%.3f", k, pb.metrics[k])
	}
	return line + "]"
}

// formatDuration は MM:SS 形式。
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
