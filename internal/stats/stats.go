// Package stats contains run counters and summary rendering.
package stats

import (
	"fmt"
	"io"
	"sort"

	"github.com/verte-zerg/punchsync/internal/model"
)

// Counts tallies the punches of one terminal or of a whole run.
// Sent, Duplicates and Errors never add up to more than Total.
type Counts struct {
	Total      int
	Sent       int
	Duplicates int
	Errors     int
	Anomalies  map[string]int
}

// Record accounts for one delivery outcome. Total is not touched; it is the
// number of in-window records and is set before delivering.
func (c *Counts) Record(o model.Outcome) {
	switch o.Kind {
	case model.OutcomeDelivered:
		c.Sent++
	case model.OutcomeDuplicate, model.OutcomeSuppressed:
		c.Duplicates++
	default:
		c.Errors++
		return
	}
	if o.Anomaly != "" {
		if c.Anomalies == nil {
			c.Anomalies = map[string]int{}
		}
		c.Anomalies[o.Anomaly]++
	}
}

// Merge adds other into c. Anomalies are merged by label.
func (c *Counts) Merge(other Counts) {
	c.Total += other.Total
	c.Sent += other.Sent
	c.Duplicates += other.Duplicates
	c.Errors += other.Errors
	for label, n := range other.Anomalies {
		if c.Anomalies == nil {
			c.Anomalies = map[string]int{}
		}
		c.Anomalies[label] += n
	}
}

// AnomalyLabels returns the anomaly labels in ascending order.
func (c Counts) AnomalyLabels() []string {
	labels := make([]string, 0, len(c.Anomalies))
	for label := range c.Anomalies {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// TerminalRow is one line of the per-terminal summary.
type TerminalRow struct {
	Name   string
	Counts Counts
	Err    string
}

// Summary is everything the final report prints.
type Summary struct {
	Total     Counts
	Terminals []TerminalRow
}

// RenderSummary prints the totals, the per-terminal table and the anomaly
// histogram.
func RenderSummary(w io.Writer, s Summary) error {
	if _, err := fmt.Fprintln(w, "Summary"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Total: %d\n", s.Total.Total); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Sent: %d\n", s.Total.Sent); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Duplicates: %d\n", s.Total.Duplicates); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Errors: %d\n", s.Total.Errors); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}

	if len(s.Terminals) > 0 {
		if err := renderTerminals(w, s.Terminals); err != nil {
			return err
		}
	}
	return renderAnomalies(w, s.Total)
}

func renderTerminals(w io.Writer, rows []TerminalRow) error {
	if _, err := fmt.Fprintln(w, "Terminals"); err != nil {
		return err
	}
	headers := []string{"Terminal", "Total", "Sent", "Duplicates", "Errors", "Status"}
	tableRows := make([][]string, 0, len(rows))
	for _, r := range rows {
		status := "ok"
		if r.Err != "" {
			status = r.Err
		}
		tableRows = append(tableRows, []string{
			r.Name,
			fmt.Sprintf("%d", r.Counts.Total),
			fmt.Sprintf("%d", r.Counts.Sent),
			fmt.Sprintf("%d", r.Counts.Duplicates),
			fmt.Sprintf("%d", r.Counts.Errors),
			status,
		})
	}
	rightAlign := map[int]bool{1: true, 2: true, 3: true, 4: true}
	for _, line := range formatTable(headers, tableRows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

func renderAnomalies(w io.Writer, c Counts) error {
	labels := c.AnomalyLabels()
	if len(labels) == 0 {
		_, err := fmt.Fprintln(w, "No anomalies detected.")
		return err
	}
	if _, err := fmt.Fprintln(w, "Anomalies"); err != nil {
		return err
	}
	rows := make([][]string, 0, len(labels))
	for _, label := range labels {
		rows = append(rows, []string{label, fmt.Sprintf("%d", c.Anomalies[label])})
	}
	for _, line := range formatTable([]string{"Anomaly", "Count"}, rows, map[int]bool{1: true}) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
