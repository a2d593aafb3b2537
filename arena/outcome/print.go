package outcome

import (
	"fmt"
	"io"
)

// Print writes the report as a plain table, one block per competitor.
func Print(w io.Writer, report []Competitor) {
	if len(report) == 0 {
		fmt.Fprintln(w, "no decisive matches recorded")
		return
	}
	for _, c := range report {
		fmt.Fprintf(w, "%s (avg %.1f%%)\n", c.Name, 100*c.Average)
		for _, p := range c.Pairs {
			fmt.Fprintf(w, "  vs %-20s %4d-%-4d %5.1f%%  [%4.1f%%, %4.1f%%]\n",
				p.Opponent, p.Wins, p.Losses, 100*p.WinRate, 100*p.Low, 100*p.High)
		}
	}
}
