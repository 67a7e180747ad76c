package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/mcdev12/ladder/go/internal/session"
	"github.com/mcdev12/ladder/go/internal/timer"
)

type stateOutput struct {
	State   session.State   `json:"state"`
	Summary session.Summary `json:"summary"`
	Timer   timerOutput     `json:"timer"`
}

type timerOutput struct {
	Display   string      `json:"display"`
	Remaining int         `json:"remaining"`
	Total     int         `json:"total"`
	Color     timer.Color `json:"color"`
	Running   bool        `json:"running"`
	Expired   bool        `json:"expired"`
}

func renderState(w io.Writer, format string, st session.State, v timer.View) error {
	sum := session.Summarize(st)
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stateOutput{
			State:   st,
			Summary: sum,
			Timer: timerOutput{
				Display:   v.Display,
				Remaining: v.Remaining,
				Total:     v.Total,
				Color:     v.Color,
				Running:   v.Running,
				Expired:   v.Expired,
			},
		})
	}

	fmt.Fprintln(w, timerLine(st, v))
	if len(st.Speakers) == 0 {
		fmt.Fprintln(w, "No speakers yet. Add one with: ladder join <name>")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, sp := range st.Speakers {
		flag := ""
		if sp.Breakout {
			flag = "over time"
		}
		fmt.Fprintf(tw, "%d.\t%s\t%s\t%s\n", i+1, sp.Name, sp.Status, flag)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	switch {
	case sum.AllDone:
		fmt.Fprintln(w, "All speakers done.")
	case sum.Active != nil:
		fmt.Fprintf(w, "Speaker %d of %d, %d waiting\n", sum.Position, sum.Total, sum.Waiting)
	default:
		fmt.Fprintf(w, "%d waiting\n", sum.Waiting)
	}
	return nil
}

func timerLine(st session.State, v timer.View) string {
	active, ok := st.Active()
	if !ok {
		return fmt.Sprintf("Idle  present %dm / Q&A %dm", st.PresentMins, st.QAMins)
	}
	var state string
	switch {
	case v.Running:
		state = "running"
	case st.PausedElapsed > 0:
		state = "paused"
	default:
		state = "ready"
	}
	return fmt.Sprintf("%s  %s  %s [%s, %s]", active.Name, v.Phase, v.Display, state, v.Color)
}
