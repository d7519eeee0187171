package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/geoai/stackctl/internal/history"
	"github.com/geoai/stackctl/internal/orchestrator"
	"github.com/geoai/stackctl/internal/registry"
)

type statusRow struct {
	Service  string `json:"service"`
	State    string `json:"state"`
	External bool   `json:"external,omitempty"`
}

func printOutcomes(w io.Writer, outs []orchestrator.Outcome, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(outs)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATUS\tPID\tDETAIL")
	for _, o := range outs {
		pid := ""
		if o.PID > 0 {
			pid = fmt.Sprintf("%d", o.PID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Service, o.Status, pid, o.Detail)
	}
	_ = tw.Flush()
}

func printStatus(w io.Writer, rows []statusRow, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rows)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATE\tMANAGED")
	for _, r := range rows {
		managed := "stackctl"
		if r.External {
			managed = "external"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Service, r.State, managed)
	}
	_ = tw.Flush()
}

func printGraph(w io.Writer, order []string, edges [][2]string, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(struct {
			Order []string    `json:"order"`
			Edges [][2]string `json:"edges"`
		}{Order: order, Edges: edges})
		return
	}
	fmt.Fprintln(w, "start order:")
	for i, name := range order {
		fmt.Fprintf(w, "  %d. %s\n", i+1, name)
	}
	if len(edges) > 0 {
		fmt.Fprintln(w, "edges:")
		for _, e := range edges {
			fmt.Fprintf(w, "  %s -> %s\n", e[0], e[1])
		}
	}
}

// mustOrder returns the full start order of an already validated registry.
func mustOrder(reg *registry.Registry) []registry.Definition {
	order, err := reg.StartOrder(nil)
	if err != nil {
		panic(err)
	}
	return order
}

func printHistory(w io.Writer, events []history.Event, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(events)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tEVENT\tSERVICE\tPID\tDETAIL")
	for _, e := range events {
		pid := ""
		if e.PID > 0 {
			pid = fmt.Sprintf("%d", e.PID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.Format(time.RFC3339), e.SessionID, e.Type, e.Service, pid, e.Detail)
	}
	_ = tw.Flush()
}
