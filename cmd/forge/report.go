package main

import (
	"fmt"
	"io"

	"github.com/aristath/forge/internal/events"
)

// report prints task completions and failing output as they arrive. The
// returned channel closes once sub is drained.
func report(w io.Writer, sub <-chan events.Event) <-chan struct{} {
	done := make(chan struct{})
	output := make(map[string][]string)

	go func() {
		defer close(done)
		for e := range sub {
			switch e := e.(type) {
			case events.TaskOutputEvent:
				output[e.Task] = append(output[e.Task], e.Line)
			case events.TaskFinishedEvent:
				switch e.Status {
				case "failed":
					fmt.Fprintf(w, "FAIL  %s (%s)\n", e.Task, e.Reason)
					for _, line := range output[e.Task] {
						fmt.Fprintf(w, "      %s\n", line)
					}
					if e.Err != nil {
						fmt.Fprintf(w, "      %v\n", e.Err)
					}
				case "succeeded":
					fmt.Fprintf(w, "ok    %s\n", e.Task)
				}
				delete(output, e.Task)
			}
		}
	}()
	return done
}
