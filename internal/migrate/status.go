package migrate

import (
	"bufio"
	"io"
)

// Status is the reconciliation of a path against the ledger.
//
// Run and Unrun are disjoint and Unrun is a subset of the path. Run lists
// every ledger row, so when the ledger holds names the path no longer
// declares (steps renamed or removed since they ran) Run and Unrun together
// cover more than the path's names. Callers that need only the path's own
// steps should drop the names of Run that the path does not declare.
type Status struct {
	// Run holds every recorded name in ledger order, including names the
	// path does not declare.
	Run []string `json:"run"`
	// Unrun holds the path's unrecorded names in declared order.
	Unrun   []string `json:"unrun"`
	Entries []Entry  `json:"entries"`
}

func Reconcile(path Path, entries []Entry) *Status {
	s := &Status{
		Run:     make([]string, 0, len(entries)),
		Unrun:   []string{},
		Entries: entries,
	}
	recorded := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		s.Run = append(s.Run, e.Name)
		recorded[e.Name] = struct{}{}
	}
	if s.Entries == nil {
		s.Entries = []Entry{}
	}
	for _, name := range path.Names() {
		if _, ok := recorded[name]; !ok {
			s.Unrun = append(s.Unrun, name)
		}
	}
	return s
}

// WriteStatus renders s in the plain-text form printed by the CLI.
func WriteStatus(w io.Writer, s *Status) error {
	bw := bufio.NewWriter(w)
	writeList(bw, "Migrations already run:", s.Run)
	writeList(bw, "Migrations left to run:", s.Unrun)
	return bw.Flush()
}

func writeList(w *bufio.Writer, title string, names []string) {
	w.WriteString(title + "\n")
	if len(names) == 0 {
		w.WriteString("  None\n")
		return
	}
	for _, name := range names {
		w.WriteString("  - " + name + "\n")
	}
}
