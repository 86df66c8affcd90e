package status

import (
	"fmt"
	"io"
	"sort"

	"archgit/shared/types"

	"github.com/fatih/color"
)

// Report is the outcome of a Status run. Every bucket is sorted and a path
// appears in at most one of them.
type Report struct {
	Branch    string          `json:"branch"`
	Modified  []string        `json:"modified"`
	Deleted   []string        `json:"deleted"`
	Untracked []string        `json:"untracked"`
	Changes   []shared.Change `json:"changes"`
}

func (r *Report) add(c shared.Change) {
	switch c.Type {
	case shared.ChangeModified:
		r.Modified = append(r.Modified, c.Path)
	case shared.ChangeDeleted:
		r.Deleted = append(r.Deleted, c.Path)
	case shared.ChangeUntracked:
		r.Untracked = append(r.Untracked, c.Path)
	}
	r.Changes = append(r.Changes, c)
}

func (r *Report) sort() {
	sort.Strings(r.Modified)
	sort.Strings(r.Deleted)
	sort.Strings(r.Untracked)
	sort.Slice(r.Changes, func(i, j int) bool {
		return r.Changes[i].Path < r.Changes[j].Path
	})
}

// Clean reports whether nothing differs from the index.
func (r *Report) Clean() bool {
	return len(r.Modified) == 0 && len(r.Deleted) == 0 && len(r.Untracked) == 0
}

// Format writes the human-readable report. Colors are only emitted when
// colorize is set.
func (r *Report) Format(w io.Writer, colorize bool) error {
	staged := color.New(color.FgGreen)
	untracked := color.New(color.FgRed)
	if colorize {
		staged.EnableColor()
		untracked.EnableColor()
	} else {
		staged.DisableColor()
		untracked.DisableColor()
	}

	ew := &errWriter{w: w}
	ew.printf("On branch %s\n", r.Branch)

	if r.Clean() {
		ew.printf("nothing to commit, working tree clean\n")
		return ew.err
	}

	if len(r.Modified) > 0 || len(r.Deleted) > 0 {
		ew.printf("\nChanges to be committed:\n")
		for _, p := range r.Modified {
			ew.printf("\t%s\n", staged.Sprintf("modified:   %s", p))
		}
		for _, p := range r.Deleted {
			ew.printf("\t%s\n", staged.Sprintf("deleted:    %s", p))
		}
	}

	if len(r.Untracked) > 0 {
		ew.printf("\nUntracked files:\n")
		for _, p := range r.Untracked {
			ew.printf("\t%s\n", untracked.Sprint(p))
		}
	}

	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
