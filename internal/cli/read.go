package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"noirvrs/internal/domain"
	"noirvrs/internal/reader"
	"noirvrs/internal/ritual"
	"noirvrs/internal/storage"
	casezip "noirvrs/pkg/zip"
)

func newReadCommand(e *env) *cobra.Command {
	var exportDir string
	cmd := &cobra.Command{
		Use:   "read [new|CASE_ID]",
		Short: "Open a new case, or resume one by id, and page through it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "new"
			if len(args) == 1 {
				target = args[0]
			}
			return e.read(cmd.Context(), target, exportDir, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&exportDir, "export", "", "directory to save the closed case as <case_id>.zip")
	return cmd
}

func (e *env) read(ctx context.Context, target, exportDir string, in io.Reader, out, status io.Writer) error {
	adapter, err := e.backendAdapter(ctx)
	if err != nil {
		return err
	}
	engine, err := ritual.NewEngine(ritual.Options{
		Store:    e.store,
		Adapter:  adapter,
		Logger:   e.logger,
		Timeout:  e.cfg.RitualTimeout,
		Cooldown: e.cfg.RitualCooldown,
		Now:      e.now,
		Locale:   e.cfg.Locale,
	})
	if err != nil {
		return err
	}
	ctl, err := reader.New(reader.Options{
		Engine: engine,
		Store:  e.store,
		Logger: e.logger,
		Now:    e.now,
		Observer: func(s domain.Status) {
			fmt.Fprintf(status, "... %s\n", statusLine(s))
		},
	})
	if err != nil {
		return err
	}

	view, err := ctl.Open(ctx, target)
	if err != nil {
		return failureError(view, err)
	}

	done := make(chan struct{})
	defer close(done)
	lines := scanLines(in, done)
	for {
		render(out, ctl.View())
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			_, err := ctl.Abort(ctx)
			fmt.Fprintln(out, "Case abandoned.")
			return err
		case line, ok = <-lines:
		}
		if !ok {
			line = "q"
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "n", "next":
			nav, err := ctl.Advance(ctx)
			if err != nil {
				fmt.Fprintf(out, "Could not close the case: %v. Press n to retry.\n", err)
				continue
			}
			if nav == reader.NavLeave {
				p, err := e.store.Get(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Case closed. Threads remaining: %d. Streak: %d.\n", p.ThreadsRemaining, p.CurrentStreak)
				if exportDir == "" {
					return nil
				}
				cs, _ := ctl.Case()
				path, err := exportCase(ctx, exportDir, cs)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Case file saved to %s.\n", path)
				return nil
			}
		case "p", "prev", "b", "back":
			ctl.Retreat()
		case "q", "quit":
			if _, err := ctl.Abort(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "Case abandoned.")
			return nil
		default:
			fmt.Fprintln(out, "Keys: [n]ext, [p]rev, [q]uit")
		}
	}
}

// scanLines feeds lines from in until EOF or until done is closed. A reader
// blocked on a terminal read stays parked until the next line arrives.
func scanLines(in io.Reader, done <-chan struct{}) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	return ch
}

func render(w io.Writer, v reader.View) {
	if v.State != reader.StateReading {
		return
	}
	title := v.Title
	if title == "" {
		title = "Untitled"
	}
	fmt.Fprintf(w, "\n%s  [%s]\n", title, v.CaseID)
	fmt.Fprintf(w, "Page %d/%d  %s\n\n", v.Page, v.Pages, strings.ToUpper(string(v.Scene)))
	fmt.Fprintln(w, v.Text)
	fmt.Fprintf(w, "\nPanel: %s\n", panelLine(v))
	if v.LastPage {
		fmt.Fprintln(w, "[n] close the case  [p]rev  [q]uit")
	} else {
		fmt.Fprintln(w, "[n]ext  [p]rev  [q]uit")
	}
}

func panelLine(v reader.View) string {
	switch v.Slot.State {
	case domain.SlotResolved:
		ref := v.Image
		if strings.HasPrefix(ref, "data:") {
			if i := strings.IndexByte(ref, ','); i > 0 {
				return fmt.Sprintf("developed (%s, %d bytes)", ref[len("data:"):i], len(ref)-i-1)
			}
		}
		return ref
	case domain.SlotFailed:
		return "lost in the rain"
	default:
		return "developing..."
	}
}

func statusLine(s domain.Status) string {
	switch s {
	case domain.StatusStoryGen:
		return "writing the case file"
	case domain.StatusImageGen:
		return "developing the panels"
	case domain.StatusFinalizing:
		return "sealing the evidence"
	case domain.StatusCompleted:
		return "case ready"
	case domain.StatusCooldown:
		return "the wire is cooling down"
	case domain.StatusAborted:
		return "aborted"
	default:
		return strings.ToLower(string(s))
	}
}

func exportCase(ctx context.Context, dir string, cs domain.Case) (string, error) {
	files, err := storage.NewFileStore(dir)
	if err != nil {
		return "", err
	}
	archive, err := casezip.ArchiveCase(cs)
	if err != nil {
		return "", err
	}
	key, err := files.Write(ctx, cs.ID+".zip", archive)
	if err != nil {
		return "", err
	}
	return filepath.Join(files.BasePath(), filepath.FromSlash(key)), nil
}

func failureError(v reader.View, err error) error {
	if v.Failure != nil {
		return fmt.Errorf("%s: %s", v.Failure.Code, v.Failure.Message)
	}
	return err
}
