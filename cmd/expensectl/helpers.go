package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"expensedash/internal/core"
	"expensedash/internal/table"
)

// readSecret prompts for a password. On a terminal the input is hidden;
// otherwise one line is read from stdin, which keeps pipes and tests
// working.
func (e *env) readSecret(prompt string) (string, error) {
	fmt.Fprint(e.stdout, prompt)
	if f, ok := e.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(e.stdout)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	if e.lines == nil {
		e.lines = bufio.NewReader(e.stdin)
	}
	line, err := e.lines.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// currentUser returns the logged in user, or an error telling how to log
// in.
func (e *env) currentUser() (core.User, error) {
	u, err := e.app.CurrentUser()
	if err != nil {
		return core.User{}, fmt.Errorf("%w (run 'expensectl login')", err)
	}
	return u, nil
}

func formatAmount(m core.Money) string {
	if m.Cents < 0 {
		return "-₹" + core.Money{Cents: -m.Cents}.String()
	}
	return "₹" + m.String()
}

func formatDate(d core.Date) string {
	if d.IsZero() {
		return "-"
	}
	return d.Format("02/01/2006")
}

// writeTable prints one rendered page followed by its caption.
func writeTable(w io.Writer, res table.Result) error {
	if res.Empty {
		_, err := fmt.Fprintln(w, res.Summary())
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "ID\tAMOUNT\tCATEGORY\tDESCRIPTION\tDATE"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range res.Rows {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, formatAmount(r.Amount), r.CategoryLabel(), r.Description, formatDate(r.Date)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s (page %d of %d)\n", res.Summary(), res.Page, res.Pages)
	return err
}

// writeSummary prints the dashboard figures and the category breakdown.
func writeSummary(w io.Writer, view core.SummaryView) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total\t%s\n", formatAmount(view.Total))
	fmt.Fprintf(tw, "This week\t%s\n", formatAmount(view.WeekTotal))
	fmt.Fprintf(tw, "This month\t%s\n", formatAmount(view.MonthTotal))
	if !view.Empty() {
		fmt.Fprintln(tw, "\t")
		fmt.Fprintln(tw, "CATEGORY\tAMOUNT\tSHARE")
		for _, s := range view.Shares() {
			fmt.Fprintf(tw, "%s\t%s\t%.1f%%\n", s.Name, formatAmount(s.Amount), s.Percent)
		}
	}
	return tw.Flush()
}
