package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"expensedash/internal/core"
	"expensedash/internal/table"
)

func listCmd(e *env) *cobra.Command {
	var (
		sortKey  string
		desc     bool
		page     int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your expenses one page at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := e.currentUser()
			if err != nil {
				return err
			}
			records, err := e.app.Records.List(cmd.Context(), user.ID)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("page-size") {
				pageSize = e.app.Config.PageSize
			}
			state := table.State{SortKey: table.SortKey(sortKey), Direction: table.Asc, Page: page, PageSize: pageSize}
			if desc {
				state.Direction = table.Desc
			}
			return writeTable(e.stdout, table.Render(records, state))
		},
	}
	cmd.Flags().StringVarP(&sortKey, "sort", "s", "", "sort by amount or date")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort in descending order")
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page to show")
	cmd.Flags().IntVar(&pageSize, "page-size", table.DefaultPageSize, "rows per page")
	return cmd
}

type draftFlags struct {
	amount      string
	category    string
	description string
	date        string
}

func (f *draftFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.amount, "amount", "a", "", "amount, e.g. 12.50")
	cmd.Flags().StringVarP(&f.category, "category", "c", "", "category")
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "description")
	cmd.Flags().StringVar(&f.date, "date", "", "date as YYYY-MM-DD")
}

func addCmd(e *env) *cobra.Command {
	var f draftFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an expense",
		Example: `  expensectl add --amount 250 --category Food --description "Lunch"
  expensectl add -a 1200,50 -c Utilities -d Electricity --date 2024-03-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := e.currentUser()
			if err != nil {
				return err
			}
			if f.date == "" {
				f.date = core.DateOf(e.now()).String()
			}
			draft, err := core.ParseDraft(f.amount, f.category, f.description, f.date)
			if err != nil {
				return err
			}

			rec, err := e.app.Records.Create(cmd.Context(), user.ID, draft)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Added expense %s: %s %s on %s\n",
				rec.ID, formatAmount(rec.Amount), rec.CategoryLabel(), formatDate(rec.Date))
			return nil
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func editCmd(e *env) *cobra.Command {
	var f draftFlags
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change an expense",
		Long: `Change an expense. Fields without a flag keep their current value; the
full record is sent to the service.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := e.currentUser()
			if err != nil {
				return err
			}
			id := core.ID(args[0])

			records, err := e.app.Records.List(cmd.Context(), user.ID)
			if err != nil {
				return err
			}
			var current *core.Expense
			for i := range records {
				if records[i].ID == id {
					current = &records[i]
					break
				}
			}
			if current == nil {
				return core.NewError(core.KindNotFound, fmt.Sprintf("expense %s not found", id), nil)
			}

			flags := cmd.Flags()
			amount, category, description, date := current.Amount.String(), current.Category, current.Description, current.Date.String()
			if flags.Changed("amount") {
				amount = f.amount
			}
			if flags.Changed("category") {
				category = f.category
			}
			if flags.Changed("description") {
				description = f.description
			}
			if flags.Changed("date") {
				date = f.date
			}
			draft, err := core.ParseDraft(amount, category, description, date)
			if err != nil {
				return err
			}

			rec, err := e.app.Records.Update(cmd.Context(), id, draft)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Updated expense %s: %s %s on %s\n",
				rec.ID, formatAmount(rec.Amount), rec.CategoryLabel(), formatDate(rec.Date))
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func rmCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete an expense",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := e.currentUser(); err != nil {
				return err
			}
			if err := e.app.Records.Remove(cmd.Context(), core.ID(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Deleted expense %s\n", args[0])
			return nil
		},
	}
}

func summaryCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show totals for all time, this week, this month and per category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := e.currentUser()
			if err != nil {
				return err
			}
			records, err := e.app.Records.List(cmd.Context(), user.ID)
			if err != nil {
				return err
			}
			return writeSummary(e.stdout, core.Summarize(records, e.now()))
		},
	}
}
