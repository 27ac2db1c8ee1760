package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hashitfit/coach/internal/memory"
)

var (
	memUser       string
	memListLimit  int
	memSearchK    int
	memKind       string
	memImportance int
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit what the coach remembers about a user",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's memory records, newest first",
	RunE:  memoryList,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Rank a user's memory records against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  memorySearch,
}

var memoryWriteCmd = &cobra.Command{
	Use:   "write [content]",
	Short: "Store a memory record for a user",
	Args:  cobra.MinimumNArgs(1),
	RunE:  memoryWrite,
}

func init() {
	for _, c := range []*cobra.Command{memoryListCmd, memorySearchCmd, memoryWriteCmd} {
		c.Flags().StringVar(&memUser, "user", "", "user id (required)")
		_ = c.MarkFlagRequired("user")
	}
	memoryListCmd.Flags().IntVar(&memListLimit, "limit", 50, "maximum records to show")
	memorySearchCmd.Flags().IntVar(&memSearchK, "limit", memory.DefaultK, "maximum results")
	memoryWriteCmd.Flags().StringVar(&memKind, "kind", memory.KindNote, "record kind (fact, preference, summary, note)")
	memoryWriteCmd.Flags().IntVar(&memImportance, "importance", 3, "importance from 1 to 5")

	memoryCmd.AddCommand(memoryListCmd, memorySearchCmd, memoryWriteCmd)
	rootCmd.AddCommand(memoryCmd)
}

func openMemoryStore(cmd *cobra.Command) (*memory.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return memory.NewStore(db), func() { _ = db.Close() }, nil
}

func memoryList(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "memory.list")
	defer span.End()

	mem, closeFn, err := openMemoryStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	records, err := mem.List(ctx, memUser, memListLimit)
	if err != nil {
		return err
	}
	scored := make([]memory.Scored, len(records))
	for i, r := range records {
		scored[i] = memory.Scored{Record: r}
	}
	return renderMemory(cmd.OutOrStdout(), scored, false)
}

func memorySearch(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "memory.search")
	defer span.End()

	mem, closeFn, err := openMemoryStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	hits, err := mem.Search(ctx, memUser, strings.Join(args, " "), memSearchK)
	if err != nil {
		return err
	}
	return renderMemory(cmd.OutOrStdout(), hits, true)
}

func memoryWrite(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "memory.write")
	defer span.End()

	mem, closeFn, err := openMemoryStore(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	rec := &memory.Record{
		UserID:     memUser,
		Kind:       memKind,
		Content:    strings.Join(args, " "),
		Importance: memImportance,
	}
	if err := mem.Write(ctx, rec); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%s, importance %d)\n", rec.ID, rec.Kind, rec.Importance)
	return nil
}

func renderMemory(out io.Writer, records []memory.Scored, withScore bool) error {
	if len(records) == 0 {
		fmt.Fprintf(out, "No memory records for %s.\n", memUser)
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if withScore {
		fmt.Fprintln(w, "ID\tKIND\tIMP\tSCORE\tCREATED\tCONTENT")
	} else {
		fmt.Fprintln(w, "ID\tKIND\tIMP\tCREATED\tCONTENT")
	}
	for _, r := range records {
		created := r.CreatedAt.Format("2006-01-02 15:04")
		if withScore {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.3f\t%s\t%s\n", r.ID, r.Kind, r.Importance, r.Score, created, truncate(r.Content, 60))
		} else {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.ID, r.Kind, r.Importance, created, truncate(r.Content, 60))
		}
	}
	return w.Flush()
}
