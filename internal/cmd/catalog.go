package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hashitfit/coach/internal/datasource"
	"github.com/hashitfit/coach/internal/documents"
)

var docsLimit int

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the data source catalog exposed to get_user_data",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a catalog YAML file without loading it",
	Args:  cobra.ExactArgs(1),
	RunE:  catalogValidate,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the catalog the runtime would load",
	RunE:  catalogList,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upsert a catalog YAML file into the data_sources table",
	Args:  cobra.ExactArgs(1),
	RunE:  catalogImport,
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage the coaching document corpus",
}

var documentsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Add the documents of a corpus YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  documentsImport,
}

var documentsSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the corpus the way search_documents does",
	Args:  cobra.MinimumNArgs(1),
	RunE:  documentsSearch,
}

func init() {
	documentsSearchCmd.Flags().IntVar(&docsLimit, "limit", 5, "maximum results")

	catalogCmd.AddCommand(catalogValidateCmd, catalogListCmd, catalogImportCmd)
	documentsCmd.AddCommand(documentsImportCmd, documentsSearchCmd)
	rootCmd.AddCommand(catalogCmd, documentsCmd)
}

func catalogValidate(cmd *cobra.Command, args []string) error {
	_, span := tracer.Start(cmd.Context(), "catalog.validate")
	defer span.End()

	descs, err := datasource.LoadYAML(args[0])
	if err != nil {
		return err
	}
	reg, err := datasource.NewRegistry(descs)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d active\n", args[0], plural(len(reg.All()), "source"), len(reg.Active()))
	return nil
}

func catalogList(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "catalog.list")
	defer span.End()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	descs, origin, err := loadCatalog(ctx, cfg, db)
	if err != nil {
		return err
	}
	reg, err := datasource.NewRegistry(descs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Catalog: %s\n\n", origin)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTABLE\tUSER SCOPED\tACTIVE\tCOLUMNS")
	for _, d := range reg.All() {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", d.Key, d.Table, d.UserScoped, d.Active, strings.Join(d.AllowedColumns, ","))
	}
	return w.Flush()
}

func catalogImport(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "catalog.import")
	defer span.End()

	entries, err := datasource.LoadEntries(args[0])
	if err != nil {
		return err
	}
	descs := make([]datasource.Descriptor, len(entries))
	for i, e := range entries {
		descs[i] = e.Descriptor()
	}
	if _, err := datasource.NewRegistry(descs); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := datasource.SaveToDB(ctx, db, entries); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %s from %s\n", plural(len(entries), "source"), args[0])
	if cfg.CatalogPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Note: catalog_path is set to %s, so the runtime ignores the table.\n", cfg.CatalogPath)
	}
	return nil
}

func documentsImport(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "documents.import")
	defer span.End()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := documents.NewStore(db).Import(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %s from %s\n", plural(n, "document"), args[0])
	return nil
}

func documentsSearch(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "documents.search")
	defer span.End()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	hits, err := documents.NewStore(db).Search(ctx, strings.Join(args, " "), docsLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(hits) == 0 {
		fmt.Fprintln(out, "No matching documents.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tID\tCATEGORY\tTITLE")
	for _, h := range hits {
		fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\n", h.Score, h.ID, orDash(h.Category), h.Title)
	}
	return w.Flush()
}
