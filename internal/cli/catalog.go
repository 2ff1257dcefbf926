package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/quickassist/internal/catalog"
)

// CatalogCategory is one category as the catalog command reports it.
type CatalogCategory struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Services []catalog.Service `json:"services"`
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [category-id]",
		Short: "List service categories",
		Long: `List the service categories, their services and how each service is
answered (directory, landmark or priest).

Examples:
  quickassist catalog
  quickassist catalog emergency
  quickassist catalog --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog(rootOpts, args, cmd)
		},
	}
}

func runCatalog(opts *RootOptions, args []string, cmd *cobra.Command) error {
	cat, err := opts.loadCatalog()
	if err != nil {
		return err
	}

	categories := cat.Categories()
	if len(args) == 1 {
		c, ok := cat.Category(args[0])
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown category %q", args[0]))
		}
		categories = []catalog.Category{c}
	}

	out := make([]CatalogCategory, 0, len(categories))
	for _, c := range categories {
		entry := CatalogCategory{ID: c.ID, Title: c.Title, Services: make([]catalog.Service, 0, len(c.Services))}
		for _, name := range c.Services {
			svc, ok := cat.Lookup(name)
			if !ok {
				svc = catalog.Service{Name: name, Category: c.ID, Kind: cat.Resolve(name)}
			}
			entry.Services = append(entry.Services, svc)
		}
		out = append(out, entry)
	}

	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		for _, c := range out {
			fmt.Fprintf(w, "%s (%s)\n", c.Title, c.ID)
			for _, s := range c.Services {
				fmt.Fprintf(w, "  - %s [%s]\n", s.Name, s.Kind)
			}
		}
	})
}
