package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/store"
	"github.com/kayz/dotprompt/internal/store/dir"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the prompt store",
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts, partials and schemas",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		prompts, err := a.store.List(ctx)
		if err != nil {
			return err
		}
		partials, err := a.store.ListPartials(ctx)
		if err != nil {
			return err
		}
		schemas, err := a.store.ListSchemas(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tNAME\tVARIANT\tVERSION")
		for _, p := range prompts {
			fmt.Fprintf(w, "prompt\t%s\t%s\t%s\n", p.Name, p.Variant, shortVersion(p.Version))
		}
		for _, p := range partials {
			fmt.Fprintf(w, "partial\t%s\t%s\t%s\n", p.Name, p.Variant, shortVersion(p.Version))
		}
		for _, s := range schemas {
			fmt.Fprintf(w, "schema\t%s\t\t\n", s)
		}
		return w.Flush()
	},
}

var storeImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Copy prompts, partials and schemas from a directory into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		src, err := dir.New(args[0])
		if err != nil {
			return err
		}
		n, err := importAll(ctx, src, a.store)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d items from %s\n", n, src.Root())
		return nil
	},
}

// importAll copies every item of src into dst and returns how many it copied.
func importAll(ctx context.Context, src *dir.Store, dst backend) (int, error) {
	n := 0
	copyAll := func(refs []store.PromptRef, load func(context.Context, string, store.LoadOptions) (store.PromptData, error), save func(context.Context, store.PromptData) error) error {
		for _, ref := range refs {
			p, err := load(ctx, ref.Name, store.LoadOptions{Variant: ref.Variant})
			if err != nil {
				return err
			}
			if err := save(ctx, p); err != nil {
				return err
			}
			logger.Debug("imported %s", ref.Name)
			n++
		}
		return nil
	}

	prompts, err := src.List(ctx)
	if err != nil {
		return n, err
	}
	if err := copyAll(prompts, src.Load, dst.Save); err != nil {
		return n, err
	}
	partials, err := src.ListPartials(ctx)
	if err != nil {
		return n, err
	}
	if err := copyAll(partials, src.LoadPartial, dst.SavePartial); err != nil {
		return n, err
	}

	schemas, err := src.ListSchemas(ctx)
	if err != nil {
		return n, err
	}
	for _, name := range schemas {
		body, err := src.LoadSchema(ctx, name)
		if err != nil {
			return n, err
		}
		if err := dst.SaveSchema(ctx, name, body); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func shortVersion(v string) string {
	if len(v) > 8 {
		return v[:8]
	}
	return v
}

func init() {
	storeCmd.AddCommand(storeListCmd, storeImportCmd)
	rootCmd.AddCommand(storeCmd)
}
