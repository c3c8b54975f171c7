package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kayz/dotprompt/internal/picoschema"
	"github.com/kayz/dotprompt/internal/store"
)

var (
	schemaLenient bool
	schemaSave    string
)

var schemaCmd = &cobra.Command{
	Use:   "schema <file.yaml | ->",
	Short: "Compile a Picoschema document to JSON Schema",
	Long: `Compile a Picoschema (or JSON Schema) YAML document and print the JSON Schema.
Named types resolve against the schemas in the configured store.
With --save NAME the source is stored as a named schema instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		var src []byte
		if args[0] == "-" {
			src, err = io.ReadAll(cmd.InOrStdin())
		} else {
			src, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}

		var node yaml.Node
		if err := yaml.Unmarshal(src, &node); err != nil {
			return fmt.Errorf("parse schema: %w", err)
		}
		doc, err := picoschema.FromYAML(&node)
		if err != nil {
			return fmt.Errorf("parse schema: %w", err)
		}

		compiled, err := picoschema.Compile(ctx, doc, picoschema.Options{
			Resolver: store.SchemaResolver(a.store),
			Lenient:  schemaLenient || cfg.LenientSchemas,
		})
		if err != nil {
			return err
		}

		if schemaSave != "" {
			if err := a.store.SaveSchema(ctx, schemaSave, string(src)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "saved schema %s\n", schemaSave)
			return nil
		}

		out, err := json.MarshalIndent(compiled, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaLenient, "lenient", false, "Compile unresolved names to an unconstrained schema")
	schemaCmd.Flags().StringVar(&schemaSave, "save", "", "Store the (valid) schema under this name")
	rootCmd.AddCommand(schemaCmd)
}
