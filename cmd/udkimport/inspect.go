package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		format string
		asText bool
	)
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Parse a legacy file and print its record tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, ok := udk.FormatFromPath(path)
			if format != "" {
				parsed, err := udk.ParseFormat(format)
				if err != nil {
					return err
				}
				f, ok = parsed, true
			}
			if !ok {
				return fmt.Errorf("%s: cannot infer format from extension; use --format", path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			forest, err := udk.Read(data, f, udk.PackageOptions{
				MinVersion: a.cfg.Import.MinPackageVersion,
				MaxVersion: a.cfg.Import.MaxPackageVersion,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			out := cmd.OutOrStdout()
			if asText {
				return udk.WriteText(out, forest)
			}
			n := printTree(out, forest, 0)
			fmt.Fprintf(out, "%d records\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "source format: t3d or upk (default: from extension)")
	cmd.Flags().BoolVar(&asText, "text", false, "print the records in the text scene grammar")
	return cmd
}

// printTree writes one line per record and returns the number written.
func printTree(w io.Writer, forest []*udk.RawRecord, depth int) int {
	n := 0
	for _, r := range forest {
		line := strings.Repeat("  ", depth) + r.Kind
		if name := recordName(r); name != "" {
			line += " " + name
		}
		line += fmt.Sprintf(" (%d props", len(r.Props))
		if len(r.Payload) > 0 {
			line += fmt.Sprintf(", %d payload bytes", len(r.Payload))
		}
		fmt.Fprintln(w, line+")")
		n += 1 + printTree(w, r.Children, depth+1)
	}
	return n
}

func recordName(r *udk.RawRecord) string {
	for _, key := range []string{"ObjectPath", "Name"} {
		if v, ok := r.Prop(key); ok {
			if v.Kind == udk.KindString || v.Kind == udk.KindOpaque {
				return v.Str
			}
			return v.Literal()
		}
	}
	return ""
}
