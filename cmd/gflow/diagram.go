package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/spf13/cobra"

	"github.com/gw123/gflow-sub001/internal/diagram"
	"github.com/gw123/gflow-sub001/pkg/schema"
)

func newDiagramCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "diagram <file>",
		Short: "Draw a workflow file as mermaid, ascii, png or svg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return drawFile(cmd.Context(), args[0], format, w)
		},
	}
	cmd.Flags().StringVar(&format, "format", "ascii", "mermaid, ascii, png or svg")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}

func drawFile(ctx context.Context, path, format string, w io.Writer) error {
	def, err := schema.LoadDefinition(path)
	if err != nil {
		return err
	}
	model, err := diagram.Build(def, nil)
	if err != nil {
		return err
	}

	var img []byte
	switch strings.ToLower(format) {
	case "mermaid":
		_, err = io.WriteString(w, diagram.RenderMermaid(model))
		return err
	case "ascii", "":
		_, err = io.WriteString(w, diagram.RenderASCII(model))
		return err
	case "png":
		img, err = diagram.RenderImage(ctx, model, graphviz.PNG)
	case "svg":
		img, err = diagram.RenderImage(ctx, model, graphviz.SVG)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(img)
	return err
}
