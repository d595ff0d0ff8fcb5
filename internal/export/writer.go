package export

import (
	"context"
	"fmt"
	"io"
)

// Renderer writes documents in any supported format.
type Renderer struct {
	PDF *PDFExporter
}

// Write renders doc as format into w.
func (r Renderer) Write(ctx context.Context, w io.Writer, format Format, doc Document) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, doc)
	case FormatXLSX:
		return WriteXLSX(w, doc)
	case FormatPDF:
		if r.PDF == nil {
			return fmt.Errorf("export: pdf renderer not configured")
		}
		data, err := r.PDF.Render(ctx, doc)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	return fmt.Errorf("export: unsupported format %q", format)
}
