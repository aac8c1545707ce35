package export

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/HatiCode/sensorboard/pkg/analysis"
	"github.com/HatiCode/sensorboard/pkg/render"
)

// pdfTableRows is the number of result rows listed after the graph.
const pdfTableRows = 5

// PDF places bm on a landscape page sized to the image, one point per
// pixel. When raw holds result rows, a second page lists the first five as
// plain text. A result without rows only omits the table.
func PDF(title string, bm render.Bitmap, raw json.RawMessage) ([]byte, error) {
	w, h := float64(bm.Width), float64(bm.Height)

	// fpdf takes the size in portrait terms and swaps it for "L".
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "L",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: h, Ht: w},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(title, true)
	pdf.SetCreator("sensorboard", true)

	pdf.AddPage()
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("graph", opts, bytes.NewReader(bm.PNG))
	pdf.ImageOptions("graph", 0, 0, w, h, false, opts, 0, "")

	if lines := tableLines(raw); len(lines) > 0 {
		tr := pdf.UnicodeTranslatorFromDescriptor("")
		pdf.AddPage()
		pdf.SetFont("Courier", "", 10)
		pdf.SetXY(24, 24)
		for _, line := range lines {
			pdf.SetX(24)
			pdf.CellFormat(w-48, 14, tr(line), "", 1, "L", false, 0, "")
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func tableLines(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	rows, err := analysis.ParseRows(raw)
	if err != nil || len(rows) == 0 {
		return nil
	}

	header := rows[0].Keys()
	lines := []string{strings.Join(header, " | ")}
	for _, row := range rows[:min(len(rows), pdfTableRows)] {
		fields := make([]string, len(header))
		for i, key := range header {
			if f, ok := row.Get(key); ok {
				fields[i] = f.Text()
			}
		}
		lines = append(lines, strings.Join(fields, " | "))
	}
	return lines
}
