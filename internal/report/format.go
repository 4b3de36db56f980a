package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// DefaultPrecision is the number of significant digits used by text and CSV.
const DefaultPrecision = 6

// Format renders r in the named format. An empty format means text.
func Format(r Report, format string, precision int) (string, error) {
	switch format {
	case FormatJSON:
		b, err := ToJSON(r)
		return string(b), err
	case FormatCSV:
		return ToCSV(r, precision)
	case FormatText, "":
		return ToText(r, precision), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// ToJSON renders r as indented JSON at full precision.
func ToJSON(r Report) ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// ToCSV renders one row per correspondence.
func ToCSV(r Report, precision int) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)

	if err := writer.Write([]string{"index", "x1", "y1", "x2", "y2", "residual", "inlier"}); err != nil {
		return "", err
	}
	for _, row := range r.Rows {
		if err := writer.Write([]string{
			strconv.Itoa(row.Index),
			num(row.X1, precision),
			num(row.Y1, precision),
			num(row.X2, precision),
			num(row.Y2, precision),
			num(float64(row.Residual), precision),
			strconv.FormatBool(row.Inlier),
		}); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return output.String(), writer.Error()
}

// ToText renders a human readable summary followed by the per-match table.
func ToText(r Report, precision int) string {
	var b strings.Builder

	switch r.Method {
	case MethodLinear:
		b.WriteString("Estimated Fundamental Matrix (linear):\n")
	default:
		b.WriteString("Estimated Fundamental Matrix (RANSAC):\n")
	}
	b.WriteString(formatMatrix(r.F, precision))
	fmt.Fprintf(&b, "Number of inliers: %d\n", r.InlierCount)
	b.WriteString("Inlier indices:")
	for _, idx := range r.Inliers {
		fmt.Fprintf(&b, " %d", idx)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Matches: %d (inlier ratio %.1f%%)\n", r.Matches, 100*r.InlierRatio)
	fmt.Fprintf(&b, "Residual metric: %s\n", r.Metric)
	if r.InlierCount > 0 {
		fmt.Fprintf(&b, "Inlier residual: mean %s, max %s\n",
			num(float64(r.MeanInlierResidual), precision), num(float64(r.MaxInlierResidual), precision))
	}
	if info := r.RANSAC; info != nil {
		fmt.Fprintf(&b, "Best iteration: %d of %d (%d degenerate samples skipped)\n",
			info.BestIteration, info.Iterations, info.Skipped)
		fmt.Fprintf(&b, "Seed: %d, workers: %d", info.Seed, info.Workers)
		if info.Refined {
			b.WriteString(", refined on inliers")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Elapsed: %.3f ms\n", r.ElapsedMs)
	for _, t := range r.Timings {
		fmt.Fprintf(&b, "  %s: %.3f ms\n", t.Stage, t.Ms)
	}

	if len(r.Rows) > 0 {
		b.WriteString("\nCorrespondences:\n")
		for _, row := range r.Rows {
			mark := " "
			if row.Inlier {
				mark = "*"
			}
			fmt.Fprintf(&b, "%s %3d  (%s, %s) -> (%s, %s)  residual %s\n",
				mark, row.Index,
				num(row.X1, precision), num(row.Y1, precision),
				num(row.X2, precision), num(row.Y2, precision),
				num(float64(row.Residual), precision))
		}
	}
	return b.String()
}

// formatMatrix prints f one row per line with right-aligned columns.
func formatMatrix(f [3][3]float64, precision int) string {
	var cells [3][3]string
	width := 0
	for i := range 3 {
		for j := range 3 {
			cells[i][j] = num(f[i][j], precision)
			width = max(width, len(cells[i][j]))
		}
	}

	var b strings.Builder
	for i := range 3 {
		fmt.Fprintf(&b, "%*s %*s %*s\n", width, cells[i][0], width, cells[i][1], width, cells[i][2])
	}
	return b.String()
}

func num(v float64, precision int) string {
	if precision <= 0 {
		precision = -1
	}
	return strconv.FormatFloat(v, 'g', precision, 64)
}
