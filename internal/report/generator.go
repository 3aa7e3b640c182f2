// Package report renders batch findings back into a spreadsheet shaped like the upload.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/schema"
	"github.com/rpattn/fleetload/internal/workbook"
)

// ErrNothingToReport is returned when a batch has no findings.
var ErrNothingToReport = errors.New("batch has no findings to report")

const (
	summarySheet = "Summary"

	colorBlocking = "FFC7CE"
	colorAdvisory = "FFEB9C"
	colorHeader   = "D9E1F2"

	statusRejected = "Rejected"
	statusWarning  = "Warning"
)

type styles struct {
	header   int
	blocking int
	advisory int
	wrap     int
}

// Generator renders error reports. It holds no state; one value may be shared.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

type rowFindings struct {
	number   int
	findings []domain.Finding
}

// Render writes one sheet per source sheet with flagged rows plus a summary sheet.
// wb may be nil when the original upload is unavailable; rows are then emitted
// without their original values.
func (g *Generator) Render(desc schema.Descriptor, wb *workbook.Workbook, findings []domain.Finding) ([]byte, error) {
	if len(findings) == 0 {
		return nil, ErrNothingToReport
	}

	f := excelize.NewFile()
	defer f.Close()

	st, err := newStyles(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create report styles: %w", err)
	}
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to name summary sheet: %w", err)
	}

	grouped := groupBySheet(desc, findings)
	for _, name := range sheetOrder(desc, grouped) {
		if err := writeSheet(f, st, name, headersFor(desc, wb, name), wb, grouped[name]); err != nil {
			return nil, err
		}
	}
	if err := writeSummary(f, st, desc, grouped, findings); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return buf.Bytes(), nil
}

func newStyles(f *excelize.File) (styles, error) {
	var st styles
	var err error
	if st.header, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{colorHeader}, Pattern: 1},
	}); err != nil {
		return st, err
	}
	if st.blocking, err = f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{colorBlocking}, Pattern: 1},
	}); err != nil {
		return st, err
	}
	if st.advisory, err = f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{colorAdvisory}, Pattern: 1},
	}); err != nil {
		return st, err
	}
	if st.wrap, err = f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	}); err != nil {
		return st, err
	}
	return st, nil
}

// groupBySheet sorts findings into rows, ordered by row number and then by severity.
func groupBySheet(desc schema.Descriptor, findings []domain.Finding) map[string][]rowFindings {
	sorted := append([]domain.Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Sheet != b.Sheet {
			return sheetIndex(desc, a.Sheet) < sheetIndex(desc, b.Sheet)
		}
		if a.RowNumber != b.RowNumber {
			return a.RowNumber < b.RowNumber
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Message < b.Message
	})

	grouped := make(map[string][]rowFindings)
	for _, finding := range sorted {
		rows := grouped[finding.Sheet]
		if n := len(rows); n > 0 && rows[n-1].number == finding.RowNumber {
			rows[n-1].findings = append(rows[n-1].findings, finding)
		} else {
			rows = append(rows, rowFindings{number: finding.RowNumber, findings: []domain.Finding{finding}})
		}
		grouped[finding.Sheet] = rows
	}
	return grouped
}

func sheetIndex(desc schema.Descriptor, name string) int {
	for i, sheet := range desc.Sheets {
		if sheet.Name == name {
			return i
		}
	}
	return len(desc.Sheets)
}

func sheetOrder(desc schema.Descriptor, grouped map[string][]rowFindings) []string {
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ii, jj := sheetIndex(desc, names[i]), sheetIndex(desc, names[j])
		if ii != jj {
			return ii < jj
		}
		return names[i] < names[j]
	})
	return names
}

func headersFor(desc schema.Descriptor, wb *workbook.Workbook, name string) []string {
	if sheet, ok := desc.Sheet(name); ok {
		return sheet.Headers()
	}
	if wb != nil {
		if parsed := wb.Sheet(name); parsed != nil {
			return parsed.Headers
		}
	}
	return nil
}

func writeSheet(f *excelize.File, st styles, name string, headers []string, wb *workbook.Workbook, rows []rowFindings) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("failed to add sheet %s: %w", name, err)
	}

	header := make([]any, 0, len(headers)+3)
	header = append(header, "Row")
	for _, h := range headers {
		header = append(header, h)
	}
	header = append(header, "Status", "Errors")
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header on %s: %w", name, err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetCellStyle(name, "A1", lastCol+"1", st.header); err != nil {
		return err
	}

	columnIndex := make(map[string]int, len(headers))
	for i, h := range headers {
		columnIndex[strings.ToLower(h)] = i + 2
	}

	var source *workbook.Sheet
	if wb != nil {
		source = wb.Sheet(name)
	}

	for i, row := range rows {
		line := i + 2
		values := make([]any, 0, len(header))
		values = append(values, row.number)
		original := lookupRow(source, row.number)
		for _, h := range headers {
			if original == nil {
				values = append(values, "")
				continue
			}
			values = append(values, workbook.Display(original.Cell(h)))
		}
		values = append(values, rowStatus(row.findings), errorText(row.findings))

		cell, _ := excelize.CoordinatesToCellName(1, line)
		if err := f.SetSheetRow(name, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d on %s: %w", row.number, name, err)
		}
		errorsCell, _ := excelize.CoordinatesToCellName(len(header), line)
		if err := f.SetCellStyle(name, errorsCell, errorsCell, st.wrap); err != nil {
			return err
		}
		if err := flagCells(f, st, name, line, columnIndex, row.findings); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(name, "A", "A", 6); err != nil {
		return err
	}
	if len(headers) > 0 {
		first, _ := excelize.ColumnNumberToName(2)
		last, _ := excelize.ColumnNumberToName(len(headers) + 1)
		if err := f.SetColWidth(name, first, last, 20); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(name, lastCol, lastCol, 60); err != nil {
		return err
	}
	return f.SetPanes(name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// flagCells colours each offending cell by the worst severity reported for it.
func flagCells(f *excelize.File, st styles, sheet string, line int, columnIndex map[string]int, findings []domain.Finding) error {
	worst := make(map[int]domain.Severity)
	for _, finding := range findings {
		col, ok := columnIndex[strings.ToLower(finding.Field)]
		if !ok {
			continue
		}
		if current, seen := worst[col]; !seen || finding.Severity.Rank() < current.Rank() {
			worst[col] = finding.Severity
		}
	}
	for col, severity := range worst {
		cell, _ := excelize.CoordinatesToCellName(col, line)
		style := st.advisory
		if severity.Blocking() {
			style = st.blocking
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

func lookupRow(sheet *workbook.Sheet, number int) *workbook.Row {
	if sheet == nil {
		return nil
	}
	for i := range sheet.Rows {
		if sheet.Rows[i].Number == number {
			return &sheet.Rows[i]
		}
	}
	return nil
}

func rowStatus(findings []domain.Finding) string {
	if domain.HasBlocking(findings) {
		return statusRejected
	}
	return statusWarning
}

func errorText(findings []domain.Finding) string {
	lines := make([]string, 0, len(findings))
	for _, finding := range findings {
		line := fmt.Sprintf("[%s] %s", finding.Severity, finding.Message)
		if finding.Expected != nil && *finding.Expected != "" {
			line += fmt.Sprintf(" (expected: %s)", *finding.Expected)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func writeSummary(f *excelize.File, st styles, desc schema.Descriptor, grouped map[string][]rowFindings, findings []domain.Finding) error {
	counts := make(map[domain.Severity]int)
	for _, finding := range findings {
		counts[finding.Severity]++
	}

	rows := [][]any{
		{"Entity type", desc.Label},
		{"Findings", len(findings)},
		{},
		{"Severity", "Count"},
	}
	for _, severity := range []domain.Severity{domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow} {
		rows = append(rows, []any{string(severity), counts[severity]})
	}
	rows = append(rows, []any{}, []any{"Sheet", "Flagged rows"})
	headerLines := []int{4, len(rows)}
	for _, name := range sheetOrder(desc, grouped) {
		rows = append(rows, []any{name, len(grouped[name])})
	}
	rows = append(rows, []any{}, []any{"Rows marked Rejected were not created. Fix the highlighted cells and upload only those rows again."})

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	for _, line := range headerLines {
		start, _ := excelize.CoordinatesToCellName(1, line)
		end, _ := excelize.CoordinatesToCellName(2, line)
		if err := f.SetCellStyle(summarySheet, start, end, st.header); err != nil {
			return err
		}
	}
	return f.SetColWidth(summarySheet, "A", "B", 24)
}
