package reporting

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	alertsSheet  = "Alerts"
	summarySheet = "Summary"
	timeLayout   = "2006-01-02 15:04:05"
)

var alertExportHeader = []string{
	"Alert ID", "Raised At (UTC)", "Patient", "Phone", "Emergency Type", "Severity",
	"Default Severity", "Status", "Address", "Latitude", "Longitude",
	"Responding Hospitals", "Ambulance", "ETA (min)", "Last Update (UTC)",
}

var alertColumnWidths = []float64{38, 20, 22, 16, 16, 10, 10, 12, 40, 11, 11, 12, 10, 10, 20}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func (a AlertRow) cells() []interface{} {
	var eta interface{} = ""
	if a.ETAMinutes != nil {
		eta = *a.ETAMinutes
	}
	return []interface{}{
		a.ID, a.CreatedAt.UTC().Format(timeLayout), a.PatientName, a.PatientPhone, a.EmergencyType,
		a.Severity, yesNo(a.SeverityDefaulted), a.Status, a.Address, a.Latitude, a.Longitude,
		a.RespondingHospitals, yesNo(a.AmbulanceDispatched), eta, a.UpdatedAt.UTC().Format(timeLayout),
	}
}

func buildAlertWorkbook(alerts []AlertRow, from, to time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", alertsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("create summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#B71C1C"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	if err := writeRow(f, alertsSheet, 1, toCells(alertExportHeader)); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(alertExportHeader), 1)
	if err := f.SetCellStyle(alertsSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}
	for i, w := range alertColumnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(alertsSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	for i, a := range alerts {
		if err := writeRow(f, alertsSheet, i+2, a.cells()); err != nil {
			return nil, err
		}
	}

	if err := f.SetPanes(alertsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	if err := writeSummary(f, alerts, from, to, headerStyle); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, alerts []AlertRow, from, to time.Time, headerStyle int) error {
	byStatus := map[string]int{}
	bySeverity := map[string]int{}
	for _, a := range alerts {
		byStatus[a.Status]++
		bySeverity[a.Severity]++
	}

	rows := [][]interface{}{
		{"From", from.UTC().Format(timeLayout)},
		{"To", to.UTC().Format(timeLayout)},
		{"Total alerts", len(alerts)},
		{},
		{"Status", "Count"},
	}
	statusHeader := len(rows)
	for _, k := range sortedKeys(byStatus) {
		rows = append(rows, []interface{}{k, byStatus[k]})
	}
	rows = append(rows, []interface{}{}, []interface{}{"Severity", "Count"})
	severityHeader := len(rows)
	for _, k := range sortedKeys(bySeverity) {
		rows = append(rows, []interface{}{k, bySeverity[k]})
	}

	for i, r := range rows {
		if err := writeRow(f, summarySheet, i+1, r); err != nil {
			return err
		}
	}
	for _, row := range []int{statusHeader, severityHeader} {
		start, _ := excelize.CoordinatesToCellName(1, row)
		end, _ := excelize.CoordinatesToCellName(2, row)
		if err := f.SetCellStyle(summarySheet, start, end, headerStyle); err != nil {
			return fmt.Errorf("style summary: %w", err)
		}
	}
	return f.SetColWidth(summarySheet, "A", "B", 20)
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func toCells(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
