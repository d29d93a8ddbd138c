package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"linkhub/internal/models"
)

const (
	SheetDaily   = "Daily"
	SheetDevices = "Devices"
	SheetRegions = "Regions"
	SheetHours   = "Hours"
)

// Title turns a snake_case column into a sheet heading.
func Title(column string) string {
	return cases.Title(language.AmericanEnglish).String(strings.ReplaceAll(column, "_", " "))
}

// XLSX renders a workbook with the daily table and the device, region and hour breakdowns.
func XLSX(d Dataset) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	xl.SetSheetName(xl.GetSheetName(0), SheetDaily)

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = Title(c)
	}
	if err := xl.SetSheetRow(SheetDaily, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write xlsx header: %w", err)
	}
	for i, p := range d.Daily {
		values := []interface{}{
			p.Date, p.PageViews, p.Visitors, p.Calls, p.Emails, p.Whatsapp,
			p.WebsiteClicks, p.TotalTimeOnPage, p.AvgTimeOnPage, p.ScrollDepthAvg,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := xl.SetSheetRow(SheetDaily, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write xlsx row %s: %w", p.Date, err)
		}
	}

	breakdowns := []struct {
		sheet string
		label string
		data  models.Breakdown
	}{
		{SheetDevices, "Device", d.Totals.DeviceBreakdown},
		{SheetRegions, "Region", d.Totals.RegionBreakdown},
		{SheetHours, "Hour", d.Totals.TopHours},
	}
	for _, b := range breakdowns {
		if err := writeBreakdown(xl, b.sheet, b.label, b.data); err != nil {
			return nil, err
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBreakdown(xl *excelize.File, sheet, label string, data models.Breakdown) error {
	if _, err := xl.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}
	header := []interface{}{label, "Count"}
	if err := xl.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, entry := range data.Sorted() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{entry.Label, entry.Count}
		if err := xl.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}
