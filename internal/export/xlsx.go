package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadify-flow/internal/model"
)

// Sheet names in the XLSX export.
const (
	SheetSpeakers = "Speakers"
	SheetSponsors = "Sponsors"
)

// WriteXLSX writes a workbook with one sheet per category.
func WriteXLSX(w io.Writer, leads model.Leads) error {
	f := xlsx.NewFile()

	sheets := []struct {
		name     string
		category model.Category
		leads    []model.Lead
	}{
		{SheetSpeakers, model.CategorySpeaker, leads.Speakers},
		{SheetSponsors, model.CategorySponsor, leads.Sponsors},
	}

	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %s", s.name)
		}

		header := sheet.AddRow()
		for _, h := range rowHeader {
			header.AddCell().SetString(h)
		}

		for _, l := range s.leads {
			r := toRow(l, s.category)
			xr := sheet.AddRow()
			for i, v := range r.values() {
				cell := xr.AddCell()
				if i == scoreColumn {
					cell.SetInt(r.RelevancyScore)
					continue
				}
				cell.SetString(v)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

// scoreColumn is the index of "Relevancy Score" in rowHeader.
const scoreColumn = 4
