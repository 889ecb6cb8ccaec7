package export

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadify-flow/internal/model"
)

// WriteCSV writes one row per lead, speakers first. The header is written
// even when there are no leads.
func WriteCSV(w io.Writer, leads model.Leads) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	rs := rows(leads)
	if len(rs) == 0 {
		if err := enc.EncodeHeader(row{}); err != nil {
			return eris.Wrap(err, "export: csv header")
		}
	} else if err := enc.Encode(rs); err != nil {
		return eris.Wrap(err, "export: encode csv")
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}
