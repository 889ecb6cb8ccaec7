package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadify-flow/internal/model"
)

func sampleResult() *model.RunResult {
	return &model.RunResult{
		RunID: "run-1",
		Leads: model.Leads{
			Speakers: []model.Lead{{
				Name:           "Jane Doe",
				Title:          "CTO",
				RelevancyScore: 80,
				LinkedInURL:    "https://linkedin.com/in/jane",
				Expertise:      []string{"AI", "ML"},
				DraftMessage:   "Great fit",
			}},
			Sponsors: []model.Lead{{
				Name:           "Acme Corp",
				Company:        "Acme",
				RelevancyScore: 65,
				Tags:           []string{"sponsor"},
			}},
		},
		UsedFallback: true,
		Notices:      []string{"profile_ranking used sample data (no_ranked)"},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"csv", FormatCSV},
		{"CSV", FormatCSV},
		{"xlsx", FormatXLSX},
		{"Excel", FormatXLSX},
		{" json ", FormatJSON},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseFormat("pdf")
	assert.ErrorContains(t, err, `unknown format "pdf"`)
}

func TestFormat_FilenameAndContentType(t *testing.T) {
	assert.Equal(t, "leadify-run-1.csv", FormatCSV.Filename("run-1"))
	assert.Equal(t, "leadify-leads.xlsx", FormatXLSX.Filename(""))
	assert.Equal(t, "text/csv", FormatCSV.ContentType())
	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Contains(t, FormatXLSX.ContentType(), "spreadsheetml")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleResult()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{
		"category", "name", "title", "company", "relevancy_score", "linkedin_url",
		"expertise", "tags", "explanation", "draft_message", "location",
	}, records[0])
	assert.Equal(t, "speaker", records[1][0])
	assert.Equal(t, "Jane Doe", records[1][1])
	assert.Equal(t, "80", records[1][4])
	assert.Equal(t, "AI; ML", records[1][6])
	assert.Equal(t, "Great fit", records[1][9])
	assert.Equal(t, "sponsor", records[2][0])
	assert.Equal(t, "Acme", records[2][3])
}

func TestWriteCSV_EmptyWritesHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, model.EmptyLeads()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "category", records[0][0])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleResult()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	speakers := f.Sheet[SheetSpeakers]
	require.NotNil(t, speakers)
	require.Len(t, speakers.Rows, 2)
	assert.Equal(t, "Name", speakers.Rows[0].Cells[1].String())
	assert.Equal(t, "Jane Doe", speakers.Rows[1].Cells[1].String())
	assert.Equal(t, "80", speakers.Rows[1].Cells[scoreColumn].String())

	sponsors := f.Sheet[SheetSponsors]
	require.NotNil(t, sponsors)
	require.Len(t, sponsors.Rows, 2)
	assert.Equal(t, "sponsor", sponsors.Rows[1].Cells[0].String())
}

func TestScoreColumnMatchesHeader(t *testing.T) {
	assert.Equal(t, "Relevancy Score", rowHeader[scoreColumn])
	assert.Len(t, row{}.values(), len(rowHeader))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleResult()))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "run-1", doc["run_id"])
	assert.Equal(t, true, doc["used_fallback"])
	leads := doc["leads"].(map[string]any)
	assert.Len(t, leads["speakers"], 1)
	assert.Len(t, leads["sponsors"], 1)
}

func TestWrite_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorContains(t, Write(&buf, FormatCSV, nil), "no result")
	assert.ErrorContains(t, Write(&buf, Format("pdf"), sampleResult()), "unknown format")
}
