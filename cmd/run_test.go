package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadify-flow/internal/export"
	"github.com/sells-group/leadify-flow/internal/model"
)

func TestLoadInput_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
event:
  name: AI Conf
  location: Boston
  expectedAttendance: 500
  topics: [AI, ML]
audience:
  primaryDemographic: Engineers
  experienceLevel: advanced
goals:
  needSponsors: true
`), 0o644))

	input, err := loadInput(path)
	require.NoError(t, err)
	assert.Equal(t, "AI Conf", input.Event.Name)
	assert.Equal(t, 500, input.Event.ExpectedAttendance)
	assert.Equal(t, []string{"AI", "ML"}, input.Event.Topics)
	assert.Equal(t, model.ExperienceAdvanced, input.Audience.ExperienceLevel)
	assert.True(t, input.Goals.NeedSponsors)
	assert.False(t, input.Goals.NeedSpeakers)
}

func TestLoadInput_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"event":{"name":"DevDays","topics":["Go"]}}`), 0o644))

	input, err := loadInput(path)
	require.NoError(t, err)
	assert.Equal(t, "DevDays", input.Event.Name)
	assert.Equal(t, []string{"Go"}, input.Event.Topics)
}

func TestLoadInput_EmptyAndMissing(t *testing.T) {
	input, err := loadInput("")
	require.NoError(t, err)
	assert.Equal(t, model.Input{}, input)

	_, err = loadInput(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read input")
}

func TestApplyInputFlags(t *testing.T) {
	input := model.Input{Event: model.EventData{Name: "From file"}}

	applyInputFlags(&input, "  ", "", "")
	assert.Equal(t, "From file", input.Event.Name)
	assert.False(t, input.Goals.NeedSpeakers)

	applyInputFlags(&input, "AI Conf", "CTOs", "we need sponsors")
	assert.Equal(t, "AI Conf", input.Event.Name)
	assert.Equal(t, "CTOs", input.Audience.PrimaryDemographic)
	assert.True(t, input.Goals.NeedSponsors)
	assert.False(t, input.Goals.NeedSpeakers)
}

func sampleResult() *model.RunResult {
	return &model.RunResult{
		RunID: "run-1",
		Leads: model.Leads{
			Speakers: []model.Lead{{Name: "Jane Doe", Title: "CTO", RelevancyScore: 80}},
			Sponsors: []model.Lead{{Name: "Acme", Company: "Acme Corp", RelevancyScore: 60}},
		},
	}
}

func TestWriteResult_Stdout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, "", export.FormatJSON, sampleResult()))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "run-1", doc["run_id"])
}

func TestWriteResult_File(t *testing.T) {
	out := filepath.Join(t.TempDir(), "leads.csv")
	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, out, export.FormatCSV, sampleResult()))
	assert.Zero(t, buf.Len())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Jane Doe")
	assert.Contains(t, string(data), "Acme Corp")
}

func TestWriteResult_BadPath(t *testing.T) {
	err := writeResult(&bytes.Buffer{}, filepath.Join(t.TempDir(), "no", "such", "dir.csv"), export.FormatCSV, sampleResult())
	require.Error(t, err)
}

func TestRunPipeline_BackendDownUsesFallback(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	env, err := initPipeline(context.Background(), testConfig(t, down.URL), "run")
	require.NoError(t, err)
	defer env.Close()

	result, err := env.Pipeline.Run(context.Background(), model.Input{Event: model.EventData{Name: "AI Conf"}})
	require.NoError(t, err)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, len(env.Fallback.Dataset().Ranked), result.Leads.Len())

	run, err := env.Store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
}
