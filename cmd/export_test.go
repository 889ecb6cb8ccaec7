package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadify-flow/internal/config"
	"github.com/sells-group/leadify-flow/internal/export"
)

func TestInitSinks_None(t *testing.T) {
	sinks, err := initSinks(&config.Config{}, false, false)
	require.NoError(t, err)
	assert.Empty(t, sinks)
}

func TestInitSinks_Notion(t *testing.T) {
	_, err := initSinks(&config.Config{}, true, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEADIFY_NOTION_TOKEN")

	c := &config.Config{Notion: config.NotionConfig{Token: "secret", LeadDB: "db-1"}}
	sinks, err := initSinks(c, true, false)
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.Equal(t, "notion", sinks[0].Name())
}

func TestInitSinks_SalesforceErrors(t *testing.T) {
	_, err := initSinks(&config.Config{}, false, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client ID is required")

	c := &config.Config{Salesforce: config.SalesforceConfig{
		ClientID: "client",
		KeyPath:  filepath.Join(t.TempDir(), "missing.pem"),
	}}
	_, err = initSinks(c, false, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read salesforce JWT private key")
}

func TestFormatReports(t *testing.T) {
	var buf bytes.Buffer
	formatReports(&buf, []export.Report{
		{Sink: "notion", Created: 3, Updated: 2},
		{Sink: "salesforce", Skipped: 1, Failed: 4, Error: "boom"},
	})

	output := buf.String()
	assert.Contains(t, output, "SINK")
	assert.Contains(t, output, "notion")
	assert.Contains(t, output, "salesforce")
	assert.Contains(t, output, "boom")
}
