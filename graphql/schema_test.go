package graphql

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/cve-mirror/database"
	"github.com/ortelius/cve-mirror/internal/collector"
	"github.com/ortelius/cve-mirror/internal/services"
	"github.com/ortelius/cve-mirror/model"
	"github.com/ortelius/cve-mirror/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusStub struct{ st services.Status }

func (s statusStub) Status() services.Status { return s.st }

func execute(t *testing.T, schema graphql.Schema, query string) map[string]interface{} {
	t.Helper()
	result := graphql.Do(graphql.Params{Schema: schema, RequestString: query, Context: context.Background()})
	require.Empty(t, result.Errors)

	raw, err := json.Marshal(result.Data)
	require.NoError(t, err)
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &data))
	return data
}

func TestSchemaQueries(t *testing.T) {
	v3 := 9.8
	store := database.NewMemoryStore()
	_, err := store.UpsertCVEs(context.Background(), []model.CVE{{
		Key:          "CVE-2024-0001",
		CveID:        "CVE-2024-0001",
		LastModified: time.Now().UTC().Format(util.MirrorTimeLayout),
		CVE:          json.RawMessage(`{"id":"CVE-2024-0001"}`),
		CVSS:         model.CVSSSummary{V3BaseScore: &v3, BaseScore: v3, SeverityRating: "CRITICAL"},
		ObjType:      "CVE",
	}})
	require.NoError(t, err)

	status := statusStub{services.Status{LastRun: &collector.RunResult{RunID: "r1", Written: 1, StopReason: collector.StopExhausted}}}
	schema, err := CreateSchema(store, status)
	require.NoError(t, err)

	data := execute(t, schema, `{ cve(id: "CVE-2024-0001") { cve_id cve cvss { v2_base_score v3_base_score severity_rating } } }`)
	cve := data["cve"].(map[string]interface{})
	assert.Equal(t, "CVE-2024-0001", cve["cve_id"])
	assert.JSONEq(t, `{"id":"CVE-2024-0001"}`, cve["cve"].(string))
	cvss := cve["cvss"].(map[string]interface{})
	assert.Nil(t, cvss["v2_base_score"])
	assert.Equal(t, 9.8, cvss["v3_base_score"])
	assert.Equal(t, "CRITICAL", cvss["severity_rating"])

	data = execute(t, schema, `{ cve(id: "CVE-1999-0001") { cve_id } }`)
	assert.Nil(t, data["cve"])

	data = execute(t, schema, `{ cvesByScore(minScore: 10, maxScore: 9) { cve_id } }`)
	assert.Len(t, data["cvesByScore"], 1)

	data = execute(t, schema, `{ cvesByScore(minScore: 0, maxScore: 5) { cve_id } }`)
	assert.Len(t, data["cvesByScore"], 0)

	data = execute(t, schema, `{ cvesModifiedSince(days: 0) { cve_id } }`)
	assert.Len(t, data["cvesModifiedSince"], 1)

	data = execute(t, schema, `{ syncStatus { running last_run { run_id written stop_reason } } }`)
	st := data["syncStatus"].(map[string]interface{})
	assert.Equal(t, false, st["running"])
	run := st["last_run"].(map[string]interface{})
	assert.Equal(t, "r1", run["run_id"])
	assert.Equal(t, float64(1), run["written"])
	assert.Equal(t, "exhausted", run["stop_reason"])
}
