package vulnerabilities

import (
	"time"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/cve-mirror/database"
	"github.com/ortelius/cve-mirror/internal/services"
	"github.com/ortelius/cve-mirror/model"
	"github.com/ortelius/cve-mirror/util"
)

// StatusSource reports the sync service state
type StatusSource interface {
	Status() services.Status
}

// GetQueryFields returns the CVE queries to be mounted in the root schema.
// status may be nil, in which case syncStatus resolves to null.
func GetQueryFields(reader database.Reader, status StatusSource) graphql.Fields {
	return graphql.Fields{
		"cve": &graphql.Field{
			Type: CVEType,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				doc, err := reader.FindCVE(p.Context, p.Args["id"].(string))
				if err != nil || doc == nil {
					return nil, err
				}
				return cveToMap(*doc), nil
			},
		},
		"cvesByScore": &graphql.Field{
			Type: graphql.NewList(CVEType),
			Args: graphql.FieldConfigArgument{
				"minScore": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: util.MinScore},
				"maxScore": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: util.MaxScore},
				"limit":    &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: util.DefaultQueryLimit},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				minScore, maxScore := util.ScoreRange(floatArg(p, "minScore"), floatArg(p, "maxScore"))
				docs, err := reader.FindCVEsByScore(p.Context, minScore, maxScore, util.ClampLimit(intArg(p, "limit")))
				if err != nil {
					return nil, err
				}
				return cvesToMaps(docs), nil
			},
		},
		"cvesModifiedSince": &graphql.Field{
			Type: graphql.NewList(CVEType),
			Args: graphql.FieldConfigArgument{
				"days":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: util.DefaultModifiedDays},
				"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: util.DefaultQueryLimit},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				since := util.ModifiedSinceThreshold(time.Now(), util.ClampDays(intArg(p, "days")))
				docs, err := reader.FindCVEsModifiedSince(p.Context, since, util.ClampLimit(intArg(p, "limit")))
				if err != nil {
					return nil, err
				}
				return cvesToMaps(docs), nil
			},
		},
		"syncStatus": &graphql.Field{
			Type: SyncStatusType,
			Resolve: func(_ graphql.ResolveParams) (interface{}, error) {
				if status == nil {
					return nil, nil
				}
				st := status.Status()
				result := map[string]interface{}{
					"running": st.Running,
					"mode":    st.Mode,
				}
				if st.LastRun != nil {
					run := st.LastRun
					result["last_run"] = map[string]interface{}{
						"run_id":             run.RunID,
						"mode":               run.Mode,
						"started_at":         run.StartedAt.Format(time.RFC3339),
						"finished_at":        run.FinishedAt.Format(time.RFC3339),
						"pages":              run.Pages,
						"fetched":            run.Fetched,
						"written":            run.Written,
						"persist_errors":     run.PersistErrors,
						"stop_reason":        string(run.StopReason),
						"watermark_advanced": run.WatermarkAdvanced,
					}
				}
				return result, nil
			},
		},
	}
}

func floatArg(p graphql.ResolveParams, name string) float64 {
	switch v := p.Args[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func intArg(p graphql.ResolveParams, name string) int {
	if v, ok := p.Args[name].(int); ok {
		return v
	}
	return 0
}

func cvesToMaps(docs []model.CVE) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		out = append(out, cveToMap(doc))
	}
	return out
}

func cveToMap(doc model.CVE) map[string]interface{} {
	return map[string]interface{}{
		"cve_id":        doc.CveID,
		"last_modified": doc.LastModified,
		"objtype":       doc.ObjType,
		"cve":           string(doc.CVE),
		"cvss": map[string]interface{}{
			"v2_base_score":   floatOrNil(doc.CVSS.V2BaseScore),
			"v3_base_score":   floatOrNil(doc.CVSS.V3BaseScore),
			"v4_base_score":   floatOrNil(doc.CVSS.V4BaseScore),
			"base_score":      doc.CVSS.BaseScore,
			"severity_rating": doc.CVSS.SeverityRating,
		},
	}
}

func floatOrNil(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
