// Package vulnerabilities defines the GraphQL types and queries over mirrored CVEs.
package vulnerabilities

import (
	"github.com/graphql-go/graphql"
)

// CVSSType summarizes the base scores of a CVE
var CVSSType = graphql.NewObject(graphql.ObjectConfig{
	Name: "CVSS",
	Fields: graphql.Fields{
		"v2_base_score":   &graphql.Field{Type: graphql.Float},
		"v3_base_score":   &graphql.Field{Type: graphql.Float},
		"v4_base_score":   &graphql.Field{Type: graphql.Float},
		"base_score":      &graphql.Field{Type: graphql.Float},
		"severity_rating": &graphql.Field{Type: graphql.String},
	},
})

// CVEType is one mirrored CVE document. The upstream record is returned as a JSON string.
var CVEType = graphql.NewObject(graphql.ObjectConfig{
	Name: "CVE",
	Fields: graphql.Fields{
		"cve_id":        &graphql.Field{Type: graphql.String},
		"last_modified": &graphql.Field{Type: graphql.String},
		"objtype":       &graphql.Field{Type: graphql.String},
		"cvss":          &graphql.Field{Type: CVSSType},
		"cve":           &graphql.Field{Type: graphql.String},
	},
})

// SyncRunType summarizes one collection run
var SyncRunType = graphql.NewObject(graphql.ObjectConfig{
	Name: "SyncRun",
	Fields: graphql.Fields{
		"run_id":             &graphql.Field{Type: graphql.String},
		"mode":               &graphql.Field{Type: graphql.String},
		"started_at":         &graphql.Field{Type: graphql.String},
		"finished_at":        &graphql.Field{Type: graphql.String},
		"pages":              &graphql.Field{Type: graphql.Int},
		"fetched":            &graphql.Field{Type: graphql.Int},
		"written":            &graphql.Field{Type: graphql.Int},
		"persist_errors":     &graphql.Field{Type: graphql.Int},
		"stop_reason":        &graphql.Field{Type: graphql.String},
		"watermark_advanced": &graphql.Field{Type: graphql.Boolean},
	},
})

// SyncStatusType reports the sync service state
var SyncStatusType = graphql.NewObject(graphql.ObjectConfig{
	Name: "SyncStatus",
	Fields: graphql.Fields{
		"running":  &graphql.Field{Type: graphql.Boolean},
		"mode":     &graphql.Field{Type: graphql.String},
		"last_run": &graphql.Field{Type: SyncRunType},
	},
})
