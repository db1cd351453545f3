// Package model - Document shapes stored in the CVE mirror
package model

import "encoding/json"

// Record is one upstream vulnerability entry as seen by the collector.
// Body is the raw "cve" object from the feed and is stored untouched.
type Record struct {
	ID           string
	LastModified string
	Body         json.RawMessage
}

// CVSSSummary holds the numeric scores pulled out of a CVE body so the
// read API can run indexed range queries against them.
type CVSSSummary struct {
	V2BaseScore    *float64 `json:"v2_base_score"`
	V3BaseScore    *float64 `json:"v3_base_score"`
	V4BaseScore    *float64 `json:"v4_base_score"`
	BaseScore      float64  `json:"base_score"`
	SeverityRating string   `json:"severity_rating"`
}

// CVE is the mirrored document, one per identifier.
type CVE struct {
	Key          string          `json:"_key,omitempty"`
	CveID        string          `json:"cve_id"`        // e.g., "CVE-2024-0001"
	LastModified string          `json:"last_modified"` // e.g., "2024-02-01T00:00:00.000"
	CVE          json.RawMessage `json:"cve"`
	CVSS         CVSSSummary     `json:"cvss"`
	ObjType      string          `json:"objtype"` // "CVE"
}
