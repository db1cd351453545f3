// Package model - NVD CVE API 2.0 response shapes
package model

import "encoding/json"

// Page is a single response from the NVD CVE API.
// Vulnerabilities is nil when the response carried no "vulnerabilities" array.
type Page struct {
	ResultsPerPage  int             `json:"resultsPerPage"`
	StartIndex      int             `json:"startIndex"`
	TotalResults    int             `json:"totalResults"`
	Format          string          `json:"format"`
	Version         string          `json:"version"`
	Timestamp       string          `json:"timestamp"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

// Vulnerability wraps the raw "cve" object of a feed item.
type Vulnerability struct {
	CVE json.RawMessage `json:"cve"`
}

// CVEHeader is the part of a CVE body the collector needs to key and version it.
type CVEHeader struct {
	ID           string `json:"id"`
	LastModified string `json:"lastModified"`
}

// Records converts the page items into records, dropping items without an id.
// The second return value is the number of items dropped.
func (p *Page) Records() ([]Record, int) {
	records := make([]Record, 0, len(p.Vulnerabilities))
	dropped := 0

	for _, item := range p.Vulnerabilities {
		var hdr CVEHeader
		if len(item.CVE) == 0 || json.Unmarshal(item.CVE, &hdr) != nil || hdr.ID == "" {
			dropped++
			continue
		}
		records = append(records, Record{
			ID:           hdr.ID,
			LastModified: hdr.LastModified,
			Body:         item.CVE,
		})
	}

	return records, dropped
}
