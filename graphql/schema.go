// Package graphql assembles the GraphQL schema of the CVE mirror.
package graphql

import (
	"github.com/graphql-go/graphql"
	"github.com/ortelius/cve-mirror/database"
	"github.com/ortelius/cve-mirror/graphql/modules/vulnerabilities"
)

// CreateSchema builds the root query over reader and the sync status source
func CreateSchema(reader database.Reader, status vulnerabilities.StatusSource) (graphql.Schema, error) {
	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name:   "RootQuery",
		Fields: vulnerabilities.GetQueryFields(reader, status),
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: rootQuery,
	})
}
