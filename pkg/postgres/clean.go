package postgres

import (
	"strings"

	"github.com/DataDog/datadog-agent/pkg/obfuscate"
)

// cleanQuery strips literal values from a query before it is recorded, so
// raw data never leaves the proxy.
func cleanQuery(query string) (string, error) {
	query = strings.TrimSpace(query)

	cleanedQuery, err := obfuscate.NewObfuscator(obfuscate.Config{
		SQL: obfuscate.SQLConfig{
			KeepSQLAlias: true,
		},
	}).ObfuscateSQLString(query)
	if err != nil {
		return "", err
	}

	return cleanedQuery.Query, nil
}
