package types

type DaemonOpts struct {
	BindAddress string
	BindPort    int

	// UpstreamURI is the connection string of the PostgreSQL-compatible
	// server that actually executes queries.
	UpstreamURI  string
	DatabaseName string

	// Optional reporting endpoint. When APIURL is empty, query activity
	// and schema reporting are disabled.
	APIURL      string
	Token       string
	Environment string
}
