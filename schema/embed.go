package schema

import _ "embed"

// WorkloadsV1Schema contains the JSON schema for procdock configuration
// documents.
//
//go:embed workloads.v1.json
var WorkloadsV1Schema []byte
