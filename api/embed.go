// Package api embeds the OpenAPI contract served under /api.
package api

import _ "embed"

//go:embed openapi.yaml
var Spec []byte
