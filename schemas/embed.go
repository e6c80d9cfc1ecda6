// Package schemas ships the JSON Schemas for every persisted artifact.
package schemas

import _ "embed"

//go:embed v1/eco/manifest.schema.json
var ECOManifestV1 []byte
