package resources

import "embed"

//go:embed migrations keywords.yml
var FS embed.FS
