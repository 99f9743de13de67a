package web

import "embed"

// FS holds the instrument console page served at "/".
//
//go:embed *.html *.css *.js
var FS embed.FS
