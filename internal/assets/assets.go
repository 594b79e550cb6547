package assets

import _ "embed"

// Mock access-log batch served by /logs and the static log source.
// Compiled into the binary at build time.
//
//go:embed mock_logs.json
var MockLogsJSON []byte
