// Package results publishes qualification outcomes to the results repository.
package results

import (
	"path/filepath"
)

// RootDir is the top-level folder holding every qualification record.
const RootDir = "qualified_sdks"

// Key identifies one qualification record. Branch is used literally, so a
// master qualification lives under master even though the registry calls it main.
type Key struct {
	Namespace string
	Branch    string
	V4Version string
}

// Dir is the repository-relative folder for the key.
func (k Key) Dir() string {
	return filepath.Join(RootDir, k.Namespace, k.Branch, k.V4Version)
}

// MarkerPath is the file holding the latest qualified requirement.
func (k Key) MarkerPath() string {
	return filepath.Join(k.Dir(), "latest_qualified_sdk.txt")
}

// LogPath is the bounded log for runs that ended with status.
func (k Key) LogPath(status string) string {
	return filepath.Join(k.Dir(), "logs", status, "sdk_"+status+"_logs.txt")
}

// LockName is the publish-lock name for the key.
func (k Key) LockName() string {
	return k.Namespace + ":" + k.Branch + ":" + k.V4Version
}
