package catalog

import (
	"path/filepath"
	"regexp"
	"strings"
)

var bandSuffix = regexp.MustCompile(`(?i)_(B[0-9]{1,2}A?|NDVI|RED|NIR|QA|BQA|SCL)$`)

// SceneIdentity strips directory, extension and the sensor band suffix
// from a product file name. Two files with the same identity come from
// the same acquisition.
func SceneIdentity(fileName string) string {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return bandSuffix.ReplaceAllString(base, "")
}
