package config

import (
	"os"
	"path/filepath"

	"sheetgraph/internal/descriptor"
)

// DataSource origins, highest precedence first.
const (
	SourceUploaded = "uploaded"
	SourceEnv      = "env"
	SourceDefault  = "default"
)

// DataSource is the dataset location chosen once at process start.
type DataSource struct {
	Origin string `json:"origin"`
	Path   string `json:"path"`
}

// ResolveDataSource picks the dataset to serve: the upload directory when a
// conversion has been published there, else DataPath (SHEETGRAPH_DATA_PATH)
// when set, else the default directory. The result is meant to be computed
// once per process and passed down; a later upload does not change it.
func ResolveDataSource(p DataPaths) DataSource {
	if p.UploadDir != "" && hasDescriptor(p.UploadDir) {
		return DataSource{Origin: SourceUploaded, Path: p.UploadDir}
	}
	if p.DataPath != "" {
		return DataSource{Origin: SourceEnv, Path: p.DataPath}
	}
	return DataSource{Origin: SourceDefault, Path: p.DefaultDir}
}

func hasDescriptor(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, descriptor.FileName))
	return err == nil
}
