package pending

import (
	"path"
	"path/filepath"
	"strings"
)

const (
	unknownSensor = "unknown_sensor"
	unknownTime   = "unknown_time"
)

// DatasetName joins a sensor and capture timestamp the way downstream
// datasets are named: "VIS - 2016-06-29__10-28-43-323".
func DatasetName(sensor, timestamp string) string {
	return sensor + " - " + timestamp
}

// SplitDatasetName reverses DatasetName. ok is false for names that do not
// follow the sensor/timestamp convention.
func SplitDatasetName(name string) (sensor, timestamp string, ok bool) {
	sensor, timestamp, ok = strings.Cut(name, " - ")
	if !ok {
		return name, "", false
	}
	return sensor, timestamp, true
}

// DeriveDataset infers the dataset name of a file from its path relative to
// the landing root, e.g.
//
//	LemnaTec/MovingSensor/co2Sensor/2016-08-02/2016-08-02__09-42-51-195/file.json
//	LemnaTec/EnvironmentLogger/2016-08-03/2016-08-03_04-05-34_environmentlogger.json
//
// The timestamp is the parent directory. Timestamps carrying "__" sit one
// level deeper (sensor/date/timestamp) than daily files (sensor/date).
// Explicit overrides win over inference.
func DeriveDataset(relPath, sensorOverride, timestampOverride string) string {
	parts := strings.Split("/"+strings.TrimPrefix(filepath.ToSlash(relPath), "/"), "/")

	timestamp := timestampOverride
	if timestamp == "" {
		if len(parts) > 1 {
			timestamp = parts[len(parts)-2]
		}
		if timestamp == "" {
			timestamp = unknownTime
		}
	}

	sensor := sensorOverride
	if sensor == "" {
		switch {
		case strings.Contains(timestamp, "__") && len(parts) > 3:
			sensor = parts[len(parts)-4]
		case len(parts) > 2:
			sensor = strings.ReplaceAll(parts[len(parts)-3], "EnviromentLogger", "EnvironmentLogger")
		}
		if sensor == "" {
			sensor = unknownSensor
		}
	}
	return DatasetName(sensor, timestamp)
}

// RelativeTo returns p relative to root using forward slashes. Paths outside
// root are returned without their leading slash.
func RelativeTo(root, p string) string {
	root = filepath.Clean(root)
	cleaned := filepath.Clean(p)
	if rel, err := filepath.Rel(root, cleaned); err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
		return filepath.ToSlash(rel)
	}
	return strings.TrimPrefix(filepath.ToSlash(cleaned), "/")
}

// NewRecord builds a record for a file under root.
func NewRecord(root, sourcePath string, md map[string]any) *FileRecord {
	rel := RelativeTo(root, sourcePath)
	name := path.Base(rel)
	return &FileRecord{
		Name:       name,
		SourcePath: filepath.Clean(sourcePath),
		RelPath:    rel,
		Metadata:   cloneMap(md),
		IsMetadata: IsMetadataFile(name),
	}
}
