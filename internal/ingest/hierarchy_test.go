package ingest

import (
	"reflect"
	"testing"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		key  string
		want []string
	}{
		{"VNIR - 2016-06-29__10-28-43-323", []string{"VNIR", "VNIR - 2016", "VNIR - 2016-06", "VNIR - 2016-06-29"}},
		{"co2Sensor - 2016-12-25", []string{"co2Sensor", "co2Sensor - 2016", "co2Sensor - 2016-12"}},
		{"irrigation", []string{"irrigation"}},
		{"sensor - unknown_time", []string{"sensor"}},
	}
	for _, tc := range tests {
		if got := Levels(tc.key); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Levels(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}
