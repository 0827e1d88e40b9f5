package submitter

import (
	"testing"

	"gantrymon/internal/config"
)

func TestRewriterDestination(t *testing.T) {
	rw := NewRewriter(config.Default().Transfer)

	tests := []struct {
		name string
		rel  string
		want string
	}{
		{
			name: "vendor folders flattened",
			rel:  "LemnaTec/MovingSensor/VNIR/2016-06-29/2016-06-29__10-28-43-323/x.bin",
			want: "/ua-mac/raw_data/VNIR/2016-06-29/2016-06-29__10-28-43-323/x.bin",
		},
		{
			name: "weather station under MAC",
			rel:  "MAC/lightning/2016-06-29/data.dat",
			want: "/ua-mac/raw_data/lightning/2016-06-29/data.dat",
		},
		{
			name: "point cloud reclassified",
			rel:  "LemnaTec/3DScannerRawDataTopTmp/scanner3DTop/2017-04-27/ts/a.ply",
			want: "/ua-mac/Level_1/scanner3DTop/2017-04-27/ts/a.ply",
		},
		{
			name: "raw scanner data stays raw",
			rel:  "LemnaTec/3DScannerRawDataTopTmp/scanner3DTop/2017-04-27/ts/a.png",
			want: "/ua-mac/raw_data/scanner3DTop/2017-04-27/ts/a.png",
		},
		{
			name: "reprocessing folder dropped",
			rel:  "LemnaTec/MovingSensor.reproc2016-8-18/VNIR/2016-06-01/ts/x.bin",
			want: "/ua-mac/raw_data/VNIR/2016-06-01/ts/x.bin",
		},
		{
			name: "match only at directory boundary",
			rel:  "weather/AMAC/2016-06-29/x.json",
			want: "/ua-mac/raw_data/weather/AMAC/2016-06-29/x.json",
		},
		{
			name: "leading slash tolerated",
			rel:  "/stereoTop/2016-06-29/ts/left.bin",
			want: "/ua-mac/raw_data/stereoTop/2016-06-29/ts/left.bin",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := rw.Destination(tc.rel); got != tc.want {
				t.Fatalf("Destination(%q) = %q, want %q", tc.rel, got, tc.want)
			}
		})
	}
}

func TestRewriterCustomRules(t *testing.T) {
	rw := NewRewriter(config.Transfer{
		DestinationRoot: "archive/",
		PathRewrites:    []config.PathRewrite{{Match: "old/", Replace: "new/"}},
	})
	if got := rw.Destination("old/sensor/gold/f.txt"); got != "/archive/new/sensor/gold/f.txt" {
		t.Fatalf("unexpected destination %q", got)
	}
}

func TestSanitizeLabel(t *testing.T) {
	got := sanitizeLabel("gantrymon 2024-01-01 10:00:00 VNIR - 2016-06-29__10-28-43-323 +2 ä/")
	want := "gantrymon 2024-01-01 10:00:00 VNIR - 2016-06-29__10-28-43-323 +2 __"
	if got != want {
		t.Fatalf("sanitizeLabel = %q, want %q", got, want)
	}
}
