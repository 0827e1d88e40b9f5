package scanner

import (
	"regexp"
	"strings"
	"time"
)

const (
	formatXferlog = "xferlog"
	formatPaths   = "paths"

	// xferlogTimeLayout parses the first five whitespace-separated fields.
	xferlogTimeLayout = "Mon Jan 2 15:04:05 2006"
)

var (
	// completedPattern marks a successful transfer: "... ftp 0 * c".
	completedPattern = regexp.MustCompile(`ftp \d \* c`)
	// xferlogPathPattern extracts the file name after the client address
	// and byte count.
	xferlogPathPattern = regexp.MustCompile(`::ffff:\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3} \d+ ((/?.)+) +\w _`)

	unknownLineTime = time.Date(1900, 1, 1, 1, 1, 1, 0, time.UTC)
)

// parseLine returns the logged path of a completed transfer.
func parseLine(format, line string) (string, bool) {
	switch format {
	case formatPaths:
		line = strings.TrimSpace(line)
		return line, line != ""
	default:
		if !completedPattern.MatchString(line) {
			return "", false
		}
		m := xferlogPathPattern.FindStringSubmatch(line)
		if m == nil {
			return "", false
		}
		p := strings.TrimSpace(m[1])
		return p, p != ""
	}
}

// lineTime parses the leading timestamp of an xferlog line, e.g.
// "Tue Apr  5 12:35:58 2016". Lines without one sort before everything.
func lineTime(format, line string) time.Time {
	if format != formatXferlog {
		return unknownLineTime
	}
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return unknownLineTime
	}
	t, err := time.Parse(xferlogTimeLayout, strings.Join(fields[:5], " "))
	if err != nil {
		return unknownLineTime
	}
	return t
}
