package submitter

import (
	"path"
	"strings"

	"gantrymon/internal/config"
)

// Rewriter maps landed relative paths onto archive destinations.
type Rewriter struct {
	root       string
	rewrites   []config.PathRewrite
	reclassify []config.Reclassify
	drop       []string
}

// NewRewriter builds a Rewriter from the transfer settings.
func NewRewriter(cfg config.Transfer) *Rewriter {
	return &Rewriter{
		root:       "/" + strings.Trim(cfg.DestinationRoot, "/"),
		rewrites:   cfg.PathRewrites,
		reclassify: cfg.Reclassify,
		drop:       cfg.DropSegmentsContain,
	}
}

// Destination returns the archive path for a path relative to the landing
// directory. Rewrites apply in order at directory boundaries, segments
// containing a drop marker are removed, and reclassification runs last on
// the full destination.
//
//	LemnaTec/MovingSensor/VNIR/2016-06-29/x.bin -> <root>/VNIR/2016-06-29/x.bin
func (r *Rewriter) Destination(rel string) string {
	p := "/" + strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(rel, "\\", "/")), "/")
	for _, rw := range r.rewrites {
		if rw.Match == "" {
			continue
		}
		p = strings.ReplaceAll(p, "/"+rw.Match, "/"+rw.Replace)
	}

	segments := strings.Split(strings.Trim(p, "/"), "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == "" || r.dropped(seg) {
			continue
		}
		kept = append(kept, seg)
	}
	dest := path.Join(append([]string{r.root}, kept...)...)

	for _, rc := range r.reclassify {
		if rc.From == "" || !hasExtension(dest, rc.Extensions) || !containsAny(dest, rc.PathContains) {
			continue
		}
		dest = strings.Replace(dest, "/"+rc.From+"/", "/"+rc.To+"/", 1)
	}
	return dest
}

func (r *Rewriter) dropped(segment string) bool {
	for _, marker := range r.drop {
		if marker != "" && strings.Contains(segment, marker) {
			return true
		}
	}
	return false
}

func hasExtension(p string, exts []string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, candidate := range exts {
		if strings.EqualFold(candidate, ext) {
			return true
		}
	}
	return false
}

func containsAny(p string, fragments []string) bool {
	if len(fragments) == 0 {
		return true
	}
	for _, f := range fragments {
		if f != "" && strings.Contains(p, f) {
			return true
		}
	}
	return false
}
