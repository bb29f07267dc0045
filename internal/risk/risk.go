// Package risk flags repair scripts that match destructive-command
// heuristics. The classifier is deliberately conservative: a false
// positive costs a human review, a false negative costs a machine.
package risk

import (
	"fmt"
	"regexp"
)

// defaultPatterns are the built-in destructive-command heuristics.
var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsudo\b`),                   // elevated privileges
	regexp.MustCompile(`chmod\s+(-R\s+)?(777|666)`),  // overly permissive modes
	regexp.MustCompile(`\bdocker\s+system\s+prune`),  // destructive container prune
	regexp.MustCompile(`\brm\s+(-rf|-fr)`),           // forced recursive deletion
	regexp.MustCompile(`dd\s+if=`),                   // raw block-device writes
	regexp.MustCompile(`mkfs\.`),                     // filesystem formatting
	regexp.MustCompile(`>\s*/dev/sd`),                // direct writes to disk devices
}

// Classifier matches scripts against a pattern list. The zero value is not
// usable; construct with NewClassifier.
type Classifier struct {
	patterns []*regexp.Regexp
}

// NewClassifier builds a classifier from the built-in heuristics plus any
// extra patterns (uncompiled regular expressions, e.g. from config).
func NewClassifier(extra ...string) (*Classifier, error) {
	patterns := append([]*regexp.Regexp(nil), defaultPatterns...)
	for _, raw := range extra {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid risk pattern %q: %w", raw, err)
		}
		patterns = append(patterns, re)
	}
	return &Classifier{patterns: patterns}, nil
}

// IsRisky reports whether the script matches any destructive-command
// heuristic. Empty scripts are never risky.
func (c *Classifier) IsRisky(script string) bool {
	if script == "" {
		return false
	}
	for _, re := range c.patterns {
		if re.MatchString(script) {
			return true
		}
	}
	return false
}
