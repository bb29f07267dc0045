package analyzer

import (
	"context"
	"regexp"

	"github.com/fyrsmithlabs/buildmedic/internal/memory"
)

// Analyzer extracts error findings from a build or deploy log.
type Analyzer interface {
	Analyze(ctx context.Context, logContent string) ([]memory.AnalysisResult, error)
}

// Fallback is the result surfaced to the user when analysis itself fails.
// Callers substitute it for the error so a broken analyzer never blocks
// the log view.
func Fallback() []memory.AnalysisResult {
	return []memory.AnalysisResult{{
		Match:     "Analysis Failed",
		Solution:  "An unexpected error occurred while analyzing the log. Check the service logs for details.",
		Framework: "General",
	}}
}

// rule maps a log signature to a canonical finding.
type rule struct {
	re     *regexp.Regexp
	result memory.AnalysisResult
}

var defaultRules = []rule{
	{
		re: regexp.MustCompile(`(?i)ERESOLVE|npm ERR!`),
		result: memory.AnalysisResult{
			Match:     "npm dependency resolution failed",
			Solution:  "Delete node_modules and package-lock.json, then reinstall. If peer dependency conflicts persist, retry with --legacy-peer-deps.",
			Framework: "npm",
		},
	},
	{
		re: regexp.MustCompile(`(?i)EADDRINUSE`),
		result: memory.AnalysisResult{
			Match:     "EADDRINUSE: address already in use",
			Solution:  "Another process holds the port. Find it with lsof -i :<port> and stop it, or serve on a different port.",
			Framework: "Node.js",
		},
	},
	{
		re: regexp.MustCompile(`(?i)cannot find module`),
		result: memory.AnalysisResult{
			Match:     "Cannot find module",
			Solution:  "A required package is missing. Run npm install, and check the import path for typos.",
			Framework: "Node.js",
		},
	},
	{
		re: regexp.MustCompile(`(?i)no space left on device`),
		result: memory.AnalysisResult{
			Match:     "no space left on device",
			Solution:  "The build host disk is full. Remove unused images and build cache with docker image prune and docker builder prune.",
			Framework: "Docker",
		},
	},
	{
		re: regexp.MustCompile(`(?i)pull access denied|manifest unknown`),
		result: memory.AnalysisResult{
			Match:     "image pull failed",
			Solution:  "The image name or tag does not exist, or the registry requires login. Verify the reference and run docker login.",
			Framework: "Docker",
		},
	},
	{
		re: regexp.MustCompile(`(?i)module not found: can't resolve`),
		result: memory.AnalysisResult{
			Match:     "Module not found: Can't resolve",
			Solution:  "The bundler cannot resolve an import. Install the missing package and check relative path casing.",
			Framework: "React",
		},
	},
	{
		re: regexp.MustCompile(`(?i)hydration (failed|mismatch)`),
		result: memory.AnalysisResult{
			Match:     "Hydration mismatch",
			Solution:  "Server and client rendered different markup. Remove non-deterministic values (dates, random ids) from the initial render.",
			Framework: "React",
		},
	},
	{
		re: regexp.MustCompile(`(?i)SQLSTATE\[`),
		result: memory.AnalysisResult{
			Match:     "SQLSTATE database error",
			Solution:  "The database rejected a query. Check credentials in .env, run php artisan config:clear, and verify pending migrations.",
			Framework: "Laravel",
		},
	},
	{
		re: regexp.MustCompile(`(?i)class ["'][\w\\]+["'] not found`),
		result: memory.AnalysisResult{
			Match:     "Class not found",
			Solution:  "The autoloader is stale. Run composer dump-autoload and confirm the class namespace matches its file path.",
			Framework: "Laravel",
		},
	},
	{
		re: regexp.MustCompile(`(?im)^\s*(fatal|panic):`),
		result: memory.AnalysisResult{
			Match:     "fatal error in build output",
			Solution:  "The process aborted. Read the lines immediately above the fatal marker for the root cause.",
			Framework: "General",
		},
	},
}

// PatternAnalyzer matches logs against a static signature table. It needs
// no network and backs offline use.
type PatternAnalyzer struct {
	rules []rule
}

// NewPatternAnalyzer returns an analyzer over the built-in signature table.
func NewPatternAnalyzer() *PatternAnalyzer {
	return &PatternAnalyzer{rules: defaultRules}
}

// Analyze returns one finding per matched signature, in table order. An
// empty log yields no findings.
func (a *PatternAnalyzer) Analyze(_ context.Context, logContent string) ([]memory.AnalysisResult, error) {
	if logContent == "" {
		return nil, nil
	}

	var results []memory.AnalysisResult
	for _, r := range a.rules {
		if r.re.MatchString(logContent) {
			results = append(results, r.result)
		}
	}
	return results, nil
}
