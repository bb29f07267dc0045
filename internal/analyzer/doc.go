// Package analyzer turns raw build and deploy logs into structured error
// findings.
//
// Two implementations share the Analyzer interface: PatternAnalyzer
// matches a static regexp table and works offline; LLMAnalyzer prompts an
// OpenAI-compatible model through langchaingo and parses its JSON reply.
package analyzer
