// Package memory defines the domain state for learned build/deploy
// knowledge: the knowledge base (framework -> known error/solution pairs)
// and the repair history (generated fix scripts and their outcomes).
//
// The package holds pure data types and value-semantics operations over
// them. Nothing here touches storage; persistence is the store package's
// job and orchestration belongs to the governance service. Functions that
// modify a collection return an updated copy and never mutate their input,
// which is what makes pre-merge snapshots trustworthy.
package memory
