// Package governance orchestrates the local knowledge lifecycle.
//
// Every mutation of the knowledge base, repair history, quarantine queue,
// and audit log flows through the Service so that quarantine decisions,
// audit entries, and store writes stay paired. Imported memory packages
// are held in quarantine until approved; approvals snapshot the live
// collections so a merge can always be rolled back.
package governance
