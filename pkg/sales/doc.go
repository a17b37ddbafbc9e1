// Package sales reads sales from receipts and records them once the user
// confirms.
//
// Extractor asks a vision-capable model for a Sale. Recorder inserts a
// confirmed Sale into the sales collection with prices as Decimal128.
// IsAffirmative decides whether a reply confirms; anything else cancels.
package sales
