// Package pricing converts token counts into cost in cents.
//
// Prices are configured per model in cents per 1K input and output tokens.
// A model is resolved by exact name first, then by the longest configured
// name that is a prefix of it ("gpt-4o" prices "gpt-4o-2024-08-06"), then
// by the default price.
//
// The calculator is safe for concurrent use and its price table can be
// replaced at runtime with UpdatePricing.
package pricing
