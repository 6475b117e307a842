// Package secure holds secrets in memguard enclaves so the master secret and
// derived container keys stay encrypted in memory between uses.
package secure
