// Package alias provides CRUD over named secrets ("aliases") kept in the
// per-cluster credential stores of the keystore service.
package alias
