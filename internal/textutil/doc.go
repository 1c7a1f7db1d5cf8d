// Package textutil cleans user-supplied text before it is stored or used in
// file names: revision labels are NFC-normalized with control characters
// removed and whitespace collapsed, and export file names have
// filesystem-unsafe characters replaced.
package textutil
