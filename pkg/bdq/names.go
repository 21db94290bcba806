package bdq

import "strings"

// LocalName strips a namespace prefix ("dwc:countryCode" → "countryCode").
// Names without a prefix are returned unchanged apart from trimming.
func LocalName(column string) string {
	column = strings.TrimSpace(column)
	if i := strings.LastIndexByte(column, ':'); i >= 0 {
		return column[i+1:]
	}
	return column
}

// ColumnKey folds a column name to its lookup key: the lower-cased local
// name. All header matching in the pipeline is namespace-tolerant and
// case-insensitive via this key; cell values are never folded.
func ColumnKey(column string) string {
	return strings.ToLower(LocalName(column))
}
