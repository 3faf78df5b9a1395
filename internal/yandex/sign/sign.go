// Package sign computes the "s" query parameter Yandex's internal review
// endpoints require: a djb2-style hash over the deterministically sorted
// query string of every other parameter. No third-party library implements
// this exact reverse-engineered scheme, so it is hand-written over the
// standard library's net/url encoder (see DESIGN.md).
package sign

import (
	"net/url"
	"sort"
	"strconv"
)

// Sign computes the signature for params, which must NOT already contain an
// "s" key (the caller injects the result under that key afterward). Sign is
// a pure function: identical input maps always produce identical output.
func Sign(params map[string]string) string {
	qs := sortedQueryString(params)

	var h uint32 = 5381
	for i := 0; i < len(qs); i++ {
		c := qs[i]
		h = ((h << 5) + h) ^ uint32(c)
	}
	return strconv.FormatUint(uint64(h), 10)
}

// sortedQueryString sorts params by key in ascending byte order and encodes
// them with standard URL form encoding (key1=value1&key2=value2&...).
func sortedQueryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}

	// url.Values.Encode() already sorts by key, but we pre-sorted the key
	// list above to make the "deterministically sorted" requirement explicit
	// and independent of that implementation detail.
	return encodeOrdered(keys, params)
}

// encodeOrdered mirrors url.Values.Encode()'s key=value&... construction but
// walks an explicit, already-sorted key list rather than relying on the
// sorting behavior of a map-backed type, so the ordering contract in the
// signer is self-evident from this file alone.
func encodeOrdered(keys []string, params map[string]string) string {
	buf := make([]byte, 0, 64)
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, '&')
		}
		buf = append(buf, url.QueryEscape(k)...)
		buf = append(buf, '=')
		buf = append(buf, url.QueryEscape(params[k])...)
	}
	return string(buf)
}
