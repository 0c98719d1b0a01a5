// Package keys builds cache keys and content tags for map datasets.
package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const DefaultNamespace = "bizmap"

// Dataset returns "<namespace>:dataset:<id>". The namespace is reduced to
// ASCII letters, digits and ":_-".
func Dataset(namespace string, id int) string {
	ns := cleanNamespace(namespace)
	if ns == "" {
		ns = DefaultNamespace
	}
	return ns + ":dataset:" + strconv.Itoa(id)
}

// ETag returns a strong entity tag for a dataset body.
func ETag(body []byte) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
}

func cleanNamespace(s string) string {
	var b strings.Builder
	var last byte
	for _, r := range strings.TrimSpace(s) {
		var c byte
		switch {
		case r < 0x80 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == ':'):
			c = byte(r)
		case r == ' ' || r == '\t' || r == '_':
			c = '_'
		default:
			c = '-'
		}
		// collapse runs of separators
		if (c == '_' || c == '-') && c == last {
			continue
		}
		b.WriteByte(c)
		last = c
	}
	return b.String()
}
