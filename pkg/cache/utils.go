package cache

import (
	"fmt"
	"strings"
)

// Key joins a namespace and its parameters with ':'.
func Key(namespace string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range params {
		b.WriteByte(':')
		b.WriteString(fmt.Sprint(p))
	}
	return b.String()
}
