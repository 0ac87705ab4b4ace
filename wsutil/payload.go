package wsutil

import (
	"strings"
)

// ObjectPayload represents object-typed message data, such as the
// payload of a "connection_init" message.
type ObjectPayload map[string]interface{}

// String returns the value associated with the specified key.
//
// Key comparison is case-insensitive.
func (p ObjectPayload) String(key string) string {
	for k, v := range p {
		if strings.EqualFold(k, key) {
			value, _ := v.(string)
			return value
		}
	}

	return ""
}
