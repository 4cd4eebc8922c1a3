package sqlite

import (
	"github.com/tidwall/sjson"
)

// sjsonSet patches a single path in a JSON document in place, used to
// keep the tags index and the JSON column's embedded tags array in
// sync without a full decode/encode of the element.
func sjsonSet(data, path string, value interface{}) (string, error) {
	return sjson.Set(data, path, value)
}
