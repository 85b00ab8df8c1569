package saga

import (
	jsoniter "github.com/json-iterator/go"
)

// Codec encodes saga state for a Store.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONCodec matches encoding/json output, so records stay readable by tools
// outside this service.
var JSONCodec Codec = jsoniter.ConfigCompatibleWithStandardLibrary
