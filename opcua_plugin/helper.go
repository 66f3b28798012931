package opcua_plugin

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gopcua/opcua/ua"
)

func randomString(length int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := range result {
		randInt, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		result[i] = letters[randInt.Int64()]
	}
	return string(result)
}

// valueToPayload renders a sample value as message payload together with
// its tag type ("number", "bool" or "string"). Scalars are written as plain
// text, everything else as JSON.
func valueToPayload(value any) ([]byte, string, error) {
	switch v := value.(type) {
	case nil:
		return nil, "", nil
	case string:
		return []byte(v), "string", nil
	case []byte:
		return v, "string", nil
	case bool:
		return []byte(strconv.FormatBool(v)), "bool", nil
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return []byte(formatValue(v)), "number", nil
	case time.Time:
		return []byte(v.Format(time.RFC3339Nano)), "string", nil
	case *ua.NodeID:
		return []byte(v.String()), "string", nil
	case *ua.LocalizedText:
		if v == nil {
			return nil, "", nil
		}
		return []byte(v.Text), "string", nil
	default:
		b, err := json.Marshal(v)
		return b, "string", err
	}
}
