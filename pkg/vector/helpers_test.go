package vector

import (
	"github.com/qdrant/go-client/qdrant"
)

// qdrantValueMapRoundTrip encodes a payload into qdrant values and decodes it
// back, exercising the same conversion the live path uses.
func qdrantValueMapRoundTrip(payload map[string]any) map[string]any {
	return payloadToMap(qdrant.NewValueMap(payload))
}
