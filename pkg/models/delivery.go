package models

// Delivery is one raw webhook delivery, as received over HTTP or popped
// from a relay queue. Payload holds the exact bytes the signature covers;
// it is base64 encoded in JSON so relays and captures keep it byte exact.
type Delivery struct {
	Provider   string `json:"provider"`
	Event      string `json:"event"`
	DeliveryID string `json:"delivery,omitempty"`
	Signature  string `json:"signature,omitempty"`
	Payload    []byte `json:"payload"`
	ReceivedAt int64  `json:"received_at,omitempty"`
}
