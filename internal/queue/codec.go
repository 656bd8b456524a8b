package queue

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/spec-kit/ticket-sync/internal/domain"
)

var (
	payloadEnc cbor.EncMode
	payloadDec cbor.DecMode
)

func init() {
	var err error
	payloadEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("queue: CBOR encoder initialization failed: " + err.Error())
	}
	// Nested maps must come back as map[string]any so patches keep
	// working after a reload.
	payloadDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("queue: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodePayload(doc domain.Document) ([]byte, error) {
	if doc == nil {
		doc = domain.Document{}
	}
	data, err := payloadEnc.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) (domain.Document, error) {
	var doc domain.Document
	if err := payloadDec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return doc, nil
}
