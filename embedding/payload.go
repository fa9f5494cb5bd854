package embedding

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Request is the DATA payload sent to the service. It is encoded as the
// two element array [text, model] with a nil model meaning "default".
type Request struct {
	_msgpack struct{} `msgpack:",as_array"`

	Text  string  `msgpack:"text"`
	Model *string `msgpack:"model"`
}

// EncodeRequest returns the MessagePack form of req.
func EncodeRequest(req Request) ([]byte, error) {
	b, err := msgpack.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return b, nil
}

// ResponseShape names the payload layout a vector arrived in.
type ResponseShape int

const (
	ShapeArray ResponseShape = iota
	ShapeEmbeddingKey
	ShapeVectorKey
)

func (s ResponseShape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeEmbeddingKey:
		return "embedding"
	case ShapeVectorKey:
		return "vector"
	default:
		return "unknown"
	}
}

// Response is a decoded vector tagged with the shape it arrived in.
type Response struct {
	Shape  ResponseShape
	Vector []float32
}

type decodeAttempt struct {
	shape  ResponseShape
	decode func([]byte) ([]float64, bool)
}

// responseAttempts are tried in order; the first success wins.
var responseAttempts = []decodeAttempt{
	{ShapeArray, func(b []byte) ([]float64, bool) {
		var v []float64
		if err := msgpack.Unmarshal(b, &v); err != nil || v == nil {
			return nil, false
		}
		return v, true
	}},
	{ShapeEmbeddingKey, func(b []byte) ([]float64, bool) {
		var v struct {
			Embedding []float64 `msgpack:"embedding"`
		}
		if err := msgpack.Unmarshal(b, &v); err != nil || v.Embedding == nil {
			return nil, false
		}
		return v.Embedding, true
	}},
	{ShapeVectorKey, func(b []byte) ([]float64, bool) {
		var v struct {
			Vector []float64 `msgpack:"vector"`
		}
		if err := msgpack.Unmarshal(b, &v); err != nil || v.Vector == nil {
			return nil, false
		}
		return v.Vector, true
	}},
}

// DecodeResponse interprets a response payload. A payload matching none of
// the vector shapes is checked for {"error": msg}, which yields a
// *RemoteError. Anything else is ErrMalformedResponse.
func DecodeResponse(payload []byte) (Response, error) {
	for _, a := range responseAttempts {
		v, ok := a.decode(payload)
		if !ok {
			continue
		}
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return Response{Shape: a.shape, Vector: out}, nil
	}

	var remote struct {
		Error *string `msgpack:"error"`
	}
	if err := msgpack.Unmarshal(payload, &remote); err == nil && remote.Error != nil {
		return Response{}, &RemoteError{Message: *remote.Error}
	}
	return Response{}, ErrMalformedResponse
}
