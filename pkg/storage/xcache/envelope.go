package xcache

import (
	"encoding/json"
	"fmt"
	"reflect"
)

const (
	kindRaw        = "raw"
	kindStructured = "structured"

	typeNull = "null"
)

// envelope 是缓存值的序列化格式。
type envelope struct {
	Kind    string          `json:"kind"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

func rawAs[T any](p json.RawMessage) (any, error) {
	var v T
	err := json.Unmarshal(p, &v)
	return v, err
}

// rawDecoders 按 Go 类型名还原标量。
var rawDecoders = map[string]func(json.RawMessage) (any, error){
	"string":  rawAs[string],
	"bool":    rawAs[bool],
	"int":     rawAs[int],
	"int8":    rawAs[int8],
	"int16":   rawAs[int16],
	"int32":   rawAs[int32],
	"int64":   rawAs[int64],
	"uint":    rawAs[uint],
	"uint8":   rawAs[uint8],
	"uint16":  rawAs[uint16],
	"uint32":  rawAs[uint32],
	"uint64":  rawAs[uint64],
	"float32": rawAs[float32],
	"float64": rawAs[float64],
}

// encode 将值编码为信封。
func encode(value any) ([]byte, error) {
	env := envelope{Kind: kindRaw}
	if value == nil {
		env.Type = typeNull
		env.Payload = json.RawMessage("null")
		return json.Marshal(env)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("xcache: encode value: %w", err)
	}
	env.Payload = payload

	if typ := reflect.TypeOf(value).String(); rawDecoders[typ] != nil {
		env.Type = typ
	} else {
		env.Kind = kindStructured
	}
	return json.Marshal(env)
}

// parse 解析信封。非信封数据（其他客户端写入的纯文本）按 raw string 处理。
func parse(data []byte) envelope {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || (env.Kind != kindRaw && env.Kind != kindStructured) {
		quoted, _ := json.Marshal(string(data)) //nolint:errcheck // string 编码不会失败
		return envelope{Kind: kindRaw, Type: "string", Payload: quoted}
	}
	return env
}

// decode 解码为 Go 值。
func decode(data []byte) (any, error) {
	env := parse(data)
	if env.Kind == kindRaw {
		if env.Type == typeNull {
			return nil, nil
		}
		if dec := rawDecoders[env.Type]; dec != nil {
			v, err := dec(env.Payload)
			if err != nil {
				return nil, fmt.Errorf("xcache: decode %s: %w", env.Type, err)
			}
			return v, nil
		}
	}

	var v any
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return nil, fmt.Errorf("xcache: decode structured: %w", err)
	}
	return v, nil
}

// decodeInto 将 payload 解码到 dst。
func decodeInto(data []byte, dst any) error {
	env := parse(data)
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("xcache: decode into %T: %w", dst, err)
	}
	return nil
}
