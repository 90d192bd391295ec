package sqlstruct

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type fieldJSON struct {
	Name    string          `json:"name"`
	KeyType KeyType         `json:"keyType"`
	Type    int32           `json:"type"`
	Value   json.RawMessage `json:"value"`
}

// 非二进制列的 []byte 按字符串写出，否则会被编码为 base64
func (f *Field) MarshalJSON() ([]byte, error) {
	value := f.Value
	if b, ok := value.([]byte); ok && !IsBinaryType(f.Type) {
		value = string(b)
	}
	return json.Marshal(&struct {
		Name    string      `json:"name"`
		KeyType KeyType     `json:"keyType"`
		Type    int32       `json:"type"`
		Value   interface{} `json:"value"`
	}{
		Name:    f.Name,
		KeyType: f.KeyType,
		Type:    f.Type,
		Value:   value,
	})
}

// 反序列化时按照类型码还原字段值，避免数字统一被解析为 float64
func (f *Field) UnmarshalJSON(data []byte) error {
	var raw fieldJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	f.Name, f.KeyType, f.Type = raw.Name, raw.KeyType, raw.Type
	if len(raw.Value) == 0 || bytes.Equal(raw.Value, []byte("null")) {
		f.Value = nil
		return nil
	}

	value, err := decodeValue(raw.Type, raw.Value)
	if err != nil {
		return errors.Wrapf(err, "decode field: %s", raw.Name)
	}
	f.Value = value
	return nil
}

func decodeValue(typ int32, raw json.RawMessage) (interface{}, error) {
	switch {
	case IsBinaryType(typ):
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(s)
	case typ == TypeArray:
		var array SerialArray
		if err := json.Unmarshal(raw, &array); err != nil {
			return nil, err
		}
		return &array, nil
	case IsIntegerType(typ):
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n.Int64()
	case IsApproximateType(typ):
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n, nil
	case IsExactNumericType(typ):
		// 定点数保留字符串形式，避免精度丢失
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String(), nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	case typ == TypeTimestamp:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
		return s, nil
	default:
		var v interface{}
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		if err := decoder.Decode(&v); err != nil {
			return nil, err
		}
		if n, ok := v.(json.Number); ok {
			return n.String(), nil
		}
		return v, nil
	}
}
