// Package stable строит каноническую (с сортировкой ключей) сериализацию произвольных значений.
// Результат используется как вход для отпечатка дедупликации.
package stable

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

type missing struct{}

// Missing — маркер "значения нет". Ключ объекта с таким значением выбрасывается целиком,
// в отличие от nil, который сериализуется как null. Вне объекта Missing пишется как null.
var Missing any = missing{}

// Stringify возвращает строку, одинаковую для значений, равных с точностью до порядка ключей.
// Массивы сохраняют исходный порядок.
func Stringify(value any) (string, error) {
	var buf bytes.Buffer
	if err := appendValue(&buf, value); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Fingerprint — hex SHA-256 от Stringify.
func Fingerprint(value any) (string, error) {
	s, err := Stringify(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}

func appendValue(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil, missing:
		buf.WriteString("null")
		return nil
	case bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return appendScalar(buf, v)
	case json.RawMessage:
		decoded, err := decode(v)
		if err != nil {
			return err
		}
		return appendValue(buf, decoded)
	case map[string]any:
		return appendMap(buf, v)
	case []any:
		return appendSlice(buf, v)
	default:
		// Именованные мапы (store.Row и т.п.) и слайсы обходим сами, чтобы Missing
		// внутри них выбрасывался так же, как в map[string]any
		if handled, err := appendReflect(buf, v); handled {
			return err
		}
		// Структуры приводим к дереву any через JSON
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("stable: encode %T: %w", v, err)
		}
		decoded, err := decode(encoded)
		if err != nil {
			return err
		}
		return appendValue(buf, decoded)
	}
}

func appendReflect(buf *bytes.Buffer, v any) (bool, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return false, nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return true, appendMap(buf, m)
	case reflect.Slice, reflect.Array:
		// []byte в JSON — base64-строка, оставляем кодировщику
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return false, nil
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return true, appendSlice(buf, items)
	case reflect.Pointer:
		if rv.IsNil() {
			buf.WriteString("null")
			return true, nil
		}
		return true, appendValue(buf, rv.Elem().Interface())
	}
	return false, nil
}

func appendScalar(buf *bytes.Buffer, v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stable: encode scalar: %w", err)
	}
	buf.Write(encoded)
	return nil
}

func appendMap(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k, val := range m {
		if _, skip := val.(missing); skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, _ := json.Marshal(k)
		buf.Write(keyBytes)
		buf.WriteByte(':')
		if err := appendValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func appendSlice(buf *bytes.Buffer, items []any) error {
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := appendValue(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("stable: decode: %w", err)
	}
	return out, nil
}
