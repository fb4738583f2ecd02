// Package pii маскирует идентифицирующие поля перед записью в логи и аудит.
// Маскирование эвристическое: имя ключа плюс форма строки. Обратного преобразования нет.
package pii

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

type fieldKind int

const (
	kindNone fieldKind = iota
	kindEmail
	kindPhone
	kindName
)

// Mask рекурсивно обходит значение и возвращает замаскированную копию.
// Исходное значение не изменяется.
func Mask(value any) any {
	return maskValue(value, kindNone)
}

// MaskString маскирует отдельную строку по ее форме (email/телефон).
func MaskString(s string) string {
	return maskByContent(s)
}

// MaskMap — удобная обертка для деталей аудита.
func MaskMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := maskValue(m, kindNone).(map[string]any)
	return out
}

func maskValue(value any, kind fieldKind) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if kind != kindNone {
			return maskByKind(v, kind)
		}
		return maskByContent(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = maskValue(val, kindOf(k))
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = maskValue(val, kindOf(k))
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = maskValue(item, kind)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = maskValue(item, kind)
		}
		return out
	case bool:
		return v
	case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		// Телефон, сохраненный числом, все равно маскируем по ключу
		if kind != kindNone {
			return maskByKind(fmt.Sprint(v), kind)
		}
		return v
	default:
		// Структуры приводим к дереву через JSON, чтобы маскирование по ключам сработало
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var decoded any
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			return nil
		}
		return maskValue(decoded, kind)
	}
}

// kindOf — совпадение по имени ключа приоритетнее анализа содержимого.
func kindOf(key string) fieldKind {
	k := strings.ToLower(strings.TrimSpace(key))
	switch {
	case k == "email" || strings.HasSuffix(k, "_email"):
		return kindEmail
	case k == "phone" || strings.HasSuffix(k, "_phone"):
		return kindPhone
	case k == "name" || strings.HasSuffix(k, "_name"):
		return kindName
	}
	return kindNone
}

func maskByKind(s string, kind fieldKind) string {
	switch kind {
	case kindEmail:
		return maskEmail(s)
	case kindPhone:
		return maskPhone(s)
	case kindName:
		return maskName(s)
	}
	return s
}

func maskByContent(s string) string {
	switch {
	case strings.Contains(s, "@"):
		return maskEmail(s)
	case looksLikePhone(s):
		return maskPhone(s)
	}
	return s
}

func looksLikePhone(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-':
		default:
			return false
		}
	}
	return digits > 0
}

// maskEmail: первый символ и домен остаются, "kim@example.com" -> "k***@example.com".
func maskEmail(s string) string {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return maskName(s)
	}
	local, domain := s[:at], s[at:]
	if local == "" {
		return "***" + domain
	}
	first, _ := utf8.DecodeRuneInString(local)
	return string(first) + "***" + domain
}

// maskPhone: первая и последняя группы остаются, середина заменяется звездочками.
// "010-1234-5678" -> "010-****-5678".
func maskPhone(s string) string {
	if strings.Contains(s, "-") {
		groups := strings.Split(s, "-")
		if len(groups) == 2 {
			// "010-12345678": префикс и последние 4 цифры остаются, середина скрыта
			head, tail := groups[0], groups[1]
			if head != "" && len(tail) > 4 {
				return head + "-" + stars(len(tail)-4) + tail[len(tail)-4:]
			}
			return maskDigits(strings.ReplaceAll(s, "-", ""))
		}
		for i := 1; i < len(groups)-1; i++ {
			groups[i] = stars(len(groups[i]))
		}
		return strings.Join(groups, "-")
	}
	return maskDigits(s)
}

func maskDigits(s string) string {
	n := len(s)
	if n <= 4 {
		return stars(n)
	}
	prefix, suffix := n/3, n/3
	if n >= 9 {
		prefix, suffix = 3, 4
	}
	return s[:prefix] + stars(n-prefix-suffix) + s[n-suffix:]
}

// maskName: первая и последняя буквы остаются, "김철수" -> "김*수".
func maskName(s string) string {
	runes := []rune(s)
	switch len(runes) {
	case 0:
		return s
	case 1:
		return "*"
	case 2:
		return string(runes[0]) + "*"
	}
	return string(runes[0]) + stars(len(runes)-2) + string(runes[len(runes)-1])
}

func stars(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("*", n)
}
