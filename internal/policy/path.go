package policy

import (
	"errors"
	"strings"
)

var ErrInvalidPath = errors.New("policy: invalid settings path")

// splitPath разбирает путь вида "domain_action.student.register.enabled".
func splitPath(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidPath
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, ErrInvalidPath
		}
	}
	return parts, nil
}

// Resolve ищет значение по точечному пути в документе настроек.
// ok=false означает "настройки нет" и никогда не совпадает с сохраненным false.
//
// Ключ может храниться как вложенными объектами, так и плоской строкой с точками;
// на каждом уровне сначала проверяется самый длинный плоский префикс.
func Resolve(doc map[string]any, path string) (any, bool) {
	parts, err := splitPath(path)
	if err != nil || doc == nil {
		return nil, false
	}
	return resolve(doc, parts)
}

func resolve(node map[string]any, parts []string) (any, bool) {
	for i := len(parts); i >= 1; i-- {
		key := strings.Join(parts[:i], ".")
		v, ok := node[key]
		if !ok {
			continue
		}
		if i == len(parts) {
			return v, true
		}
		if child, isMap := v.(map[string]any); isMap {
			if found, ok := resolve(child, parts[i:]); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// Assign записывает значение по пути, создавая промежуточные объекты.
// Прежние написания того же пути (плоские ключи) удаляются, чтобы не перекрывать новое значение.
func Assign(doc map[string]any, path string, value any) (map[string]any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	for remove(doc, parts) {
	}
	node := doc
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[p] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
	return doc, nil
}

// Remove удаляет значение по пути в любом написании. Возвращает false, если его не было.
func Remove(doc map[string]any, path string) bool {
	parts, err := splitPath(path)
	if err != nil || doc == nil {
		return false
	}
	removed := false
	for remove(doc, parts) {
		removed = true
	}
	return removed
}

func remove(node map[string]any, parts []string) bool {
	for i := len(parts); i >= 1; i-- {
		key := strings.Join(parts[:i], ".")
		v, ok := node[key]
		if !ok {
			continue
		}
		if i == len(parts) {
			delete(node, key)
			return true
		}
		if child, isMap := v.(map[string]any); isMap && remove(child, parts[i:]) {
			return true
		}
	}
	return false
}
