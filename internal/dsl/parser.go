package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	entityRe           = regexp.MustCompile(`^entity\s+([a-z0-9_-]+)(?:\s+"([^"]*)")?\s*:$`)
	fieldRe            = regexp.MustCompile(`^\s*([\w.]+):\s*([^\s#]+)(.*)$`)
	enumRe             = regexp.MustCompile(`^enum\[(.*)\]$`)
	refRe              = regexp.MustCompile(`^ref\[([A-Za-z0-9_/-]+)\]$`)
	arrayRe            = regexp.MustCompile(`^array\[(.+)\]$`)
	builderRe          = regexp.MustCompile(`^builder\[([A-Za-z0-9_-]+)\]$`)
	descriptionRe      = regexp.MustCompile(`^description\s*:\s*"(.*)"\s*$`)
	reConstraintsStart = regexp.MustCompile(`^\s*constraints\s*:\s*$`)
	reUniqueLine       = regexp.MustCompile(`^\s*unique\s*\(\s*([^)]+)\s*\)\s*$`)
)

// типы DSL -> канонические имена
var typeAliases = map[string]string{
	"string": "string", "text": "string",
	"number": "number", "int": "number", "float": "number",
	"bool": "bool", "boolean": "bool",
	"date": "date", "datetime": "date",
	"map": "map", "geopoint": "geopoint",
}

// splitOptionTokens делит "k=v k2='v 2' pattern=^[A-Z0-9 _-]+$" на токены,
// не рвёт по пробелам внутри кавычек и скобок
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0 // внутри [ ... ] у регэкспа

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t' || r == ',') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// cutComment срезает "# ..." вне кавычек.
func cutComment(s string) string {
	inSingle, inDouble := false, false
	for i, r := range s {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case r == '#' && !inSingle && !inDouble:
			return strings.TrimSpace(s[:i])
		}
	}
	return strings.TrimSpace(s)
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func splitEnum(inside string) []string {
	var out []string
	for _, p := range strings.Split(inside, ",") {
		if s := strings.Trim(strings.TrimSpace(p), `"'`); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Parse читает DSL из r. name попадает в сообщения об ошибках.
func Parse(r io.Reader, name string) ([]*Entity, error) {
	var entities []*Entity
	var current *Entity
	inConstraints := false
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		where := fmt.Sprintf("%s:%d", name, lineNo)

		// entity <id> "<Name>":
		if strings.HasPrefix(line, "entity ") {
			m := entityRe.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("%s: bad entity header %q (want: entity <id> \"Name\":)", where, line)
			}
			if current != nil {
				entities = append(entities, current)
			}
			current = &Entity{ID: m[1], Name: m[2], Source: where}
			if current.Name == "" {
				current.Name = m[1]
			}
			inConstraints = false
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("%s: field outside of entity", where)
		}

		if reConstraintsStart.MatchString(line) {
			inConstraints = true
			continue
		}
		if inConstraints {
			if m := reUniqueLine.FindStringSubmatch(line); m != nil {
				if set := splitEnum(m[1]); len(set) > 0 {
					current.Unique = append(current.Unique, set)
				}
				continue
			}
			inConstraints = false
		}

		if m := descriptionRe.FindStringSubmatch(line); m != nil {
			current.Description = m[1]
			continue
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%s: cannot parse %q", where, line)
		}
		f, err := parseField(m[1], m[2], m[3])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		f.Line = lineNo
		current.Fields = append(current.Fields, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		entities = append(entities, current)
	}
	return entities, nil
}

func parseField(key, rawType, tail string) (Field, error) {
	// склейка оборванных типов со скобками: enum[a, b]
	for strings.Count(rawType, "[") > strings.Count(rawType, "]") {
		idx := strings.Index(tail, "]")
		if idx < 0 {
			return Field{}, fmt.Errorf("field %s: unclosed bracket in type", key)
		}
		rawType += tail[:idx+1]
		tail = tail[idx+1:]
	}

	optsRaw := cutComment(tail)
	if strings.HasPrefix(strings.ToLower(optsRaw), "options:") {
		optsRaw = strings.TrimSpace(optsRaw[len("options:"):])
	}

	f := Field{Key: key, Options: map[string]string{}}
	if err := f.setType(rawType, false); err != nil {
		return Field{}, err
	}

	for _, tok := range splitOptionTokens(optsRaw) {
		// флаг без значения -> "true"
		k, v, ok := strings.Cut(tok, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if !ok {
			f.Options[k] = "true"
			continue
		}
		f.Options[k] = unquote(strings.TrimSpace(v))
	}
	return f, nil
}

func (f *Field) setType(raw string, elem bool) error {
	raw = strings.TrimSpace(raw)
	set := func(t string) {
		if elem {
			f.ElemType = t
		} else {
			f.Type = t
		}
	}
	if mm := enumRe.FindStringSubmatch(raw); mm != nil {
		set("enum")
		inside := strings.TrimSpace(mm[1])
		if strings.HasPrefix(inside, "@") {
			f.Catalog = strings.TrimSpace(inside[1:])
			if f.Catalog == "" {
				return fmt.Errorf("field %s: empty enum catalog", f.Key)
			}
			return nil
		}
		f.Enum = splitEnum(inside)
		if len(f.Enum) == 0 {
			return fmt.Errorf("field %s: empty enum", f.Key)
		}
		return nil
	}
	if mm := refRe.FindStringSubmatch(raw); mm != nil {
		set("ref")
		f.Target = mm[1]
		return nil
	}
	if mm := arrayRe.FindStringSubmatch(raw); mm != nil {
		if elem {
			return fmt.Errorf("field %s: nested arrays are not supported", f.Key)
		}
		f.Type = "array"
		return f.setType(mm[1], true)
	}
	if mm := builderRe.FindStringSubmatch(raw); mm != nil {
		if elem {
			return fmt.Errorf("field %s: builder cannot be an array element", f.Key)
		}
		f.Type = "builder"
		f.Builder = mm[1]
		return nil
	}
	t, ok := typeAliases[strings.ToLower(raw)]
	if !ok {
		return fmt.Errorf("field %s: unknown type %q", f.Key, raw)
	}
	set(t)
	return nil
}

// LoadFile читает один .dsl файл.
func LoadFile(path string) ([]*Entity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file, path)
}

// LoadAllEntities обходит root и собирает сущности из всех .dsl файлов.
// Отсутствующий каталог — пустой результат.
func LoadAllEntities(root string) (map[string]*Entity, error) {
	result := make(map[string]*Entity)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return result, nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}
		ents, err := LoadFile(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, e := range ents {
			if prev, exists := result[e.ID]; exists {
				return fmt.Errorf("duplicate entity %q (%s and %s)", e.ID, prev.Source, e.Source)
			}
			result[e.ID] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
