package schema

// Normalize приводит схему к каноническому виду перед сохранением:
// из порядка выкидываются несуществующие ключи, свойства без записи в порядке
// дописываются в конец (по алфавиту). Рекурсивно для map.
func Normalize(s EntitySchema) EntitySchema {
	out := s.Clone()
	out.Properties, out.PropertiesOrder = normalizeLevel(out.Properties, out.PropertiesOrder)
	return out
}

func normalizeLevel(props map[string]PropertyOrBuilder, order []string) (map[string]PropertyOrBuilder, []string) {
	if props == nil {
		return map[string]PropertyOrBuilder{}, []string{}
	}
	keys := OrderedKeys(props, order)
	for _, k := range keys {
		p, ok := props[k].Property()
		if !ok || !p.IsMap() {
			continue
		}
		if len(p.Properties) > 0 || len(p.PropertiesOrder) > 0 {
			p.Properties, p.PropertiesOrder = normalizeLevel(p.Properties, p.PropertiesOrder)
			props[k] = FromProperty(p)
		}
	}
	return props, keys
}
