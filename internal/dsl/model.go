package dsl

// Entity описывает сущность из DSL: id коллекции, отображаемое имя, поля.
type Entity struct {
	ID          string
	Name        string
	Description string
	Fields      []Field
	// Unique — наборы полей из блока constraints
	Unique [][]string
	// Source — файл:строка объявления
	Source string
}

// Field описывает поле сущности. Key может быть составным ("address.city")
// для полей внутри map.
type Field struct {
	Key      string
	Type     string            // string, number, bool, date, map, enum, ref, array, builder, geopoint
	ElemType string            // для array
	Enum     []string          // значения enum, если поле типа enum
	Catalog  string            // enum[@catalog]
	Target   string            // ref[path]
	Builder  string            // builder[name]
	Options  map[string]string // required, unique, title, min, max, pattern и прочие опции
	Line     int
}
