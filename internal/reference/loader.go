package reference

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadEnumCatalog читает все enum-справочники из папки. Отсутствующая
// папка — пустой каталог.
func LoadEnumCatalog(dir string) (Catalog, error) {
	result := make(Catalog)
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if file.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var enumDir EnumDirectory
		if err := yaml.Unmarshal(data, &enumDir); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		// Имя справочника — из enumDir.Name или из имени файла
		if enumDir.Name == "" {
			enumDir.Name = strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		}
		if _, dup := result[enumDir.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate enum catalog %q", path, enumDir.Name)
		}
		result[enumDir.Name] = enumDir
	}
	return result, nil
}
