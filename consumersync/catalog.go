package consumersync

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Catalog format identifiers, matching the repostate.Link.CatalogFormat
// values set when a package is first linked through a catalog.
const (
	CatalogFormatPackageJSON = "package.json.catalog"
	CatalogFormatCatalogs    = "package.json.catalogs"
	CatalogFormatPnpmYAML    = "pnpm-workspace.yaml"
)

// DetectCatalogRoot reports whether repoRoot recognizes a catalog at all,
// and in which format, so the write phase knows whether to target a
// manifest or a catalog entry for a given dependency.
func DetectCatalogRoot(repoRoot string) (format string, ok bool) {
	if _, err := os.Stat(filepath.Join(repoRoot, "pnpm-workspace.yaml")); err == nil {
		data, err := os.ReadFile(filepath.Join(repoRoot, "pnpm-workspace.yaml"))
		if err == nil {
			var doc pnpmWorkspaceDoc
			if yaml.Unmarshal(data, &doc) == nil && (len(doc.Catalog) > 0 || len(doc.Catalogs) > 0) {
				return CatalogFormatPnpmYAML, true
			}
		}
	}

	doc, _, err := readManifest(filepath.Join(repoRoot, "package.json"))
	if err != nil {
		return "", false
	}
	if _, ok := doc["catalog"].(map[string]interface{}); ok {
		return CatalogFormatPackageJSON, true
	}
	if _, ok := doc["catalogs"].(map[string]interface{}); ok {
		return CatalogFormatCatalogs, true
	}
	return "", false
}

type pnpmWorkspaceDoc struct {
	Packages []string                     `yaml:"packages,omitempty"`
	Catalog  map[string]string            `yaml:"catalog,omitempty"`
	Catalogs map[string]map[string]string `yaml:"catalogs,omitempty"`
}

// rewriteCatalogEntry sets depName to newVersion within the named catalog,
// in whichever of the three recognized formats format names, returning the
// prior value as a writeOp for rollback. catalogName is "default" (or "")
// for the single package.json.catalog / pnpm-workspace.yaml top-level
// catalog; for the "catalogs" forms it selects catalogs[catalogName].
func rewriteCatalogEntry(repoRoot, format, catalogName, depName, newVersion string) (writeOp, error) {
	switch format {
	case CatalogFormatPackageJSON, CatalogFormatCatalogs, "":
		return rewritePackageJSONCatalog(repoRoot, format, catalogName, depName, newVersion)
	case CatalogFormatPnpmYAML:
		return rewritePnpmWorkspaceCatalog(repoRoot, catalogName, depName, newVersion)
	default:
		return writeOp{}, fmt.Errorf("consumersync: unknown catalog format %q", format)
	}
}

func rewritePackageJSONCatalog(repoRoot, format, catalogName, depName, newVersion string) (writeOp, error) {
	path := filepath.Join(repoRoot, "package.json")
	doc, raw, err := readManifest(path)
	if err != nil {
		return writeOp{}, err
	}

	op := writeOp{path: path, depName: depName, catalog: true, format: format, catalogName: catalogName}

	if format == CatalogFormatCatalogs || (format == "" && catalogName != "" && catalogName != "default") {
		catalogs, ok := doc["catalogs"].(map[string]interface{})
		if !ok {
			catalogs = map[string]interface{}{}
			doc["catalogs"] = catalogs
		}
		named, ok := catalogs[catalogName].(map[string]interface{})
		if !ok {
			named = map[string]interface{}{}
			catalogs[catalogName] = named
		}
		if v, ok := named[depName].(string); ok {
			op.existed = true
			op.original = v
		}
		named[depName] = newVersion
		return op, writeManifest(path, doc, raw)
	}

	catalog, ok := doc["catalog"].(map[string]interface{})
	if !ok {
		catalog = map[string]interface{}{}
		doc["catalog"] = catalog
	}
	if v, ok := catalog[depName].(string); ok {
		op.existed = true
		op.original = v
	}
	catalog[depName] = newVersion
	return op, writeManifest(path, doc, raw)
}

// rewritePnpmWorkspaceCatalog rewrites pnpm-workspace.yaml's catalog (or
// catalogs[catalogName]) entry in place, preserving comments and key order
// by round-tripping through yaml.Node rather than the typed struct, the
// same approach depgraph.Discover avoids needing since it only reads.
func rewritePnpmWorkspaceCatalog(repoRoot, catalogName, depName, newVersion string) (writeOp, error) {
	path := filepath.Join(repoRoot, "pnpm-workspace.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return writeOp{}, fmt.Errorf("consumersync: read %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return writeOp{}, fmt.Errorf("consumersync: parse %s: %w", path, err)
	}
	if len(root.Content) == 0 {
		return writeOp{}, fmt.Errorf("consumersync: empty %s", path)
	}
	doc := root.Content[0]

	key := "catalog"
	if catalogName != "" && catalogName != "default" {
		key = "catalogs"
	}

	mapNode := findMappingValue(doc, key)
	if mapNode == nil {
		return writeOp{}, fmt.Errorf("consumersync: %s has no %q section", path, key)
	}
	if key == "catalogs" {
		named := findMappingValue(mapNode, catalogName)
		if named == nil {
			return writeOp{}, fmt.Errorf("consumersync: %s has no catalogs[%s]", path, catalogName)
		}
		mapNode = named
	}

	op := writeOp{path: path, depName: depName, catalog: true, format: CatalogFormatPnpmYAML, catalogName: catalogName}
	valueNode := findMappingValue(mapNode, depName)
	if valueNode != nil {
		op.existed = true
		op.original = valueNode.Value
		valueNode.Value = newVersion
	} else {
		mapNode.Content = append(mapNode.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: depName},
			&yaml.Node{Kind: yaml.ScalarNode, Value: newVersion},
		)
	}

	out, err := yaml.Marshal(&root)
	if err != nil {
		return writeOp{}, err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return writeOp{}, fmt.Errorf("consumersync: write temp %s: %w", tmp, err)
	}
	return op, os.Rename(tmp, path)
}

// removeCatalogEntry deletes depName from the named catalog, used by
// rollbackWrites when the sync added a catalog entry that did not exist
// before (so restoring means removing it, not writing back an empty value).
func removeCatalogEntry(repoRoot, format, catalogName, depName string) error {
	switch format {
	case CatalogFormatPnpmYAML:
		path := filepath.Join(repoRoot, "pnpm-workspace.yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("consumersync: read %s: %w", path, err)
		}
		var root yaml.Node
		if err := yaml.Unmarshal(data, &root); err != nil || len(root.Content) == 0 {
			return fmt.Errorf("consumersync: parse %s: %w", path, err)
		}
		doc := root.Content[0]
		key := "catalog"
		if catalogName != "" && catalogName != "default" {
			key = "catalogs"
		}
		mapNode := findMappingValue(doc, key)
		if mapNode == nil {
			return nil
		}
		if key == "catalogs" {
			named := findMappingValue(mapNode, catalogName)
			if named == nil {
				return nil
			}
			mapNode = named
		}
		removeMappingKey(mapNode, depName)

		out, err := yaml.Marshal(&root)
		if err != nil {
			return err
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, out, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, path)

	default:
		path := filepath.Join(repoRoot, "package.json")
		doc, raw, err := readManifest(path)
		if err != nil {
			return err
		}
		field := "catalog"
		if format == CatalogFormatCatalogs || (format == "" && catalogName != "" && catalogName != "default") {
			catalogs, ok := doc["catalogs"].(map[string]interface{})
			if !ok {
				return nil
			}
			named, ok := catalogs[catalogName].(map[string]interface{})
			if !ok {
				return nil
			}
			delete(named, depName)
			return writeManifest(path, doc, raw)
		}
		catalog, ok := doc[field].(map[string]interface{})
		if !ok {
			return nil
		}
		delete(catalog, depName)
		return writeManifest(path, doc, raw)
	}
}

// removeMappingKey deletes key (and its paired value) from a YAML mapping
// node in place.
func removeMappingKey(mapping *yaml.Node, key string) {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content = append(mapping.Content[:i], mapping.Content[i+2:]...)
			return
		}
	}
}

// findMappingValue returns the value node paired with key in a YAML mapping
// node, or nil.
func findMappingValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
