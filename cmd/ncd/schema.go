package main

import (
	"archive/zip"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ncd/internal/loader"
	"ncd/internal/manifest"
	"ncd/internal/schema"
)

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <archive.zip>",
		Short: "Print the table layouts declared in an archive's README as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zr, err := zip.OpenReader(args[0])
			if err != nil {
				return err
			}
			defer zr.Close()

			schemas, err := readArchiveSchemas(&zr.Reader)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return writeSchemaYAML(cmd.OutOrStdout(), filepath.Base(args[0]), schemas)
		},
	}
}

func readArchiveSchemas(zr *zip.Reader) (schema.Schemas, error) {
	names := make([]string, 0, len(zr.File))
	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
		byName[f.Name] = f
	}
	name, ok := manifest.Find(names, loader.ReadmeName)
	if !ok {
		return nil, loader.ErrMissingReadme
	}
	rc, err := byName[name].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return schema.ParseReadme(schema.DecodeText(b))
}

type schemaDoc struct {
	Archive string     `yaml:"archive"`
	Tables  []tableDoc `yaml:"tables"`
}

type tableDoc struct {
	Table   string      `yaml:"table"`
	Width   int         `yaml:"width"`
	Columns []columnDoc `yaml:"columns"`
}

type columnDoc struct {
	Name    string `yaml:"name"`
	Start   int    `yaml:"start"`
	Length  int    `yaml:"length"`
	Type    string `yaml:"type"`
	Storage string `yaml:"storage"`
}

// writeSchemaYAML renders schemas with the storage type each column maps to.
// Columns with unsupported declared types are shown as UNSUPPORTED.
func writeSchemaYAML(w io.Writer, archive string, schemas schema.Schemas) error {
	doc := schemaDoc{Archive: archive, Tables: make([]tableDoc, 0, len(schemas))}
	for _, ts := range schemas {
		td := tableDoc{Table: ts.Name, Width: ts.Width(), Columns: make([]columnDoc, 0, len(ts.Columns))}
		for _, c := range ts.Columns {
			storage := "UNSUPPORTED"
			if tm, err := schema.MapType(c.DeclaredType); err == nil {
				storage = string(tm.Storage)
			}
			td.Columns = append(td.Columns, columnDoc{
				Name:    c.Name,
				Start:   c.Start,
				Length:  c.Length,
				Type:    c.DeclaredType,
				Storage: storage,
			})
		}
		doc.Tables = append(doc.Tables, td)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
