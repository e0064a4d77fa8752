package relation

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/relcore/src/query"
)

// Relation files are CSV with a typed header: every header field is
// "name:kind", e.g. "id:int64,name:string".

func headerField(c query.Column) string {
	return c.Name + ":" + string(c.Kind)
}

func parseHeader(fields []string) (query.Schema, error) {
	schema := make(query.Schema, 0, len(fields))
	for _, f := range fields {
		name, kind, ok := strings.Cut(f, ":")
		if !ok || name == "" {
			return nil, errors.Errorf("malformed header field %q, expected name:kind", f)
		}
		k, err := query.ParseKind(kind)
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", name)
		}
		schema = append(schema, query.Column{Name: name, Kind: k})
	}
	return schema, nil
}

func writeRelation(fs afero.Fs, path string, schema query.Schema, records []query.Record) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(schema))
	for i, c := range schema {
		header[i] = headerField(c)
	}
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "failed to write header")
	}

	row := make([]string, len(schema))
	for _, r := range records {
		for i, v := range r {
			row[i] = v.String()
		}
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "failed to write record")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "failed to flush records")
	}

	return writeFile(fs, path, buf.Bytes())
}

func readSchema(fs afero.Fs, path string) (_ query.Schema, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}
	return parseHeader(header)
}

func readRelation(fs afero.Fs, path string) (_ query.Schema, _ []query.Record, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read header")
	}
	schema, err := parseHeader(header)
	if err != nil {
		return nil, nil, err
	}
	r.FieldsPerRecord = len(schema)

	var records []query.Record
	for line := 2; ; line++ {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "line %d", line)
		}

		rec := make(query.Record, len(fields))
		for i, f := range fields {
			rec[i], err = query.ParseDataBox(schema[i].Kind, f)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "line %d, column %q", line, schema[i].Name)
			}
		}
		records = append(records, rec)
	}

	return schema, records, nil
}
