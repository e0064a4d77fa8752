package relation

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/relcore/src/pkg/common"
	"github.com/Blackdeer1524/relcore/src/query"
)

type manifest struct {
	MaxTableID uint64
	Tables     []tableMeta
}

func (m manifest) encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("max_table_id")
	e.UInt64(m.MaxTableID)
	e.FieldStart("tables")
	e.ArrStart()
	for _, t := range m.Tables {
		e.ObjStart()
		e.FieldStart("id")
		e.UInt64(uint64(t.ID))
		e.FieldStart("name")
		e.Str(t.Name)
		e.FieldStart("file")
		e.Str(t.File)
		e.FieldStart("columns")
		e.ArrStart()
		for _, c := range t.Schema {
			e.ObjStart()
			e.FieldStart("name")
			e.Str(c.Name)
			e.FieldStart("kind")
			e.Str(string(c.Kind))
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func writeManifest(fs afero.Fs, path string, m manifest) error {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.SetIdent(2)
	m.encode(e)
	return writeFile(fs, path, e.Bytes())
}

func decodeManifest(data []byte) (manifest, error) {
	var m manifest

	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "max_table_id":
			v, err := d.UInt64()
			m.MaxTableID = v
			return err
		case "tables":
			return d.Arr(func(d *jx.Decoder) error {
				t, err := decodeTable(d)
				if err != nil {
					return err
				}
				m.Tables = append(m.Tables, t)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return manifest{}, err
	}
	return m, nil
}

func decodeTable(d *jx.Decoder) (tableMeta, error) {
	var t tableMeta

	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			var id uint64
			id, err = d.UInt64()
			t.ID = common.TableID(id)
		case "name":
			t.Name, err = d.Str()
		case "file":
			t.File, err = d.Str()
		case "columns":
			err = d.Arr(func(d *jx.Decoder) error {
				c, err := decodeColumn(d)
				if err != nil {
					return err
				}
				t.Schema = append(t.Schema, c)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return tableMeta{}, err
	}
	if t.Name == "" || t.File == "" {
		return tableMeta{}, errors.New("table entry without name or file")
	}
	return t, nil
}

func decodeColumn(d *jx.Decoder) (query.Column, error) {
	var c query.Column

	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "name":
			v, err := d.Str()
			c.Name = v
			return err
		case "kind":
			v, err := d.Str()
			if err != nil {
				return err
			}
			c.Kind, err = query.ParseKind(v)
			return err
		default:
			return d.Skip()
		}
	})
	return c, err
}
