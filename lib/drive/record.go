// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package drive

import (
	"encoding/base64"
	"encoding/json"
	"maps"
	"path"
	"strings"
)

// Content types reported in FileRecord.Type.
const (
	TypeImage = "image"
	TypeHEIC  = "heic"
	TypeHEIF  = "heif"
	TypePDF   = "pdf"
	TypeText  = "text"
)

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
	"bmp": true, "svg": true, "ico": true, "tiff": true, "tif": true,
}

// FileRecord is a file as reported to consumers. It marshals as one
// flat JSON object.
type FileRecord struct {
	Type string

	// Content is base64 when IsBinary, otherwise the text itself.
	Content string

	// Filename is the file's key.
	Filename string

	IsBinary bool

	// Fields carries the members of a self-described record that the
	// named fields cannot hold: members with other names, and type,
	// content, filename, or isBinary when their JSON value has a
	// different type. Marshaling writes them inline, over the named
	// fields. Nil for records decoded from plain files.
	Fields map[string]json.RawMessage
}

// MarshalJSON writes the named fields and Fields as one object.
func (r FileRecord) MarshalJSON() ([]byte, error) {
	object := make(map[string]any, 4+len(r.Fields))
	object["type"] = r.Type
	object["content"] = r.Content
	object["filename"] = r.Filename
	if r.IsBinary {
		object["isBinary"] = true
	}
	for name, value := range r.Fields {
		object[name] = value
	}
	return json.Marshal(object)
}

// UnmarshalJSON fills the named fields from members of the matching
// JSON type and keeps every other member in Fields.
func (r *FileRecord) UnmarshalJSON(data []byte) error {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}
	*r = recordFromObject(object)
	return nil
}

func recordFromObject(object map[string]json.RawMessage) FileRecord {
	var record FileRecord
	rest := maps.Clone(object)
	take := func(name string, target any) {
		raw, ok := rest[name]
		if !ok {
			return
		}
		if err := json.Unmarshal(raw, target); err == nil && string(raw) != "null" {
			delete(rest, name)
		}
	}
	take("type", &record.Type)
	take("content", &record.Content)
	take("filename", &record.Filename)
	take("isBinary", &record.IsBinary)
	if len(rest) > 0 {
		record.Fields = rest
	}
	return record
}

// Classify returns the content type for a file name and whether the
// type is carried as binary. Names with no extension or one outside
// the image, HEIC/HEIF and PDF sets are text.
func Classify(name string) (fileType string, binary bool) {
	extension := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	switch {
	case extension == "heic":
		return TypeHEIC, true
	case extension == "heif":
		return TypeHEIF, true
	case imageExtensions[extension]:
		return TypeImage, true
	case extension == "pdf":
		return TypePDF, true
	default:
		return TypeText, false
	}
}

// DecodeFile builds the record for a file's contents.
func DecodeFile(key string, data []byte) FileRecord {
	fileType, binary := Classify(key)
	if binary {
		return FileRecord{
			Type:     fileType,
			Content:  base64.StdEncoding.EncodeToString(data),
			Filename: key,
			IsBinary: true,
		}
	}
	if record, ok := selfDescribed(key, data); ok {
		return record
	}
	return FileRecord{Type: TypeText, Content: string(data), Filename: key}
}

// selfDescribed unwraps a JSON object carrying its own type and
// content members, whatever their JSON types. Every member of the
// object is kept; the outer filename applies only when the object has
// none.
func selfDescribed(key string, data []byte) (FileRecord, bool) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return FileRecord{}, false
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &object); err != nil {
		return FileRecord{}, false
	}
	if _, ok := object["type"]; !ok {
		return FileRecord{}, false
	}
	if _, ok := object["content"]; !ok {
		return FileRecord{}, false
	}
	record := recordFromObject(object)
	if _, ok := object["filename"]; !ok {
		record.Filename = key
	}
	return record, true
}
