package docstore

import (
	"fmt"

	"github.com/goccy/go-json"

	"camstore/internal/model"
)

// snapshotJSON is the persisted shape of a backup document.
type snapshotJSON struct {
	Files model.Collection    `json:"files"`
	Info  *model.SnapshotInfo `json:"info"`
}

// encode serializes a document. Backup documents carry a files/info
// envelope; the others are the bare id -> entry map.
func encode(key model.Key, doc *model.Document) ([]byte, error) {
	files := doc.Files
	if files == nil {
		files = model.Collection{}
	}
	if key.Kind == model.KindBackup {
		return json.MarshalIndent(snapshotJSON{Files: files, Info: doc.Info}, "", "  ")
	}
	return json.MarshalIndent(files, "", "  ")
}

// decode parses a document. Map keys are authoritative for entry ids and
// null entries are dropped.
func decode(key model.Key, data []byte) (*model.Document, error) {
	doc := model.NewDocument()
	if key.Kind == model.KindBackup {
		var snap snapshotJSON
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
		doc.Files = snap.Files
		doc.Info = snap.Info
	} else if err := json.Unmarshal(data, &doc.Files); err != nil {
		return nil, fmt.Errorf("decoding collection: %w", err)
	}

	if doc.Files == nil {
		doc.Files = model.Collection{}
	}
	for id, e := range doc.Files {
		if e == nil {
			delete(doc.Files, id)
			continue
		}
		e.ID = id
	}
	return doc, nil
}
