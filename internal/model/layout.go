package model

import "path/filepath"

// Layout maps collection keys to directories on disk. Blobs and the
// document of a collection live in the same directory.
//
//	<images_dir>/images.json
//	<videos_dir>/videos.json
//	<archive_dir>/<YYYYMMDD>/backup.json
type Layout struct {
	ImagesDir  string
	VideosDir  string
	ArchiveDir string
}

// Dir returns the directory holding the blobs of key.
func (l Layout) Dir(k Key) string {
	switch k.Kind {
	case KindImages:
		return l.ImagesDir
	case KindVideos:
		return l.VideosDir
	default:
		return filepath.Join(l.ArchiveDir, k.Date)
	}
}

// DocumentPath returns the path of the JSON document for key.
func (l Layout) DocumentPath(k Key) string {
	return filepath.Join(l.Dir(k), DocumentName(k.Kind))
}

// DocumentName returns the filename of a collection's document.
func DocumentName(kind Kind) string {
	if kind == KindBackup {
		return backupDocName
	}
	return string(kind) + documentExt
}
