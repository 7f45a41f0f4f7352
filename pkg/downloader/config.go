package downloader

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// runConfig is the config file the external downloader reads. Field names
// must match the binary's expectations exactly.
type runConfig struct {
	MediaUserToken      string `yaml:"media-user-token"`
	SaveFolder          string `yaml:"alac-save-folder"`
	AtmosSaveFolder     string `yaml:"atmos-save-folder"`
	AlacMax             string `yaml:"alac-max"`
	AtmosMax            string `yaml:"atmos-max"`
	EmbedCover          bool   `yaml:"embed-cover"`
	EmbedLrc            bool   `yaml:"embed-lrc"`
	SaveLrcFile         bool   `yaml:"save-lrc-file"`
	SaveArtistCover     bool   `yaml:"save-artist-cover"`
	SaveAnimatedArtwork bool   `yaml:"save-animated-artwork"`
	CoverSize           string `yaml:"cover-size"`
	CoverFormat         string `yaml:"cover-format"`
	AlbumFolderFormat   string `yaml:"album-folder-format"`
	SongFileFormat      string `yaml:"song-file-format"`
}

// writeRunConfig renders the per-run config.yaml into dir so concurrent
// jobs never share output folders or quality settings.
func writeRunConfig(path, dir string, cfg Config) error {
	rc := runConfig{
		SaveFolder:        filepath.Join(dir, "downloads"),
		AtmosSaveFolder:   filepath.Join(dir, "downloads"),
		AlacMax:           cfg.AlacQuality,
		AtmosMax:          cfg.AtmosQuality,
		EmbedCover:        true,
		EmbedLrc:          true,
		SaveLrcFile:       false,
		SaveArtistCover:   false,
		CoverSize:         "5000x5000",
		CoverFormat:       "jpg",
		AlbumFolderFormat: "{AlbumName}",
		SongFileFormat:    "{SongNumer}. {SongName}",
	}
	data, err := yaml.Marshal(rc)
	if err != nil {
		return fmt.Errorf("marshal downloader config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write downloader config: %w", err)
	}
	return nil
}
