package catalog

import "time"

// Video is one library entry.
type Video struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Artist          string    `json:"artist"`
	Album           string    `json:"album,omitempty"`
	Year            int       `json:"year,omitempty"`
	Director        string    `json:"director,omitempty"`
	Label           string    `json:"label,omitempty"`
	Genre           string    `json:"genre,omitempty"`
	Description     string    `json:"description,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	ProviderID      string    `json:"provider_id,omitempty"`
	IMVDbID         string    `json:"imvdb_id,omitempty"`
	SourceURL       string    `json:"source_url,omitempty"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	FilePath        string    `json:"file_path,omitempty"`
	FileSize        int64     `json:"file_size,omitempty"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	Width           int       `json:"width,omitempty"`
	Height          int       `json:"height,omitempty"`
	VideoCodec      string    `json:"video_codec,omitempty"`
	AudioCodec      string    `json:"audio_codec,omitempty"`
	Format          string    `json:"format,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ListFilter struct {
	Query  string
	Artist string
	Limit  int
	Offset int
}

// merge copies the non-zero descriptive fields of src over v. Identity and
// timestamps are left alone.
func (v *Video) merge(src *Video) {
	str := func(dst *string, s string) {
		if s != "" {
			*dst = s
		}
	}
	num := func(dst *int, n int) {
		if n != 0 {
			*dst = n
		}
	}
	str(&v.Title, src.Title)
	str(&v.Artist, src.Artist)
	str(&v.Album, src.Album)
	num(&v.Year, src.Year)
	str(&v.Director, src.Director)
	str(&v.Label, src.Label)
	str(&v.Genre, src.Genre)
	str(&v.Description, src.Description)
	str(&v.Provider, src.Provider)
	str(&v.ProviderID, src.ProviderID)
	str(&v.IMVDbID, src.IMVDbID)
	str(&v.SourceURL, src.SourceURL)
	str(&v.ThumbnailURL, src.ThumbnailURL)
	str(&v.FilePath, src.FilePath)
	if src.FileSize != 0 {
		v.FileSize = src.FileSize
	}
	num(&v.DurationSeconds, src.DurationSeconds)
	num(&v.Width, src.Width)
	num(&v.Height, src.Height)
	str(&v.VideoCodec, src.VideoCodec)
	str(&v.AudioCodec, src.AudioCodec)
	str(&v.Format, src.Format)
}
