package tag

// MediaInfo is the structural description delivered once at the head of a
// stream and cached by source elements keyed on file path.
type MediaInfo struct {
	CodecAudio string
	CodecVideo string
	Width      int
	Height     int
	SampleRate int
	DurationMs int64
	MoovBlob   []byte
}

func (m *MediaInfo) Clone() *MediaInfo {
	if m == nil {
		return nil
	}
	c := *m
	if m.MoovBlob != nil {
		c.MoovBlob = append([]byte(nil), m.MoovBlob...)
	}
	return &c
}

// MediaInfoPayload is the Payload carried by a KindMediaInfo tag. Splitters
// that parse a container header (the F4V demuxer) wrap the result in this
// type so source elements can recognize and cache it without depending on
// the splitter's concrete package.
type MediaInfoPayload struct {
	Info *MediaInfo
}

func (p *MediaInfoPayload) Clone() Payload { return &MediaInfoPayload{Info: p.Info.Clone()} }
