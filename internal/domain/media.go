package domain

// LocalMedia is the acquired local track set. Links hold the tracks without owning them.
type LocalMedia struct {
	Audio LocalTrack
	Video LocalTrack
}

// Tracks returns the present tracks, audio first.
func (m *LocalMedia) Tracks() []LocalTrack {
	if m == nil {
		return nil
	}
	var out []LocalTrack
	if m.Audio != nil {
		out = append(out, m.Audio)
	}
	if m.Video != nil {
		out = append(out, m.Video)
	}
	return out
}

// Track returns the track of the given kind, or nil.
func (m *LocalMedia) Track(kind MediaKind) LocalTrack {
	if m == nil {
		return nil
	}
	switch kind {
	case MediaAudio:
		return m.Audio
	case MediaVideo:
		return m.Video
	}
	return nil
}

// Enabled reports whether the track of the given kind exists and is enabled.
func (m *LocalMedia) Enabled(kind MediaKind) bool {
	t := m.Track(kind)
	return t != nil && t.Enabled()
}

// Stop stops every track.
func (m *LocalMedia) Stop() {
	for _, t := range m.Tracks() {
		t.Stop()
	}
}
