package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
)

// Mode selects where samples come from.
type Mode string

const (
	// ModeSilence sends Opus silence and an idle video track.
	ModeSilence Mode = "silence"
	// ModeFile loops an Ogg/Opus file and an IVF/VP8 file.
	ModeFile Mode = "file"
)

const (
	opusFrame       = 20 * time.Millisecond
	opusSampleRate  = 48000
	defaultFrameGap = 33 * time.Millisecond
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var (
	opusCodec = pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2}
	vp8Codec  = pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000}
)

// Config selects the source mode and its files.
type Config struct {
	Mode      Mode
	AudioFile string
	VideoFile string
}

// Source implements domain.MediaSource without capture devices.
type Source struct {
	cfg Config
	log zerolog.Logger
}

// NewSource validates cfg and returns a source.
func NewSource(cfg Config, logger zerolog.Logger) (*Source, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeSilence
	}
	switch cfg.Mode {
	case ModeSilence:
	case ModeFile:
		if cfg.AudioFile == "" && cfg.VideoFile == "" {
			return nil, errors.New("file media needs audio_file or video_file")
		}
	default:
		return nil, fmt.Errorf("unknown media mode %q", cfg.Mode)
	}
	return &Source{cfg: cfg, log: logger.With().Str("module", "media").Logger()}, nil
}

// Acquire creates the audio and video tracks and starts writing samples.
// The writers end when the tracks are stopped.
func (s *Source) Acquire(ctx context.Context) (*domain.LocalMedia, error) {
	if s.cfg.Mode == ModeFile {
		for _, path := range []string{s.cfg.AudioFile, s.cfg.VideoFile} {
			if path == "" {
				continue
			}
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("open media file: %w", err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "meshcall-" + uuid.NewString()
	audio, err := newTrack(domain.MediaAudio, opusCodec, streamID)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := newTrack(domain.MediaVideo, vp8Codec, streamID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	if s.cfg.Mode == ModeFile && s.cfg.AudioFile != "" {
		go s.loop(audio, s.cfg.AudioFile, playOgg)
	} else {
		go writeSilence(audio)
	}
	if s.cfg.Mode == ModeFile && s.cfg.VideoFile != "" {
		go s.loop(video, s.cfg.VideoFile, playIVF)
	}

	s.log.Info().Str("mode", string(s.cfg.Mode)).Str("stream", streamID).Msg("local media ready")
	return &domain.LocalMedia{Audio: audio, Video: video}, nil
}

func writeSilence(t *Track) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-t.Done():
			return
		case <-ticker.C:
			_ = t.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: opusFrame})
		}
	}
}

type player func(r io.Reader, t *Track) error

// loop replays path until the track stops or the file cannot be played.
func (s *Source) loop(t *Track, path string, play player) {
	log := s.log.With().Str("kind", string(t.Kind())).Str("file", path).Logger()
	for {
		f, err := os.Open(path)
		if err != nil {
			log.Error().Err(err).Msg("open media file")
			return
		}
		err = play(f, t)
		f.Close()
		if errors.Is(err, errTrackStopped) {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			log.Error().Err(err).Msg("play media file")
			return
		}
		log.Debug().Msg("looping media file")
	}
}

var errTrackStopped = errors.New("track stopped")

func playOgg(r io.Reader, t *Track) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("read ogg header: %w", err)
	}

	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	var lastGranule uint64
	for {
		if t.stopped() {
			return errTrackStopped
		}
		page, header, err := ogg.ParseNextPage()
		if err != nil {
			return err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(samples) * time.Second / opusSampleRate

		if err := t.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
		select {
		case <-t.Done():
			return errTrackStopped
		case <-ticker.C:
		}
	}
}

func playIVF(r io.Reader, t *Track) error {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}

	gap := defaultFrameGap
	if header.TimebaseDenominator > 0 {
		gap = time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
	}
	if gap <= 0 {
		gap = defaultFrameGap
	}

	ticker := time.NewTicker(gap)
	defer ticker.Stop()
	for {
		if t.stopped() {
			return errTrackStopped
		}
		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return err
		}
		if err := t.WriteSample(pionmedia.Sample{Data: frame, Duration: gap}); err != nil {
			return err
		}
		select {
		case <-t.Done():
			return errTrackStopped
		case <-ticker.C:
		}
	}
}

var _ domain.MediaSource = (*Source)(nil)
