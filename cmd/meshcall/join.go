package main

import (
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"meshcall/native/internal/api"
	"meshcall/native/internal/config"
	"meshcall/native/internal/logging"
	"meshcall/native/internal/media"
	"meshcall/native/internal/peerlink"
	"meshcall/native/internal/session"
	"meshcall/native/internal/signal"
	"meshcall/native/internal/ui"
	"meshcall/native/internal/webrtc"
)

func newJoinCmd(load func(*pflag.FlagSet) (*viper.Viper, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room and connect to every participant",
		Example: `  meshcall join --room abc123 --name alice
  meshcall join --room abc123 --name bob --media file --video-file clip.ivf --plain`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := load(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.LoadClient(v)
			if err != nil {
				return err
			}
			return runJoin(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.String("room", "", "room to join")
	f.String("name", "", "display name")
	f.String("signal-url", "", "relay websocket URL")
	f.StringSlice("stun", nil, "STUN server URLs")
	f.String("turn", "", "TURN server URL")
	f.String("turn-user", "", "TURN username")
	f.String("turn-pass", "", "TURN password")
	f.Bool("force-relay", false, "only use TURN candidates")
	f.Bool("ice-from-server", false, "fetch ICE servers from the relay")
	f.Bool("filter-loopback", false, "do not signal loopback candidates")
	f.String("codec", "", "signaling frame codec: json or msgpack")
	f.String("media", "", "media source: silence or file")
	f.String("audio-file", "", "Ogg/Opus file to loop")
	f.String("video-file", "", "IVF/VP8 file to loop")
	f.Int("reconnect-attempts", 0, "signaling reconnect attempts")
	f.String("log-level", "", "debug, info, warn, error or none")
	f.String("log-format", "", "console or json")
	f.Bool("plain", false, "print updates instead of the interactive roster")
	return cmd
}

func runJoin(cmd *cobra.Command, cfg *config.Client) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	log = log.With().Str("module", "main").Logger()

	ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Step 1: ICE servers
	servers := cfg.ICEServers()
	if cfg.ICEFromServer {
		base, err := api.BaseURLFromSignal(cfg.SignalURL)
		if err != nil {
			return err
		}
		fetched, err := api.NewClient(base, log).FetchICEServers(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("using configured ICE servers")
		} else {
			servers = fetched
		}
	}

	// Step 2: peer connection factory
	factory, err := webrtc.NewFactory(webrtc.Options{
		ICEServers:     servers,
		ForceRelay:     cfg.ForceRelay,
		FilterLoopback: cfg.FilterLoopback,
	}, log)
	if err != nil {
		return err
	}

	// Step 3: local media
	source, err := media.NewSource(media.Config{
		Mode:      media.Mode(cfg.Media),
		AudioFile: cfg.AudioFile,
		VideoFile: cfg.VideoFile,
	}, log)
	if err != nil {
		return err
	}

	// Step 4: session (implements domain.Handler)
	sess := session.New(session.Options{
		RoomID:   cfg.Room,
		UserName: cfg.Name,
		Links: peerlink.Options{
			DisconnectGrace: cfg.DisconnectGrace,
			RetryTimeout:    cfg.RetryTimeout,
		},
	}, source, factory, log)

	// Step 5: signal client with the session as handler
	codec, err := signal.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}
	sc := signal.NewClient(signal.Config{
		URL:               cfg.SignalURL,
		Codec:             codec,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectDelayMax: cfg.ReconnectDelayMax,
	}, sess, log)

	// Step 6: complete the circular dependency
	sess.SetSignaler(sc)

	// Step 7: run the event loop
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	// Step 8: acquire media, connect and join
	log.Info().Str("room", cfg.Room).Str("relay", cfg.SignalURL).Msg("joining")
	if err := sess.Join(ctx); err != nil {
		sess.Leave()
		if fatal := <-runErr; fatal != nil {
			return fatal
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	// Step 9: present the call until the user leaves or the session ends
	if cfg.Plain {
		ui.Plain(ctx, sess, cmd.OutOrStdout())
	} else if err := ui.Run(ctx, sess); err != nil {
		log.Error().Err(err).Msg("ui")
	}

	sess.Leave()
	err = <-runErr
	log.Info().Msg("done")
	return err
}
