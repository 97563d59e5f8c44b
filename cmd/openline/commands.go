package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openline-chat/openline/pkg/backend"
	"github.com/openline-chat/openline/pkg/chatsync"
	"github.com/openline-chat/openline/pkg/clientstate"
	"github.com/openline-chat/openline/pkg/config"
	"github.com/openline-chat/openline/pkg/statebus"
	"github.com/openline-chat/openline/pkg/wstransport"
)

func loadSettings() (config.Settings, error) {
	settings, err := config.Load(flagConfig)
	if err != nil {
		return config.Settings{}, err
	}
	if flagLogLevel == "" && settings.LogLevel != "" {
		if parsed, err := zerolog.ParseLevel(settings.LogLevel); err == nil {
			zerolog.SetGlobalLevel(parsed)
		}
	}
	return settings, nil
}

func openStateStore(settings config.Settings) (clientstate.Store, error) {
	if settings.State.Path == "" {
		return clientstate.NewMemoryStore(), nil
	}
	return clientstate.NewSQLiteStore(settings.State.Path)
}

func newLoginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the backing store and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			client, err := backend.New(backend.Config{BaseURL: settings.Server.BaseURL, Logger: log.Logger})
			if err != nil {
				return err
			}
			self, err := client.Login(cmd.Context(), email, password)
			if err != nil {
				return errors.Wrap(err, "login")
			}
			states, err := openStateStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = states.Close() }()
			if err := states.SaveSession(cmd.Context(), self); err != nil {
				return errors.Wrap(err, "persist session")
			}
			fmt.Printf("logged in as %s (%s)\n", self.Name, self.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCommand() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			client, err := backend.New(backend.Config{BaseURL: settings.Server.BaseURL, Logger: log.Logger})
			if err != nil {
				return err
			}
			self, err := client.Register(cmd.Context(), name, email, password)
			if err != nil {
				return errors.Wrap(err, "register")
			}
			states, err := openStateStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = states.Close() }()
			if err := states.SaveSession(cmd.Context(), self); err != nil {
				return errors.Wrap(err, "persist session")
			}
			fmt.Printf("registered as %s (%s)\n", self.Name, self.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			states, err := openStateStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = states.Close() }()
			if err := states.ClearSession(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("logged out")
			return nil
		},
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine with the stored session until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			return runEngine(cmd.Context(), settings)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			if info, ok := debug.ReadBuildInfo(); ok {
				fmt.Println(info.Main.Path, info.Main.Version)
				return
			}
			fmt.Println("openline (unknown version)")
		},
	}
}

func runEngine(parent context.Context, settings config.Settings) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	states, err := openStateStore(settings)
	if err != nil {
		return err
	}
	defer func() { _ = states.Close() }()

	self, ok, err := states.LoadSession(ctx)
	if err != nil {
		return errors.Wrap(err, "load session")
	}
	if !ok {
		return errors.New("no stored session; run `openline login` first")
	}

	client, err := backend.New(backend.Config{
		BaseURL: settings.Server.BaseURL,
		Timeout: settings.Server.Timeout,
		Token:   backend.StaticToken(self.Token),
		Logger:  log.Logger,
	})
	if err != nil {
		return err
	}

	bus, err := statebus.New(statebus.Settings{
		RedisEnabled: settings.Redis.Enabled,
		Addr:         settings.Redis.Addr,
		Group:        settings.Redis.Group,
		Consumer:     settings.Redis.Consumer,
	}, log.Logger)
	if err != nil {
		return errors.Wrap(err, "build state bus")
	}
	defer func() { _ = bus.Close() }()

	topic := statebus.TopicForUser(self.ID)
	publisher, err := statebus.NewFramePublisher(bus, topic)
	if err != nil {
		return err
	}

	engine, err := chatsync.NewEngine(chatsync.EngineConfig{
		Backend:      client,
		Publisher:    publisher,
		TypingWindow: settings.Typing.Window,
		Logger:       log.Logger,
	})
	if err != nil {
		return err
	}

	sessions, err := chatsync.NewSessionManager(chatsync.SessionManagerConfig{
		Engine:   engine,
		Sessions: states,
		Logger:   log.Logger,
		Transport: func(chatsync.Identity) chatsync.Transport {
			channel, err := wstransport.New(wstransport.Config{
				URL:              settings.Socket.URL,
				HandshakeTimeout: settings.Socket.HandshakeTimeout,
				Reconnect: wstransport.ReconnectPolicy{
					Enabled:     settings.Socket.Reconnect.Enabled,
					BaseDelay:   settings.Socket.Reconnect.BaseDelay,
					MaxDelay:    settings.Socket.Reconnect.MaxDelay,
					Jitter:      settings.Socket.Reconnect.Jitter,
					MaxAttempts: settings.Socket.Reconnect.MaxAttempts,
				},
				Logger: log.Logger,
			})
			if err != nil {
				log.Error().Err(err).Msg("channel construction failed")
				return nil
			}
			return channel
		},
	})
	if err != nil {
		return err
	}

	// Subscribe before login so no frame from the initial sync is missed.
	frames, err := bus.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrap(err, "subscribe state topic")
	}

	if err := sessions.Login(ctx, self); err != nil {
		if !errors.Is(err, chatsync.ErrTransportUnavailable) {
			return errors.Wrap(err, "login")
		}
		log.Warn().Msg("live channel unavailable, continuing REST-only")
	}
	defer sessions.Disconnect()

	if err := engine.RefreshChats(ctx); err != nil {
		return err
	}
	log.Info().Int("conversations", len(engine.Conversations())).Msg("initial sync complete")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		for {
			select {
			case <-egCtx.Done():
				return nil
			case msg, ok := <-frames:
				if !ok {
					return nil
				}
				frame, err := statebus.DecodeFrame(msg)
				msg.Ack()
				if err != nil {
					log.Warn().Err(err).Msg("bad state frame")
					continue
				}
				log.Info().
					Str("frame_type", frame.Type).
					Time("at", frame.At).
					Interface("payload", frame.Payload).
					Msg("state")
			}
		}
	})
	return eg.Wait()
}
