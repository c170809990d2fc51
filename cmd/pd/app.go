package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"net/http/cookiejar"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/paperdeck/internal/auth"
	"github.com/zulandar/paperdeck/internal/authserver"
	"github.com/zulandar/paperdeck/internal/config"
	"github.com/zulandar/paperdeck/internal/conversation"
	"github.com/zulandar/paperdeck/internal/db"
	"github.com/zulandar/paperdeck/internal/engine"
	"github.com/zulandar/paperdeck/internal/pipeline"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

// defaultLogOutput is where the standard logger writes after an app closes.
var defaultLogOutput io.Writer = os.Stderr

// app is the wired set of components a command runs against.
type app struct {
	cfg    *config.Config
	db     *gorm.DB
	engine *engine.Engine
	poller *auth.Poller
	oauth  *authserver.Manager // set when the built-in OAuth backend is enabled

	closeLog func()
}

type appOpts struct {
	// localAuth serves the OAuth endpoints in-process when
	// auth_server.enabled is set.
	localAuth bool
	// logOut receives log output when no log file is configured.
	logOut io.Writer
}

// loadConfig reads the config file. A missing file at the default path is
// not an error; built-in defaults are used instead.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func newApp(cfg *config.Config, opts appOpts) (*app, error) {
	a := &app{cfg: cfg}
	a.closeLog = setupLogging(cfg.Log, opts.logOut)

	// One cookie jar so the session cookie set by the auth backend rides
	// along on pipeline requests and the progress websocket.
	jar, err := cookiejar.New(nil)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	hc := &http.Client{Timeout: cfg.Server.Timeout, Jar: jar}

	var backend auth.Backend
	if opts.localAuth && cfg.AuthServer.Enabled {
		m, err := authserver.New(authserver.Opts{
			ClientID:     cfg.AuthServer.ClientID,
			AuthorizeURL: cfg.AuthServer.AuthorizeURL,
			TokenURL:     cfg.AuthServer.TokenURL,
			RedirectURL:  cfg.AuthServer.RedirectURL,
			Scopes:       cfg.AuthServer.Scopes,
		})
		if err != nil {
			a.close()
			return nil, err
		}
		a.oauth = m
		backend = authserver.NewBackend(m)
	} else {
		c, err := auth.NewClient(auth.ClientOpts{BaseURL: cfg.Server.BaseURL, HTTPClient: hc})
		if err != nil {
			a.close()
			return nil, err
		}
		backend = c
	}

	sched, err := cfg.PollSchedule()
	if err != nil {
		a.close()
		return nil, err
	}
	a.poller, err = auth.NewPoller(auth.PollerOpts{
		Backend:      backend,
		Schedule:     sched,
		CheckTimeout: cfg.Server.Timeout,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	pc, err := pipeline.NewClient(pipeline.ClientOpts{
		BaseURL:     cfg.Server.BaseURL,
		HTTPClient:  hc,
		Timeout:     cfg.Server.Timeout,
		MaxAttempts: cfg.Upload.MaxAttempts,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.db, err = db.Open(cfg.Store.DSN)
	if err != nil {
		a.close()
		return nil, err
	}
	convLog, err := conversation.NewLog(conversation.LogOpts{DB: a.db})
	if err != nil {
		a.close()
		return nil, err
	}

	a.engine, err = engine.New(engine.Opts{
		Log:          convLog,
		Pipeline:     pc,
		Session:      a.poller,
		AuthRequired: cfg.AuthRequired(),
		Defaults: conversation.GenerationConfig{
			OutputType: cfg.OutputType(),
			Style:      cfg.Generation.Style,
			Content:    cfg.Generation.Content,
			Length:     cfg.Generation.Length,
			Density:    cfg.Generation.Density,
		},
		CancelTimeout:  cfg.Generation.CancelTimeout,
		UploadParallel: cfg.Upload.Parallel,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.poller != nil {
		a.poller.Close()
	}
	if a.db != nil {
		db.Close(a.db)
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

// setupLogging points the standard logger at the rotating log file, or at
// fallback when none is configured. The returned func restores stderr.
func setupLogging(lc config.LogConfig, fallback io.Writer) func() {
	if lc.File == "" {
		if fallback == nil {
			fallback = io.Discard
		}
		log.SetOutput(fallback)
		return func() { log.SetOutput(defaultLogOutput) }
	}
	fileLogger := &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		Compress:   true,
	}
	log.SetOutput(fileLogger)
	return func() {
		log.SetOutput(defaultLogOutput)
		fileLogger.Close()
	}
}
