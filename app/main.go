package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"github.com/sashabaranov/go-openai"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/commentguard/comment-guard/app/storage"
	"github.com/commentguard/comment-guard/app/storage/engine"
	"github.com/commentguard/comment-guard/app/webapi"
	"github.com/commentguard/comment-guard/lib/comment"
	"github.com/commentguard/comment-guard/lib/validator"
	"github.com/commentguard/comment-guard/lib/validator/lua"
)

type options struct {
	Server struct {
		Listen     string `long:"listen" env:"LISTEN" default:":8080" description:"listen address"`
		AuthPasswd string `long:"auth-passwd" env:"AUTH_PASSWD" description:"basic auth password for admin user, disabled if empty"`
	} `group:"server" namespace:"server" env-namespace:"SERVER"`

	DB struct {
		Type     string `long:"type" env:"TYPE" default:"sqlite" choice:"sqlite" choice:"postgres" description:"database type"`
		File     string `long:"file" env:"FILE" default:"comment-guard.db" description:"sqlite database file"`
		Postgres string `long:"postgres" env:"POSTGRES" description:"postgres connection string"`
	} `group:"db" namespace:"db" env-namespace:"DB"`

	Validators      []string      `long:"validator" env:"VALIDATOR" env-delim:"," description:"validators to run, defaults to the builtin chain"`
	PublicThreshold float64       `long:"public-threshold" env:"PUBLIC_THRESHOLD" default:"0.1" description:"score above which a comment is hidden"`
	RejectThreshold float64       `long:"reject-threshold" env:"REJECT_THRESHOLD" default:"0.9" description:"score above which a comment is rejected"`
	StoreTimeout    time.Duration `long:"store-timeout" env:"STORE_TIMEOUT" default:"5s" description:"timeout for store operations, 0 to disable"`

	Blacklists struct {
		Dir   string `long:"dir" env:"DIR" description:"directory with blacklist files, uses the database when empty"`
		Watch bool   `long:"watch" env:"WATCH" description:"reload blacklist files on change"`
	} `group:"blacklists" namespace:"blacklists" env-namespace:"BLACKLISTS"`

	IPCache struct {
		Size int           `long:"size" env:"SIZE" default:"10000" description:"max cached banned ip lookups"`
		TTL  time.Duration `long:"ttl" env:"TTL" default:"5m" description:"cached lookup ttl"`
	} `group:"ipcache" namespace:"ipcache" env-namespace:"IPCACHE"`

	Akismet struct {
		Key     string        `long:"key" env:"KEY" description:"akismet api key, disabled if not set"`
		Blog    string        `long:"blog" env:"BLOG" description:"blog url registered with akismet"`
		Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"akismet http timeout"`
		Retries int           `long:"retries" env:"RETRIES" default:"3" description:"akismet request retries"`
	} `group:"akismet" namespace:"akismet" env-namespace:"AKISMET"`

	OpenAI struct {
		Token             string `long:"token" env:"TOKEN" description:"openai token, disabled if not set"`
		Prompt            string `long:"prompt" env:"PROMPT" default:"" description:"openai system prompt, if empty uses builtin default"`
		Model             string `long:"model" env:"MODEL" default:"gpt-4o-mini" description:"openai model"`
		MaxTokensResponse int    `long:"max-tokens-response" env:"MAX_TOKENS_RESPONSE" default:"1024" description:"openai max tokens in response"`
		MaxTokensRequest  int    `long:"max-tokens-request" env:"MAX_TOKENS_REQUEST" default:"2048" description:"openai max tokens in request"`
		MaxSymbolsRequest int    `long:"max-symbols-request" env:"MAX_SYMBOLS_REQUEST" default:"16000" description:"openai max symbols in request, failback if tokenizer failed"`
	} `group:"openai" namespace:"openai" env-namespace:"OPENAI"`

	Lua struct {
		PluginsDir string `long:"plugins-dir" env:"PLUGINS_DIR" description:"directory with lua validator scripts, disabled if not set"`
	} `group:"lua" namespace:"lua" env-namespace:"LUA"`

	Logger struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable rotated decision log"`
		FileName   string `long:"file" env:"FILE" default:"comment-guard.log" description:"location of decision log"`
		MaxSize    string `long:"max-size" env:"MAX_SIZE" default:"100M" description:"maximum size before it gets rotated"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"maximum number of old log files to retain"`
	} `group:"logger" namespace:"logger" env-namespace:"LOGGER"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "local"

func main() {
	fmt.Printf("comment-guard %s\n", revision)
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) || flagsErr.Type != flags.ErrHelp {
			log.Printf("[ERROR] cli error: %v", err)
		}
		os.Exit(2)
	}

	setupLog(opts.Dbg, opts.Akismet.Key, opts.OpenAI.Token)
	log.Printf("[DEBUG] options: %+v", opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := execute(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, opts options) error {
	db, err := makeDB(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to make database: %w", err)
	}
	defer db.Close()

	bannedIPs, err := storage.NewBannedIPs(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to make banned ips store: %w", err)
	}
	cachedIPs := storage.NewCachedBannedIPs(bannedIPs, opts.IPCache.Size, opts.IPCache.TTL)

	comments, err := storage.NewComments(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to make comments store: %w", err)
	}

	blacklists, err := makeBlacklists(ctx, opts, db)
	if err != nil {
		return fmt.Errorf("failed to make blacklists store: %w", err)
	}

	detector, err := makeDetector(opts, blacklists, cachedIPs, comments)
	if err != nil {
		return fmt.Errorf("failed to make detector: %w", err)
	}
	log.Printf("[INFO] detector created with validators: %v", detector.Names())

	auditWr, err := makeAuditLogWriter(opts)
	if err != nil {
		return fmt.Errorf("failed to make audit log: %w", err)
	}
	defer auditWr.Close()

	srv := webapi.NewServer(webapi.Config{
		Version:    revision,
		ListenAddr: opts.Server.Listen,
		AuthPasswd: opts.Server.AuthPasswd,
		Detector:   &auditedDetector{detector: detector, wr: auditWr},
		Blacklists: blacklists,
		BannedIPs:  cachedIPs,
		Comments:   comments,
	})
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("webapi server failed: %w", err)
	}
	return nil
}

func makeDB(ctx context.Context, opts options) (*engine.SQL, error) {
	switch opts.DB.Type {
	case "postgres":
		if opts.DB.Postgres == "" {
			return nil, errors.New("postgres connection string is required")
		}
		return engine.NewPostgres(ctx, opts.DB.Postgres)
	default:
		return engine.NewSqlite(opts.DB.File)
	}
}

// makeBlacklists picks the blacklist source, file based lists take over
// the database store when a directory is set.
func makeBlacklists(ctx context.Context, opts options, db *engine.SQL) (webapi.BlacklistStore, error) {
	if opts.Blacklists.Dir == "" {
		return storage.NewBlacklists(ctx, db)
	}

	files, err := storage.NewFileBlacklists(opts.Blacklists.Dir)
	if err != nil {
		return nil, err
	}
	if opts.Blacklists.Watch {
		go func() {
			if err := files.Watch(ctx); err != nil {
				log.Printf("[WARN] blacklist watcher failed: %v", err)
			}
		}()
	}
	log.Printf("[INFO] file blacklists loaded from %s, watch: %v", opts.Blacklists.Dir, opts.Blacklists.Watch)
	return &readOnlyBlacklists{files}, nil
}

// readOnlyBlacklists serves file based lists, mutations are rejected
// because the files are the source of truth.
type readOnlyBlacklists struct {
	*storage.FileBlacklists
}

func (readOnlyBlacklists) Create(context.Context, string, float64) error {
	return errors.New("file blacklists are read-only")
}
func (readOnlyBlacklists) SetWeight(context.Context, string, float64) error {
	return errors.New("file blacklists are read-only")
}
func (readOnlyBlacklists) AddPhrases(context.Context, string, ...string) error {
	return errors.New("file blacklists are read-only")
}
func (readOnlyBlacklists) DeletePhrase(context.Context, string, string) error {
	return errors.New("file blacklists are read-only")
}
func (readOnlyBlacklists) Delete(context.Context, string) error {
	return errors.New("file blacklists are read-only")
}

func makeDetector(opts options, blacklists validator.BlacklistStore, bannedIPs validator.BannedIPStore,
	history validator.CommentHistoryStore) (*validator.Detector, error) {

	cfg := validator.Config{
		Validators:      opts.Validators,
		PublicThreshold: opts.PublicThreshold,
		RejectThreshold: opts.RejectThreshold,
		StoreTimeout:    opts.StoreTimeout,
	}
	if len(cfg.Validators) == 0 {
		cfg.Validators = append(cfg.Validators, validator.DefaultValidators...)
	}

	var valOpts []validator.Option

	if opts.Akismet.Key != "" {
		valOpts = append(valOpts, validator.WithAkismet(makeHTTPClient(opts.Akismet.Timeout), validator.AkismetConfig{
			APIKey:  opts.Akismet.Key,
			Blog:    opts.Akismet.Blog,
			Retries: opts.Akismet.Retries,
		}))
		cfg.Validators = append(cfg.Validators, "akismet")
		log.Printf("[INFO] akismet validator enabled for %s", opts.Akismet.Blog)
	}

	if opts.OpenAI.Token != "" {
		valOpts = append(valOpts, validator.WithOpenAI(openai.NewClient(opts.OpenAI.Token), validator.OpenAIConfig{
			SystemPrompt:      opts.OpenAI.Prompt,
			Model:             opts.OpenAI.Model,
			MaxTokensResponse: opts.OpenAI.MaxTokensResponse,
			MaxTokensRequest:  opts.OpenAI.MaxTokensRequest,
			MaxSymbolsRequest: opts.OpenAI.MaxSymbolsRequest,
		}))
		cfg.Validators = append(cfg.Validators, "openai")
		log.Printf("[INFO] openai validator enabled with model %s", opts.OpenAI.Model)
	}

	if opts.Lua.PluginsDir != "" {
		checker := lua.NewChecker()
		if err := checker.LoadDirectory(opts.Lua.PluginsDir); err != nil {
			return nil, fmt.Errorf("failed to load lua plugins: %w", err)
		}
		for name, check := range checker.GetAllChecks() {
			valOpts = append(valOpts, validator.WithCheck("lua-"+name, validator.Check(check)))
			cfg.Validators = append(cfg.Validators, "lua-"+name)
			log.Printf("[INFO] lua validator %q enabled", name)
		}
	}

	return validator.New(cfg, blacklists, bannedIPs, history, valOpts...)
}

// auditedDetector wraps the validator engine and writes every decision as a
// json line to the audit writer.
type auditedDetector struct {
	detector *validator.Detector
	wr       io.Writer
}

func (a *auditedDetector) Validate(ctx context.Context, cmt *comment.Comment, req comment.Request) (comment.Result, []comment.CheckResult, error) {
	res, checks, err := a.detector.Validate(ctx, cmt, req)
	if err != nil {
		return res, checks, err
	}
	rec := struct {
		TimeStamp string                `json:"ts"`
		Author    string                `json:"author"`
		IP        string                `json:"ip"`
		Accepted  bool                  `json:"accepted"`
		Public    bool                  `json:"public"`
		Score     float64               `json:"score"`
		Checks    []comment.CheckResult `json:"checks"`
	}{
		TimeStamp: time.Now().In(time.Local).Format(time.RFC3339),
		Author:    cmt.AuthorName,
		IP:        cmt.IPAddress,
		Accepted:  res.Accepted,
		Public:    res.IsPublic,
		Score:     res.Total,
		Checks:    checks,
	}
	line, jerr := json.Marshal(&rec)
	if jerr != nil {
		log.Printf("[WARN] can't marshal audit record, %v", jerr)
		return res, checks, nil
	}
	if _, werr := a.wr.Write(append(line, '\n')); werr != nil {
		log.Printf("[WARN] can't write audit record, %v", werr)
	}
	return res, checks, nil
}

func (a *auditedDetector) Names() []string { return a.detector.Names() }

// makeAuditLogWriter parses options and makes lumberjack writer with rotation
// for the decision log.
func makeAuditLogWriter(opts options) (io.WriteCloser, error) {
	if !opts.Logger.Enabled {
		return nopWriteCloser{io.Discard}, nil
	}

	sizeParse := func(inp string) (uint64, error) {
		if inp == "" {
			return 0, errors.New("empty value")
		}
		for i, sfx := range []string{"k", "m", "g", "t"} {
			if strings.HasSuffix(inp, strings.ToUpper(sfx)) || strings.HasSuffix(inp, strings.ToLower(sfx)) {
				val, err := strconv.Atoi(inp[:len(inp)-1])
				if err != nil {
					return 0, fmt.Errorf("can't parse %s: %w", inp, err)
				}
				return uint64(float64(val) * math.Pow(float64(1024), float64(i+1))), nil
			}
		}
		return strconv.ParseUint(inp, 10, 64)
	}

	maxSize, perr := sizeParse(opts.Logger.MaxSize)
	if perr != nil {
		return nil, fmt.Errorf("can't parse logger MaxSize: %w", perr)
	}
	maxSize /= 1048576

	log.Printf("[INFO] decision log enabled for %s, max size %dM", opts.Logger.FileName, maxSize)
	return &lumberjack.Logger{
		Filename:   opts.Logger.FileName,
		MaxSize:    int(maxSize), // in MB
		MaxBackups: opts.Logger.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func setupLog(dbg bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	var nonEmpty []string
	for _, s := range secrets {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) > 0 {
		logOpts = append(logOpts, lgr.Secret(nonEmpty...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}

// makeHTTPClient makes an http client with the given timeout for external checks.
func makeHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
