// Package deliverynote ingests vendor delivery-note spreadsheets from a
// mailbox, extracts shipment records per vendor layout and writes the ones
// newer than each vendor's watermark as JSON for the ERP entry automation.
package deliverynote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/sony/micro-delivery-ingest/mailbox"
	"go.uber.org/zap"
)

const (
	defaultPort           = 8334
	jsonParseErrorMessage = `{"errors":[{"message":"failed to parse response body to json"}]}`
)

// App represents the main application state.
type App struct {
	config      *Config
	logger      *zap.SugaredLogger
	matcher     *Matcher
	store       WatermarkStore
	coordinator *Coordinator
	metrics     *Metrics
}

// ErrorResponse represents the JSON structure for error responses.
type ErrorResponse struct {
	Errors []Error `json:"errors"`
}

// Error represents an error item in a response.
type Error struct {
	Message string  `json:"message"`
	Field   *string `json:"field,omitempty"`
}

// RulesResponse is the body of GET /v1/rules.
type RulesResponse struct {
	Rules []*Rule `json:"rules"`
}

// WatermarksResponse is the body of GET /v1/watermarks.
type WatermarksResponse struct {
	Watermarks map[string]Date `json:"watermarks"`
}

// RunServer polls the mailbox in the background and serves the status
// API.  Only returns when something bad happens.
func RunServer(config *Config) (err error) {
	app, err := newApp(config)
	if err != nil {
		return err
	}
	defer func() {
		err = appendError(err, app.Fini())
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runMonitorLoop(ctx, app)

	server := newServer(app)
	return errors.WithStack(server.ListenAndServe())
}

// RunOnce runs a single poll cycle.
func RunOnce(ctx context.Context, config *Config) (report *CycleReport, err error) {
	app, err := newApp(config)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = appendError(err, app.Fini())
	}()
	return app.coordinator.RunCycle(ctx)
}

// RunBacklog extracts the files already in the named rule's download
// directory.
func RunBacklog(ctx context.Context, config *Config, ruleName string) (report *CycleReport, err error) {
	app, err := newApp(config)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = appendError(err, app.Fini())
	}()
	rule := app.matcher.Rule(ruleName)
	if rule == nil {
		return nil, configErrorf(nil, "no rule named %q", ruleName)
	}
	return app.coordinator.ProcessBacklog(ctx, rule)
}

// createLogger creates a development logger in debug mode and a
// production logger otherwise.
func createLogger(debug bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return logger.Sugar(), nil
}

// newApp creates an App reading mail over IMAP.
func newApp(config *Config) (*App, error) {
	logger, err := createLogger(config.Debug)
	if err != nil {
		return nil, err
	}
	gw := mailbox.NewIMAPGateway(mailbox.IMAPConfig{
		Host:     config.ImapHost,
		Port:     config.ImapPort,
		TLS:      config.ImapTLS,
		User:     config.ImapUser,
		Password: config.ImapPassword,
		Auth:     config.ImapAuth,
		Mailbox:  config.ImapMailbox,
	}, logger)
	return newAppWithGateway(config, logger, gw)
}

// newAppWithGateway loads the rules, opens the watermark store and wires
// the coordinator around gw.
func newAppWithGateway(config *Config, logger *zap.SugaredLogger, gw mailbox.Gateway) (*App, error) {
	rules, err := LoadRules(logger, config.RulesFile)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		r.applyDefaults(config.OutputRoot, config.ArchiveRoot)
	}

	store, err := openWatermarkStore(config, logger)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	matcher := NewMatcher(rules)
	tracker := NewTracker(store, logger)
	handoff := NewHandoff(config.HandoffCommand, logger)

	return &App{
		config:      config,
		logger:      logger,
		matcher:     matcher,
		store:       store,
		coordinator: NewCoordinator(logger, gw, matcher, tracker, handoff, metrics),
		metrics:     metrics,
	}, nil
}

func openWatermarkStore(config *Config, logger *zap.SugaredLogger) (WatermarkStore, error) {
	switch config.WatermarkStore {
	case StoreSQLite:
		return OpenSQLiteWatermarkStore(config.WatermarkPath, logger)
	case StorePostgres:
		return OpenPostgresWatermarkStore(config, logger)
	default:
		return OpenFileWatermarkStore(config.WatermarkPath, logger)
	}
}

// Fini closes the watermark store.
func (app *App) Fini() error {
	return app.store.Close()
}

// newServer creates and configures a new HTTP server.
func newServer(app *App) *http.Server {
	host := app.config.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := app.config.Port
	if port == 0 {
		port = defaultPort
	}

	router := newRouter(app)

	app.logger.Infow("starting server",
		"host", host,
		"port", port)

	return &http.Server{
		Handler:      router,
		Addr:         fmt.Sprintf("%s:%d", host, port),
		WriteTimeout: 10 * time.Minute,
		ReadTimeout:  60 * time.Second,
	}
}

// newRouter creates and configures the HTTP router with all API endpoints.
func newRouter(app *App) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/", app.hHello).Methods("GET")
	router.HandleFunc("/v1/rules", app.hRules).Methods("GET")
	router.HandleFunc("/v1/watermarks", app.hWatermarks).Methods("GET")
	router.HandleFunc("/v1/cycles", app.hCycles).Methods("POST")
	router.Handle("/metrics", app.metrics.Handler()).Methods("GET")
	return router
}

// returnJSON writes a JSON response to the HTTP response writer.
func returnJSON(w http.ResponseWriter, val any) {
	js, err := json.Marshal(val)
	if err != nil {
		http.Error(w, jsonParseErrorMessage, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(js)
	if err != nil {
		http.Error(w, jsonParseErrorMessage, http.StatusInternalServerError)
		return
	}
}

// returnErr writes an error response to the HTTP response writer.
func returnErr(app *App, w http.ResponseWriter, apperr *AppError) {
	app.logger.Errorf("error code: %d error: %s %+v", apperr.Code, apperr.Error(), apperr.Internal)

	res := ErrorResponse{
		Errors: []Error{{
			Message: apperr.Error(),
		}},
	}
	bodybytes, err := json.Marshal(res)
	if err != nil {
		app.logger.Errorf("%+v", errors.WithStack(err))
		http.Error(w, jsonParseErrorMessage, http.StatusInternalServerError)
		return
	}
	http.Error(w, string(bodybytes), apperr.Code)
}

var bearerRegexp = regexp.MustCompile(`Bearer *(.*)`)

func (app *App) checkApikey(r *http.Request) *AppError {
	auth := r.Header["Authorization"]
	if len(auth) == 0 {
		return AppErr(403, "no api key given")
	}

	key := bearerRegexp.ReplaceAllString(auth[0], "$1")
	if slices.Contains(app.config.AppIDs, key) {
		return nil
	}

	return AppErr(403, "unrecognized api key")
}

func (app *App) hHello(w http.ResponseWriter, r *http.Request) {
	returnJSON(w, map[string]string{"version": "1"})
}

func (app *App) hRules(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	returnJSON(w, &RulesResponse{Rules: app.matcher.Rules()})
}

func (app *App) hWatermarks(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	marks, err := app.store.Load(r.Context())
	if err != nil {
		returnErr(app, w, WrapErr(500, err))
		return
	}
	returnJSON(w, &WatermarksResponse{Watermarks: marks})
}

func (app *App) hCycles(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	app.logger.Infow("got cycle request",
		"remote", r.RemoteAddr)

	// a client hanging up must not abort the cycle halfway
	report, err := app.coordinator.RunCycle(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, ErrCycleInProgress):
		returnErr(app, w, WrapErr(http.StatusConflict, err))
		return
	case errors.Is(err, ErrConnection):
		returnErr(app, w, WrapErr(http.StatusBadGateway, err))
		return
	case err != nil:
		returnErr(app, w, WrapErr(http.StatusInternalServerError, err))
		return
	}
	returnJSON(w, report)
}
