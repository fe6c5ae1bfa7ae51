// Package api exposes the compiler, the machine and the image store over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"wirebus/pkg/asm"
	"wirebus/pkg/codec"
	"wirebus/pkg/cpu"
	"wirebus/pkg/devices"
	"wirebus/pkg/isa"
	"wirebus/pkg/peripherals"
	"wirebus/pkg/store"
)

// DefaultMaxSteps bounds runs when ServerConfig.MaxSteps is unset.
const DefaultMaxSteps = 1_000_000

type ServerConfig struct {
	ListenerAddr string
	Logger       *zap.Logger
	MaxSteps     int
	StackDepth   int
	// Ports are mounted on a fresh bus for every run.
	Ports []peripherals.Config
}

type Server struct {
	ServerConfig
	store *store.Store
	echo  *echo.Echo

	logger *zap.Logger
}

// NewServer builds a server. st may be nil, in which case the image routes
// are not registered and traces are only kept for the response.
func NewServer(config ServerConfig, st *store.Store) (*Server, error) {
	if config.Logger == nil {
		config.Logger = zap.L()
	}
	if config.MaxSteps == 0 {
		config.MaxSteps = DefaultMaxSteps
	}
	s := &Server{
		ServerConfig: config,
		store:        st,
		logger:       config.Logger.Named("api"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.POST("/compile", s.handleCompile)
	e.POST("/run", s.handleRun)
	if st != nil {
		e.GET("/images", s.handleListImages)
		e.PUT("/images/:name", s.handlePutImage)
		e.GET("/images/:name", s.handleGetImage)
		e.DELETE("/images/:name", s.handleDeleteImage)
		e.POST("/images/:name/run", s.handleRunImage)
	}
	s.echo = e
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start() error {
	s.logger.Info("api server starting",
		zap.String("addr", s.ListenerAddr))
	return s.echo.Start(s.ListenerAddr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type compileRequest struct {
	Source string `json:"source"`
	Width  int    `json:"width"`
}

type compileResponse struct {
	Words     []uint64       `json:"words"`
	Width     int            `json:"width"`
	Hex       string         `json:"hex"`
	DataStart int            `json:"data_start"`
	Labels    map[string]int `json:"labels"`
	Vars      []string       `json:"vars"`
	Listing   string         `json:"listing"`
}

type runRequest struct {
	Source string   `json:"source"`
	Hex    string   `json:"hex"`
	Width  int      `json:"width"`
	Params []uint64 `json:"params"`
}

type runResponse struct {
	Result  uint64              `json:"result"`
	RunID   string              `json:"run_id"`
	Steps   int                 `json:"steps"`
	Events  []peripherals.Event `json:"events"`
	Console string              `json:"console,omitempty"`
}

type imageResponse struct {
	store.Image
	Listing string `json:"listing,omitempty"`
}

func (s *Server) handleCompile(ectx echo.Context) error {
	var req compileRequest
	if err := ectx.Bind(&req); err != nil {
		return errorJSON(ectx, http.StatusBadRequest, err)
	}
	p, err := s.build(req.Source, req.Width)
	if err != nil {
		return compileErrorJSON(ectx, err)
	}
	data, err := codec.Encode(p.Image, p.Width)
	if err != nil {
		return errorJSON(ectx, http.StatusBadRequest, err)
	}
	return ectx.JSON(http.StatusOK, compileResponse{
		Words:     p.Image,
		Width:     int(p.Width),
		Hex:       hex.EncodeToString(data),
		DataStart: p.DataStart,
		Labels:    p.Labels,
		Vars:      p.Vars,
		Listing:   p.Listing(),
	})
}

func (s *Server) handleRun(ectx echo.Context) error {
	var req runRequest
	if err := ectx.Bind(&req); err != nil {
		return errorJSON(ectx, http.StatusBadRequest, err)
	}

	var (
		words []uint64
		w     isa.Width
	)
	switch {
	case req.Source != "":
		p, err := s.build(req.Source, req.Width)
		if err != nil {
			return compileErrorJSON(ectx, err)
		}
		words, w = p.Image, p.Width
	case req.Hex != "":
		data, err := hex.DecodeString(req.Hex)
		if err != nil {
			return errorJSON(ectx, http.StatusBadRequest, err)
		}
		words, w, err = codec.DecodeAuto(data)
		if err != nil {
			return errorJSON(ectx, http.StatusBadRequest, err)
		}
	default:
		return errorJSON(ectx, http.StatusBadRequest, errors.New("one of source or hex is required"))
	}
	return s.run(ectx, words, w, req.Params)
}

func (s *Server) handleListImages(ectx echo.Context) error {
	imgs, err := s.store.ListImages()
	if err != nil {
		return errorJSON(ectx, http.StatusInternalServerError, err)
	}
	if imgs == nil {
		imgs = []store.Image{}
	}
	return ectx.JSON(http.StatusOK, imgs)
}

func (s *Server) handlePutImage(ectx echo.Context) error {
	name := ectx.Param("name")
	var req compileRequest
	if err := ectx.Bind(&req); err != nil {
		return errorJSON(ectx, http.StatusBadRequest, err)
	}
	p, err := s.build(req.Source, req.Width)
	if err != nil {
		return compileErrorJSON(ectx, err)
	}
	if err := s.store.PutImage(name, p.Image, p.Width); err != nil {
		return storeErrorJSON(ectx, err)
	}
	img, err := s.store.GetImage(name)
	if err != nil {
		return storeErrorJSON(ectx, err)
	}
	s.logger.Info("stored image", zap.String("name", name), zap.Int("words", len(p.Image)))
	return ectx.JSON(http.StatusCreated, imageResponse{Image: *img, Listing: p.Listing()})
}

func (s *Server) handleGetImage(ectx echo.Context) error {
	img, err := s.store.GetImage(ectx.Param("name"))
	if err != nil {
		return storeErrorJSON(ectx, err)
	}
	lines := asm.Disassemble(img.Words, len(img.Words))
	return ectx.JSON(http.StatusOK, imageResponse{Image: *img, Listing: asm.Format(lines)})
}

func (s *Server) handleDeleteImage(ectx echo.Context) error {
	if err := s.store.DeleteImage(ectx.Param("name")); err != nil {
		return storeErrorJSON(ectx, err)
	}
	return ectx.NoContent(http.StatusNoContent)
}

func (s *Server) handleRunImage(ectx echo.Context) error {
	var req runRequest
	if err := ectx.Bind(&req); err != nil {
		return errorJSON(ectx, http.StatusBadRequest, err)
	}
	img, err := s.store.GetImage(ectx.Param("name"))
	if err != nil {
		return storeErrorJSON(ectx, err)
	}
	return s.run(ectx, img.Words, img.Width, req.Params)
}

func (s *Server) build(source string, width int) (*asm.Program, error) {
	if width == 0 {
		width = int(isa.Width8)
	}
	return asm.Build(source, asm.WithWidth(isa.Width(width)), asm.WithLogger(s.logger))
}

// run executes words on a fresh machine and bus. Runtime faults are 422.
func (s *Server) run(ectx echo.Context, words []uint64, w isa.Width, params []uint64) error {
	runID := uuid.NewString()

	var sink peripherals.EventSink = &peripherals.EventLog{}
	if s.store != nil {
		sink = s.store
	}
	var console bytes.Buffer
	cfgs := make([]peripherals.Config, len(s.Ports))
	for i, c := range s.Ports {
		c.Writer = &console
		cfgs[i] = c
	}
	bus := devices.NewBus(devices.WithLogger(s.logger))
	if _, err := peripherals.Mount(bus, cfgs, sink, runID); err != nil {
		return errorJSON(ectx, http.StatusInternalServerError, err)
	}

	c := cpu.NewCPU(words,
		cpu.WithDevice(bus),
		cpu.WithWidth(w),
		cpu.WithMaxSteps(s.MaxSteps),
		cpu.WithStackDepth(s.StackDepth),
		cpu.WithRunID(runID),
		cpu.WithLogger(s.logger),
	)
	result, err := c.Run(ectx.Request().Context(), params...)
	if err != nil {
		var f *cpu.Fault
		if errors.As(err, &f) {
			return ectx.JSON(http.StatusUnprocessableEntity, map[string]any{
				"error":  err.Error(),
				"kind":   f.Kind.String(),
				"ip":     f.IP,
				"run_id": runID,
			})
		}
		return errorJSON(ectx, http.StatusInternalServerError, err)
	}

	events, err := s.events(sink, runID)
	if err != nil {
		return errorJSON(ectx, http.StatusInternalServerError, err)
	}
	return ectx.JSON(http.StatusOK, runResponse{
		Result:  result,
		RunID:   runID,
		Steps:   c.Steps,
		Events:  events,
		Console: console.String(),
	})
}

func (s *Server) events(sink peripherals.EventSink, runID string) ([]peripherals.Event, error) {
	var (
		events []peripherals.Event
		err    error
	)
	switch sk := sink.(type) {
	case *store.Store:
		events, err = sk.Events(runID)
	case *peripherals.EventLog:
		events = sk.Events()
	}
	if events == nil {
		events = []peripherals.Event{}
	}
	return events, err
}

func errorJSON(ectx echo.Context, status int, err error) error {
	return ectx.JSON(status,
		map[string]any{
			"error": err.Error(),
		})
}

func compileErrorJSON(ectx echo.Context, err error) error {
	body := map[string]any{"error": err.Error()}
	var cerr *asm.CompileError
	if errors.As(err, &cerr) {
		body["line"] = cerr.Line
	}
	return ectx.JSON(http.StatusBadRequest, body)
}

func storeErrorJSON(ectx echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrImageNotFound):
		return errorJSON(ectx, http.StatusNotFound, err)
	case errors.Is(err, store.ErrInvalidName):
		return errorJSON(ectx, http.StatusBadRequest, err)
	case errors.Is(err, codec.ErrTooLong), errors.Is(err, codec.ErrValueTooLarge):
		return errorJSON(ectx, http.StatusBadRequest, err)
	}
	return errorJSON(ectx, http.StatusInternalServerError, err)
}
