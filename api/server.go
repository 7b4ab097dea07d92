// Package api provides the REST control surface of a running engine
package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"go-stepseq/debug"
	"go-stepseq/sequencer"
)

// Server routes HTTP requests to one engine.
type Server struct {
	engine  *sequencer.Engine
	project string
	router  *gin.Engine
}

// NewServer builds the router. project names the folder SaveProject writes
// to when a request does not name one.
func NewServer(e *sequencer.Engine, project string) *Server {
	s := &Server{engine: e, project: project, router: gin.New()}
	s.router.Use(gin.Recovery(), requestLogger())

	s.router.GET("/health", healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.status)
		v1.POST("/transport/:action", s.transport)
		v1.PUT("/transport/tempo", s.setTempo)
		v1.GET("/banks", s.listBanks)
		v1.GET("/banks/:bank", s.getBank)
		v1.POST("/banks/:bank/sequences/:seq/:action", s.sequenceAction)
		v1.GET("/banks/:bank/sequences/:seq/export", s.exportSequence)
		v1.GET("/patterns/:id", s.getPattern)
		v1.POST("/patterns/:id/notes", s.addNote)
		v1.DELETE("/patterns/:id/notes/:step/:pitch", s.removeNote)
		v1.POST("/project/save", s.saveProject)
	}
	return s
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	debug.Log("api", "listening on %s", addr)
	return s.router.Run(addr)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		debug.Log("api", "%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "go-stepseq",
	})
}

func badRequest(c *gin.Context, format string, args ...any) {
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(format, args...)})
}

func notFound(c *gin.Context, format string, args ...any) {
	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf(format, args...)})
}

func (s *Server) status(c *gin.Context) {
	tr := s.engine.Transport()
	pos := tr.Position()
	c.JSON(http.StatusOK, gin.H{
		"stats": s.engine.Stats(),
		"transport": gin.H{
			"rolling":     tr.IsRolling(),
			"tempo":       tr.Tempo(),
			"beatsPerBar": tr.BeatsPerBar(),
			"bar":         pos.Bar,
			"beat":        pos.Beat,
			"tick":        pos.Tick,
			"clockSource": tr.ClockSource().String(),
			"synced":      tr.Synced(),
			"master":      tr.TimebaseMaster(),
			"metronome":   tr.MetronomeEnabled(),
		},
		"modified": s.engine.IsModified(),
		"dropped":  s.engine.Dropped(),
	})
}

func (s *Server) transport(c *gin.Context) {
	tr := s.engine.Transport()
	client := s.engine.Options().Client
	switch action := c.Param("action"); action {
	case "start":
		tr.Start(client)
	case "stop":
		tr.Stop(client)
	case "toggle":
		tr.Toggle(client)
	case "rewind":
		if !tr.Locate(client, 0) {
			c.JSON(http.StatusConflict, gin.H{"error": "timebase held by " + tr.TimebaseMaster()})
			return
		}
	default:
		badRequest(c, "unknown transport action %q", action)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rolling": tr.IsRolling()})
}

type tempoRequest struct {
	Tempo float64 `json:"tempo" binding:"required,gt=0"`
}

func (s *Server) setTempo(c *gin.Context) {
	var req tempoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "%v", err)
		return
	}
	tr := s.engine.Transport()
	tr.SetTempo(req.Tempo)
	c.JSON(http.StatusOK, gin.H{"tempo": tr.Tempo()})
}

type sequenceInfo struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	State       string `json:"state"`
	Mode        string `json:"mode"`
	Group       uint8  `json:"group"`
	Position    uint32 `json:"position"`
	Length      uint32 `json:"length"`
	Tracks      int    `json:"tracks"`
	TriggerNote *uint8 `json:"triggerNote,omitempty"`
}

func describeSequence(i int, seq *sequencer.Sequence) sequenceInfo {
	info := sequenceInfo{
		Index:    i,
		Name:     seq.Name(),
		State:    seq.PlayState().String(),
		Mode:     seq.PlayMode().String(),
		Group:    seq.Group(),
		Position: seq.Position(),
		Length:   seq.Length(),
		Tracks:   seq.TrackCount(),
	}
	if note := seq.TriggerNote(); note != sequencer.NoTrigger {
		info.TriggerNote = &note
	}
	return info
}

func (s *Server) listBanks(c *gin.Context) {
	banks := []gin.H{}
	for _, i := range s.engine.Banks() {
		banks = append(banks, gin.H{"index": i, "sequences": s.engine.SequencesInBank(i)})
	}
	c.JSON(http.StatusOK, gin.H{"banks": banks})
}

func (s *Server) bankParam(c *gin.Context) (*sequencer.Bank, bool) {
	n, err := strconv.ParseUint(c.Param("bank"), 10, 8)
	if err != nil {
		badRequest(c, "bank %q", c.Param("bank"))
		return nil, false
	}
	b := s.engine.Bank(uint8(n))
	if b == nil {
		notFound(c, "bank %d", n)
		return nil, false
	}
	return b, true
}

func (s *Server) sequenceParam(c *gin.Context) (uint8, int, bool) {
	b, ok := s.bankParam(c)
	if !ok {
		return 0, 0, false
	}
	i, err := strconv.Atoi(c.Param("seq"))
	if err != nil {
		badRequest(c, "sequence %q", c.Param("seq"))
		return 0, 0, false
	}
	if b.Sequence(i) == nil {
		notFound(c, "bank %d sequence %d", b.Index(), i)
		return 0, 0, false
	}
	return b.Index(), i, true
}

func (s *Server) getBank(c *gin.Context) {
	b, ok := s.bankParam(c)
	if !ok {
		return
	}
	seqs := []sequenceInfo{}
	for i, seq := range b.Sequences() {
		seqs = append(seqs, describeSequence(i, seq))
	}
	c.JSON(http.StatusOK, gin.H{"index": b.Index(), "sequences": seqs})
}

func (s *Server) sequenceAction(c *gin.Context) {
	bank, i, ok := s.sequenceParam(c)
	if !ok {
		return
	}
	switch action := c.Param("action"); action {
	case "play":
		s.engine.SetPlayState(bank, i, sequencer.Playing)
	case "stop":
		s.engine.SetPlayState(bank, i, sequencer.Stopped)
	case "toggle":
		s.engine.TogglePlayState(bank, i)
	default:
		badRequest(c, "unknown sequence action %q", action)
		return
	}
	c.JSON(http.StatusOK, describeSequence(i, s.engine.Sequence(bank, i)))
}

func (s *Server) exportSequence(c *gin.Context) {
	bank, i, ok := s.sequenceParam(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := s.engine.ExportSMF(bank, i, &buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=bank%d-seq%d.mid", bank, i+1))
	c.Data(http.StatusOK, "audio/midi", buf.Bytes())
}

func (s *Server) patternParam(c *gin.Context) (*sequencer.Pattern, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, "pattern %q", c.Param("id"))
		return nil, false
	}
	p := s.engine.Patterns().Get(uint32(id))
	if p == nil {
		notFound(c, "pattern %d", id)
		return nil, false
	}
	return p, true
}

func (s *Server) getPattern(c *gin.Context) {
	p, ok := s.patternParam(c)
	if !ok {
		return
	}
	info, _ := s.engine.PatternInfo(p.ID())
	c.JSON(http.StatusOK, gin.H{
		"info":     info,
		"notes":    p.Notes(),
		"programs": p.ProgramChanges(),
	})
}

type noteRequest struct {
	Step            uint32  `json:"step"`
	Pitch           uint8   `json:"pitch" binding:"max=127"`
	Velocity        uint8   `json:"velocity" binding:"required,min=1,max=127"`
	Duration        float64 `json:"duration"`
	StutterCount    uint8   `json:"stutterCount"`
	StutterDuration float64 `json:"stutterDuration"`
}

func (s *Server) addNote(c *gin.Context) {
	p, ok := s.patternParam(c)
	if !ok {
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "%v", err)
		return
	}
	if req.Duration == 0 {
		req.Duration = 1
	}
	if !p.AddNote(req.Step, req.Pitch, req.Velocity, req.Duration) {
		badRequest(c, "note %d/%d outside pattern %d", req.Step, req.Pitch, p.ID())
		return
	}
	if req.StutterCount > 0 {
		p.SetStutterCount(req.Step, req.Pitch, req.StutterCount)
	}
	if req.StutterDuration > 0 {
		p.SetStutterDuration(req.Step, req.Pitch, req.StutterDuration)
	}
	n, _ := p.Note(req.Step, req.Pitch)
	c.JSON(http.StatusCreated, n)
}

func (s *Server) removeNote(c *gin.Context) {
	p, ok := s.patternParam(c)
	if !ok {
		return
	}
	step, err1 := strconv.ParseUint(c.Param("step"), 10, 32)
	pitch, err2 := strconv.ParseUint(c.Param("pitch"), 10, 7)
	if err1 != nil || err2 != nil {
		badRequest(c, "note %s/%s", c.Param("step"), c.Param("pitch"))
		return
	}
	if _, ok := p.Note(uint32(step), uint8(pitch)); !ok {
		notFound(c, "note %d/%d", step, pitch)
		return
	}
	p.RemoveNote(uint32(step), uint8(pitch))
	c.Status(http.StatusNoContent)
}

type saveRequest struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

func (s *Server) saveProject(c *gin.Context) {
	var req saveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "%v", err)
			return
		}
	}
	if req.Name == "" {
		req.Name = s.project
	}
	file, err := sequencer.SaveProject(s.engine, req.Name, req.Label)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": req.Name, "file": file})
}
