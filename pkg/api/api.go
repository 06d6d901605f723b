// Package api exposes the memory store, task ledger, edit grouper and run
// logs over HTTP.
package api

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/jenozu/orchestrator/pkg/edits"
	"github.com/jenozu/orchestrator/pkg/ledger"
	"github.com/jenozu/orchestrator/pkg/memory"
	"github.com/jenozu/orchestrator/pkg/protocol"
	"github.com/jenozu/orchestrator/pkg/runlog"
)

// Config holds the collaborators served by the app. Nil fields fall back to
// a disabled memory backend, an empty ledger, and no run logs.
type Config struct {
	Memory memory.Backend
	Ledger *ledger.Ledger
	LogDir string
	Logger *log.Logger
}

type server struct {
	mem    memory.Backend
	ledger *ledger.Ledger
	logDir string
	logger *log.Logger
}

// New builds the fiber app.
func New(cfg Config) *fiber.App {
	s := &server{mem: cfg.Memory, ledger: cfg.Ledger, logDir: cfg.LogDir, logger: cfg.Logger}
	if s.mem == nil {
		s.mem = memory.Disabled()
	}
	if s.ledger == nil {
		s.ledger = ledger.New()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}

	app := fiber.New()

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "memory": s.mem.Enabled()})
	})

	// ── Memory ────────────────────────────────────────────────────────
	app.Get("/categories", s.categories)
	app.Get("/memory", s.listRecords)
	app.Post("/memory/:category", s.learn)
	app.Get("/memory/:category/search", s.search)
	app.Get("/memory/:category/top", s.top)
	app.Get("/memory/:category/:key", s.getRecord)
	app.Post("/memory/:category/:key/stats", s.updateStats)

	// ── Tasks ─────────────────────────────────────────────────────────
	app.Get("/tasks", s.listTasks)
	app.Post("/tasks", s.registerTask)
	app.Get("/tasks/ready", s.readyTasks)
	app.Get("/tasks/summary", s.taskSummary)
	app.Get("/tasks/:id", s.getTask)
	app.Post("/tasks/:id/start", s.startTask)
	app.Post("/tasks/:id/complete", s.completeTask)
	app.Post("/tasks/:id/fail", s.failTask)

	// ── Edits ─────────────────────────────────────────────────────────
	app.Post("/edits/check", s.checkEdits)

	// ── Run logs ──────────────────────────────────────────────────────
	app.Get("/runs", s.listRuns)
	app.Get("/runs/:id", s.runEvents)

	return app
}

func errorJSON(c fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func queryLimit(c fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return memory.DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid limit")
	}
	return n, nil
}

// ── Memory handlers ──────────────────────────────────────────────────

type learnRequest struct {
	Error    string         `json:"error"`
	Solution string         `json:"solution"`
	Context  map[string]any `json:"context"`
	Success  *bool          `json:"success"`
}

func (s *server) learn(c fiber.Ctx) error {
	if !s.mem.Enabled() {
		return errorJSON(c, 503, "memory disabled")
	}
	var req learnRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorJSON(c, 400, "invalid body")
	}
	if req.Solution == "" {
		return errorJSON(c, 400, "solution is required")
	}
	success := true
	if req.Success != nil {
		success = *req.Success
	}
	key, err := s.mem.Learn(c.Context(), c.Params("category"), req.Error, req.Solution, req.Context, success)
	if err != nil {
		return errorJSON(c, 400, err.Error())
	}
	return c.Status(201).JSON(fiber.Map{"key": key})
}

func (s *server) updateStats(c fiber.Ctx) error {
	var req struct {
		Success bool `json:"success"`
	}
	if err := c.Bind().JSON(&req); err != nil {
		return errorJSON(c, 400, "invalid body")
	}
	if !s.mem.UpdateStatistics(c.Context(), c.Params("category"), c.Params("key"), req.Success) {
		return errorJSON(c, 404, "record not found")
	}
	rec, _ := s.mem.Get(c.Params("category"), c.Params("key"))
	return c.JSON(rec)
}

func (s *server) search(c fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return errorJSON(c, 400, err.Error())
	}
	return c.JSON(s.mem.Search(c.Context(), c.Params("category"), c.Query("q"), limit))
}

func (s *server) top(c fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return errorJSON(c, 400, err.Error())
	}
	return c.JSON(s.mem.TopByEffectiveness(c.Context(), c.Params("category"), limit))
}

func (s *server) getRecord(c fiber.Ctx) error {
	rec, err := memory.Lookup(s.mem, c.Params("category"), c.Params("key"))
	var nf *protocol.RecordNotFoundError
	if errors.As(err, &nf) {
		return errorJSON(c, 404, err.Error())
	}
	if err != nil {
		return errorJSON(c, 500, err.Error())
	}
	return c.JSON(rec)
}

func (s *server) listRecords(c fiber.Ctx) error {
	records := s.mem.Records(c.Query("category"))
	if records == nil {
		records = []memory.Record{}
	}
	return c.JSON(records)
}

func (s *server) categories(c fiber.Ctx) error {
	cats := s.mem.Categories()
	if cats == nil {
		cats = []string{}
	}
	return c.JSON(cats)
}

// ── Task handlers ────────────────────────────────────────────────────

type registerRequest struct {
	ID       string         `json:"id"`
	Deps     []string       `json:"deps"`
	Metadata map[string]any `json:"metadata"`
}

func (s *server) registerTask(c fiber.Ctx) error {
	var req registerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorJSON(c, 400, "invalid body")
	}
	if req.ID == "" {
		return errorJSON(c, 400, "id is required")
	}
	err := s.ledger.Register(req.ID, req.Deps, req.Metadata)
	var dup *ledger.DuplicateTaskError
	if errors.As(err, &dup) {
		return errorJSON(c, 409, err.Error())
	}
	if err != nil {
		return errorJSON(c, 500, err.Error())
	}
	return c.Status(201).JSON(fiber.Map{"id": req.ID})
}

func (s *server) listTasks(c fiber.Ctx) error {
	return c.JSON(s.ledger.Export())
}

func (s *server) readyTasks(c fiber.Ctx) error {
	ready := s.ledger.ReadySet()
	if ready == nil {
		ready = []string{}
	}
	return c.JSON(ready)
}

func (s *server) taskSummary(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"summary": s.ledger.Summary(),
		"blocked": s.ledger.Blocked(),
		"stalled": s.ledger.Stalled(),
		"cycles":  s.ledger.Cycles(),
	})
}

func (s *server) getTask(c fiber.Ctx) error {
	n, ok := s.ledger.Lookup(c.Params("id"))
	if !ok {
		return errorJSON(c, 404, "task not found")
	}
	return c.JSON(n)
}

func (s *server) startTask(c fiber.Ctx) error {
	if !s.ledger.MarkStarted(c.Params("id")) {
		return errorJSON(c, 404, "task not found")
	}
	return c.SendStatus(204)
}

func (s *server) completeTask(c fiber.Ctx) error {
	var outputs map[string]any
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&outputs); err != nil {
			return errorJSON(c, 400, "invalid body")
		}
	}
	if !s.ledger.MarkCompleted(c.Params("id"), outputs) {
		return errorJSON(c, 404, "task not found")
	}
	return c.SendStatus(204)
}

func (s *server) failTask(c fiber.Ctx) error {
	var req struct {
		Error string `json:"error"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return errorJSON(c, 400, "invalid body")
		}
	}
	if !s.ledger.MarkFailed(c.Params("id"), req.Error) {
		return errorJSON(c, 404, "task not found")
	}
	return c.SendStatus(204)
}

// ── Edit handlers ────────────────────────────────────────────────────

func (s *server) checkEdits(c fiber.Ctx) error {
	var proposals []edits.Proposal
	if err := c.Bind().JSON(&proposals); err != nil {
		return errorJSON(c, 400, "invalid body")
	}
	g := edits.NewGrouper()
	g.Add(proposals...)
	conflicting := g.ConflictingFiles()
	if conflicting == nil {
		conflicting = []string{}
	}
	return c.JSON(fiber.Map{
		"conflicts":         g.DetectConflicts(),
		"conflicting_files": conflicting,
		"batch":             g.ToBatchFormat(),
	})
}

// ── Run log handlers ─────────────────────────────────────────────────

func (s *server) listRuns(c fiber.Ctx) error {
	if s.logDir == "" {
		return c.JSON([]runlog.RunInfo{})
	}
	runs, err := runlog.ListRuns(s.logDir)
	if err != nil {
		return errorJSON(c, 500, err.Error())
	}
	if runs == nil {
		runs = []runlog.RunInfo{}
	}
	return c.JSON(runs)
}

func (s *server) runEvents(c fiber.Ctx) error {
	if s.logDir == "" {
		return errorJSON(c, 404, "run logs disabled")
	}
	opts := runlog.QueryOpts{
		Event:  protocol.EventType(c.Query("event")),
		TaskID: c.Query("task"),
		Status: c.Query("status"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errorJSON(c, 400, "invalid limit")
		}
		opts.Limit = n
	}
	events, err := runlog.ReadFile(runlog.Path(s.logDir, c.Params("id")), opts)
	if err != nil {
		s.logger.Printf("api: read run %s: %v", c.Params("id"), err)
		return errorJSON(c, 404, "run not found")
	}
	if events == nil {
		events = []protocol.RunEvent{}
	}
	return c.JSON(events)
}
